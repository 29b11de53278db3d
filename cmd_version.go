package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"go2tv.app/beam-remote/internal/buildinfo"
)

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				fmt.Println(buildinfo.Version)
				return
			}
			fmt.Printf("%s %s (%s, %s/%s)\n", appName, buildinfo.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "print only the version number")

	return cmd
}
