package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	go2tvadapters "go2tv.app/beam-remote/internal/adapters/go2tv"
	"go2tv.app/beam-remote/internal/buildinfo"
	"go2tv.app/beam-remote/internal/diagnostics"
)

type selfTestOutput struct {
	Client struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"client"`
	Go2TVAdapters struct {
		DiscoveryWired bool `json:"discovery_wired"`
		CastWired      bool `json:"cast_wired"`
		LauncherWired  bool `json:"launcher_wired"`
	} `json:"go2tv_adapters"`
	Dependencies diagnostics.DependencyReport `json:"dependencies"`
}

func selfTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "self-test",
		Short: "Report adapter wiring and host prerequisites as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			bundle := go2tvadapters.NewBundle()

			var out selfTestOutput
			out.Client.Name = appName
			out.Client.Version = buildinfo.Version
			out.Go2TVAdapters.DiscoveryWired = bundle.Discovery != nil
			out.Go2TVAdapters.CastWired = bundle.CastFactory != nil
			out.Go2TVAdapters.LauncherWired = bundle.Launcher != nil
			out.Dependencies = diagnostics.DetectDependencies()

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(out)
		},
	}
}
