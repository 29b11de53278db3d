package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"go2tv.app/beam-remote/internal/config"
)

const appName = "beam-remote"

type rootOptions struct {
	configPath string
}

func main() {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Execute remote playback commands pushed over an event stream",
		Long: `beam-remote keeps a server-sent event stream open to a control server
and executes the commands it pushes: YouTube videos open on this host,
stream URLs are cast to a Chromecast on the local network.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "path to the YAML config file")

	rootCmd.AddCommand(
		runCmd(opts),
		devicesCmd(opts),
		selfTestCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, which must exist only when --config was
// given explicitly.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	return config.Load(opts.configPath, cmd.Flags().Changed("config"))
}

func newLogger(level string) *slog.Logger {
	logLevel, ok := config.ParseLogLevel(level)
	if !ok {
		fmt.Fprintf(os.Stderr, "invalid log level %q; defaulting to info\n", level)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}
