package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	go2tvadapters "go2tv.app/beam-remote/internal/adapters/go2tv"
	"go2tv.app/beam-remote/internal/discovery"
	"go2tv.app/beam-remote/internal/lifecycle"
)

func devicesCmd(opts *rootOptions) *cobra.Command {
	var (
		timeout            time.Duration
		includeUnreachable bool
		asJSON             bool
	)

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List cast targets on the local network",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if timeout <= 0 {
				timeout = cfg.Playback.DiscoveryTimeout
			}

			ctx, stop := lifecycle.NotifyContext(cmd.Context())
			defer stop()

			svc := discovery.NewService(go2tvadapters.NewBundle().Discovery, ctx)
			found, err := svc.ListDevices(ctx, timeout, includeUnreachable)
			if err != nil {
				return err
			}

			if asJSON {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(found)
			}
			if len(found) == 0 {
				fmt.Println("no devices found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPROTOCOL\tADDRESS")
			for _, dev := range found {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", dev.ID, dev.Name, dev.Protocol, dev.Address)
			}
			return w.Flush()
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "discovery timeout (default playback.discovery_timeout)")
	cmd.Flags().BoolVar(&includeUnreachable, "all", false, "include devices that do not answer a TCP dial")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}
