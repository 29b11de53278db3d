package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go2tv.app/beam-remote/internal/admin"
	go2tvadapters "go2tv.app/beam-remote/internal/adapters/go2tv"
	"go2tv.app/beam-remote/internal/buildinfo"
	"go2tv.app/beam-remote/internal/config"
	"go2tv.app/beam-remote/internal/discovery"
	"go2tv.app/beam-remote/internal/dispatch"
	"go2tv.app/beam-remote/internal/domain"
	"go2tv.app/beam-remote/internal/lifecycle"
	"go2tv.app/beam-remote/internal/metrics"
	"go2tv.app/beam-remote/internal/playback"
	"go2tv.app/beam-remote/internal/stream"
)

const shutdownTimeout = 5 * time.Second

type runFlags struct {
	url      string
	clientID string
	device   string
	dryRun   bool
}

func runCmd(opts *rootOptions) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the control server and execute commands",
		Long: `Open the event stream and execute commands until interrupted.

The stream reconnects on its own after network errors, server restarts
and non-2xx responses, waiting 1s, 2s, 4s ... up to 30s between attempts.

Examples:
  beam-remote run --url https://control.example.com/sse/events --client-id X4K7N9P2QR
  beam-remote run --device "Living Room TV"
  beam-remote run --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			flags.apply(cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runRemote(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&flags.url, "url", "", "event stream URL (overrides server.url)")
	cmd.Flags().StringVar(&flags.clientID, "client-id", "", "client identifier (overrides server.client_id)")
	cmd.Flags().StringVar(&flags.device, "device", "", "Chromecast name, id or address (overrides playback.device)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "log commands instead of playing them")

	return cmd
}

func (f runFlags) apply(cfg *config.Config) {
	if f.url != "" {
		cfg.Server.URL = f.url
	}
	if f.clientID != "" {
		cfg.Server.ClientID = f.clientID
	}
	if f.device != "" {
		cfg.Playback.Device = f.device
	}
	if f.dryRun {
		cfg.Playback.Backend = config.BackendLog
	}
}

func runRemote(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stopSignals := lifecycle.NotifyContext(parent)
	defer stopSignals()

	logger := newLogger(cfg.Logging.Level)
	logger.Info(
		"remote_start",
		slog.String("version", buildinfo.Version),
		slog.String("url", cfg.Server.URL),
		slog.String("backend", cfg.Playback.Backend),
		slog.String("log_level", cfg.Logging.Level),
	)

	m := metrics.New(metrics.Config{Namespace: cfg.Metrics.Namespace})
	controller, closeController := newController(ctx, cfg, logger)
	dispatcher := dispatch.New(controller, dispatch.Config{
		Logger:         logger.With(slog.String("component", "dispatch")),
		Metrics:        m,
		CommandTimeout: cfg.Dispatch.CommandTimeout,
	})

	status := admin.NewStatus()
	conn, err := stream.New(stream.Config{
		Endpoint: stream.Endpoint{
			URL:            cfg.Server.URL,
			ClientID:       cfg.Server.ClientID,
			ClientIDParam:  *cfg.Server.ClientIDParam,
			ClientIDHeader: *cfg.Server.ClientIDHeader,
			Headers:        cfg.Server.Headers,
		},
		BaseBackoff:           cfg.Reconnect.BaseBackoff,
		MaxBackoff:            cfg.Reconnect.MaxBackoff,
		ResponseHeaderTimeout: cfg.Reconnect.ResponseHeaderTimeout,
		Logger:                logger.With(slog.String("component", "stream")),
		Metrics:               m,
		OnState:               status.SetState,
	}, dispatcher)
	if err != nil {
		_ = dispatcher.Close(context.Background())
		closeController()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return conn.Run(gctx)
	})
	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr: cfg.Metrics.Listen,
			Handler: admin.NewHandler(admin.Config{
				Version:    buildinfo.Version,
				Status:     status,
				Heartbeats: dispatcher,
				Metrics:    m.Handler(),
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("admin_listen", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Warn("remote_stopping", slog.String("reason", runErr.Error()))
	} else {
		logger.Info("remote_stopping", slog.String("reason", "signal"))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("dispatch_close_timeout", slog.String("error", err.Error()))
	}
	closeController()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// newController builds the configured playback backend and its cleanup.
func newController(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.PlaybackController, func()) {
	playbackLogger := logger.With(slog.String("component", "playback"))
	if cfg.Playback.Backend == config.BackendLog {
		return playback.NewLogOnly(playbackLogger), func() {}
	}

	bundle := go2tvadapters.NewBundle()
	var resolver playback.DeviceResolver
	if cfg.Playback.Address == "" {
		resolver = discovery.NewService(bundle.Discovery, ctx)
	}
	cast := playback.NewChromecast(resolver, bundle.CastFactory, bundle.Launcher, playback.ChromecastConfig{
		Device:           cfg.Playback.Device,
		Address:          cfg.Playback.Address,
		DiscoveryTimeout: cfg.Playback.DiscoveryTimeout,
		RetryAttempts:    cfg.Playback.RetryAttempts,
		Logger:           playbackLogger,
	})
	return cast, func() {
		if err := cast.Close(); err != nil {
			playbackLogger.Warn("cast_close_failed", slog.String("error", err.Error()))
		}
	}
}
