package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/curatord/internal/http"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the curatord HTTP daemon",
		Long: `Start the HTTP API. Sessions run until they complete, fail, are
cancelled, or the daemon shuts down.

Examples:
  # Start with defaults (127.0.0.1:8420)
  curatord serve

  # Use a different port
  CURATORD_SERVER_PORT=9000 curatord serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{watch: true})
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a)
		},
	}
}

// serve runs the HTTP server until ctx is cancelled, then shuts it down
// within the configured timeout.
func serve(ctx context.Context, a *app) error {
	zl := a.logger.Underlying()
	srv, err := httpserver.NewServer(httpserver.Deps{
		Sessions:  a.orch,
		History:   a.store,
		Autonomy:  a.loader,
		Templates: a.catalog,
		Bus:       a.bus,
		Telemetry: a.telemetry,
	}, zl.Named("http"), &httpserver.Config{
		Host:      a.cfg.Server.Host,
		Port:      a.cfg.Server.Port,
		Heartbeat: a.cfg.Server.Heartbeat.Duration(),
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	a.logger.Info(ctx, "starting curatord",
		zap.String("addr", a.cfg.Server.Addr()),
		zap.String("llm_provider", a.cfg.LLM.Provider),
		zap.Strings("intents", a.catalog.Intents()),
		zap.Bool("nats", a.nc != nil),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	a.logger.Info(shutdownCtx, "server shutdown complete")
	return nil
}
