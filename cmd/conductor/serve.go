package main

import (
	"context"

	"github.com/spf13/cobra"

	"conductor/internal/app/di"
	serverhttp "conductor/internal/delivery/server/http"
	"conductor/internal/shared/logging"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API, trace streams and scheduled directives",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			container, err := di.Build(cfg, di.Options{})
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()
			container.Start(ctx)

			logger := logging.NewComponentLogger("server")
			for name, reason := range container.Degraded.Map() {
				logger.Warn("degraded component %s: %s", name, reason)
			}
			handler := serverhttp.NewRouter(serverhttp.RouterDeps{
				Runs:     container.Runs,
				Trace:    container.Trace,
				Ledger:   container.Ledger,
				Bandit:   container.Bandit,
				Metrics:  container.Metrics.Handler(),
				Degraded: container.Degraded.Map,
			}, logger)

			serveErr := serverhttp.Serve(ctx, cfg.Server.Addr, handler, logger)
			cancel()
			if err := container.Shutdown(context.Background()); err != nil {
				logger.Warn("shutdown: %v", err)
			}
			return serveErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
