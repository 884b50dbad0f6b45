// Package http exposes runs, trace streams and selector state over HTTP.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"conductor/internal/app/runs"
	"conductor/internal/domain/selector"
	"conductor/internal/domain/trace"
	"conductor/internal/domain/usage"
	"conductor/internal/shared/logging"
)

// Subscriber is the live side of the trace sink.
type Subscriber interface {
	Subscribe(name string) (<-chan trace.Event, func())
}

// RouterDeps are the services routes read from.
type RouterDeps struct {
	Runs     *runs.Service
	Trace    Subscriber
	Ledger   *usage.Ledger
	Bandit   *selector.Bandit
	Metrics  http.Handler
	Degraded func() map[string]string
}

// NewRouter builds the HTTP handler tree.
func NewRouter(deps RouterDeps, logger logging.Logger) http.Handler {
	logger = logging.OrNop(logger)
	api := &APIHandler{deps: deps, logger: logger}
	streams := newStreamHandler(deps.Runs, deps.Trace, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", api.HandleHealth)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}
	mux.HandleFunc("POST /api/directives", api.HandleSubmitDirective)
	mux.HandleFunc("GET /api/runs", api.HandleListRuns)
	mux.HandleFunc("GET /api/runs/{run_id}", api.HandleGetRun)
	mux.HandleFunc("POST /api/runs/{run_id}/cancel", api.HandleCancelRun)
	mux.HandleFunc("GET /api/runs/{run_id}/events", streams.HandleRunEvents)
	mux.HandleFunc("GET /api/trace/ws", streams.HandleTraceSocket)
	mux.HandleFunc("GET /api/usage", api.HandleUsage)
	mux.HandleFunc("GET /api/arms", api.HandleArms)

	return LoggingMiddleware(logger)(mux)
}

// Serve runs handler on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger logging.Logger) error {
	logger = logging.OrNop(logger)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	}
}
