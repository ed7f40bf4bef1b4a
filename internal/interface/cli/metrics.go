package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/neilberkman/chatsync/internal/core/app"
)

// serveMetrics exposes Prometheus metrics on addr until the returned stop
// function is called. An empty addr serves nothing.
func serveMetrics(addr string, a *app.App) (stop func()) {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
	a.Logger.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
