package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const workerShutdownTimeout = 5 * time.Second

// WorkerHandler exposes a worker's gatherer on /metrics plus a bare liveness
// check on /healthz. The API binary mounts /metrics on its own router instead.
func WorkerHandler(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

// ServeWorker serves WorkerHandler on addr until ctx is cancelled. A blank
// addr disables the listener and returns immediately.
func ServeWorker(ctx context.Context, addr string, gatherer prometheus.Gatherer, logg *logger.Logger) error {
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: WorkerHandler(gatherer), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), workerShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logg.Info(logg.WithField(ctx, "addr", ln.Addr().String()), "worker metrics listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
