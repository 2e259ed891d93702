package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gorvnbridge/metrics"
	"gorvnbridge/workers/handlers"
)

func NewRouter(h *handlers.Handlers, m *metrics.Metrics, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(metrics.HTTPMetricsMiddleware(m))

	r.Options("/*", CORSHeaders)

	r.Post("/register", h.Register)

	r.Get("/state", h.State)
	r.Get("/health", h.HealthCheck)

	r.Get("/balance/rvn", h.BalanceRVN)
	r.Get("/balance/eth", h.BalanceETH)

	r.Get("/stats/deadletter", h.DeadLetters)
	r.Get("/stats/processed/{txid}", h.Processed)

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

// RunHTTP serves handler on port until ctx is done, then shuts down gracefully.
func RunHTTP(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	logger = logger.With(slog.String("component", "http"))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("error listening to %s: %w", server.Addr, err)
		}
		close(errCh)
	}()
	logger.Info("HTTP service started", "addr", server.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP service shutdown error: %w", err)
	}
	logger.Info("HTTP service shutdown normal")
	return nil
}

func CORSHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, Origin, X-Requested-With")
}
