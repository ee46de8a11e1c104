package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StartServer serves /metrics (Prometheus scrape), /live, and /ready on
// port, wrapped in the timeout and request-counting middleware of
// middleware.go. The returned shutdown func stops the listener; callers
// invoke it during the master's shutdown sequence alongside the worker
// end-tag drain.
func StartServer(port int, m *Metrics, health *HealthChecker) (shutdown func(context.Context) error) {
	mux := http.NewServeMux()
	count := requestCounter(m)

	mux.Handle("/metrics", timeoutMiddleware(5*time.Second, metricsMiddleware(count, Handler())))
	mux.Handle("/live", timeoutMiddleware(2*time.Second, metricsMiddleware(count, health.LiveHandler())))
	mux.Handle("/ready", timeoutMiddleware(5*time.Second, metricsMiddleware(count, health.ReadyHandler())))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("feedback server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("feedback server error", "error", err)
		}
	}()

	return server.Shutdown
}
