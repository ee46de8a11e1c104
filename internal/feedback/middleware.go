package feedback

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// metricsMiddleware wraps the /metrics and /ready endpoints with HTTP
// request instrumentation. There is no per-route label set here (this
// server exposes a few fixed endpoints), so the counters are keyed by
// path and status only.
func metricsMiddleware(requestsTotal func(path string, status int), next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		requestsTotal(r.URL.Path, sw.status)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(b)
}

// timeoutMiddleware bounds how long a scrape or readiness probe may run.
func timeoutMiddleware(timeout time.Duration, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		done := make(chan struct{})
		tw := &timeoutWriter{ResponseWriter: w}
		go func() {
			next.ServeHTTP(tw, r.WithContext(ctx))
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			if !tw.written {
				slog.Warn("request timed out", "method", r.Method, "path", r.URL.Path, "timeout", timeout)
				http.Error(w, `{"error":"request timeout"}`, http.StatusGatewayTimeout)
			}
		}
	})
}

type timeoutWriter struct {
	http.ResponseWriter
	written bool
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.written = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.written = true
	return tw.ResponseWriter.Write(b)
}

func requestCounter(m *Metrics) func(path string, status int) {
	return func(path string, status int) {
		m.HTTPRequestsTotal.WithLabelValues(path, strconv.Itoa(status)).Inc()
	}
}
