package gateway

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Observability carries the gateway's request metrics.
type Observability struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewObservability registers the gateway metrics on the supplied registerer.
func NewObservability(reg prometheus.Registerer) *Observability {
	obs := &Observability{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "strapt",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "strapt",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	if reg != nil {
		reg.MustRegister(obs.requests, obs.latency)
	}
	return obs
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware logs every request with a generated request id and records
// metrics labeled by the matched route pattern.
func (o *Observability) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := uuid.NewString()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			w.Header().Set("X-Request-Id", requestID)
			next.ServeHTTP(recorder, r)
			elapsed := time.Since(start)
			// The route pattern is only known after the router has matched,
			// so it is read once the handler returns.
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			if o != nil {
				o.requests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
				o.latency.WithLabelValues(route).Observe(elapsed.Seconds())
			}
			if logger != nil {
				logger.Info("request",
					slog.String("requestId", requestID),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", recorder.status),
					slog.Duration("elapsed", elapsed),
				)
			}
		})
	}
}

// RateLimit applies a shared token bucket across the wrapped routes.
func RateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil && !limiter.Allow() {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
