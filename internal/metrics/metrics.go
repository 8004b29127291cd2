package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shoshin_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shoshin_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 15},
		},
		[]string{"method", "route"},
	)

	// AIRequests counts calls to the AI collaborator by operation and result.
	AIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shoshin_ai_requests_total",
			Help: "Total number of AI collaborator calls",
		},
		[]string{"operation", "result"},
	)

	// SubmissionEvents counts submission lifecycle events.
	SubmissionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shoshin_submission_events_total",
			Help: "Submission lifecycle events",
		},
		[]string{"event"},
	)
)

var registerOnce sync.Once

// Init registers the collectors with the default registry.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestCounter, RequestDuration, AIRequests, SubmissionEvents)
	})
}

// ObserveAI records the result of one AI call.
func ObserveAI(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	AIRequests.WithLabelValues(operation, result).Inc()
}

// Middleware records request counts and durations per route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RequestCounter.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
