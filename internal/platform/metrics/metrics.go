// Package metrics exposes Prometheus counters for order placement and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/productshop/api/internal/services"
)

const namespace = "productshop"

// Registry owns the collectors of one process.
type Registry struct {
	registry *prometheus.Registry

	placements    *prometheus.CounterVec
	compensations prometheus.Counter
	compensated   prometheus.Counter
	transitions   *prometheus.CounterVec
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

var _ services.OrderMetrics = (*Registry)(nil)

// New registers every collector on a fresh registry, plus the Go runtime and process collectors.
func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		placements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "placements_total",
			Help:      "Settled order placements by payment status and reservation failure.",
		}, []string{"status", "failure"}),
		compensations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stock",
			Name:      "compensations_total",
			Help:      "Reservation batches rolled back by compensation.",
		}),
		compensated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stock",
			Name:      "compensated_pools_total",
			Help:      "Stock pools restored by compensation.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "status_transitions_total",
			Help:      "Order status transitions.",
		}, []string{"from", "to"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
	}
	r.registry.MustRegister(
		r.placements, r.compensations, r.compensated, r.transitions, r.requests, r.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Registry) PlacementSettled(status services.PaymentStatus, failure services.ReservationFailure) {
	reason := string(failure)
	if reason == "" {
		reason = "none"
	}
	r.placements.WithLabelValues(string(status), reason).Inc()
}

func (r *Registry) StockCompensated(pools int) {
	r.compensations.Inc()
	r.compensated.Add(float64(pools))
}

func (r *Registry) StatusTransitioned(from, to services.OrderStatus) {
	r.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Middleware records request counts and latency labelled by the matched chi route pattern.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.requests.WithLabelValues(route, req.Method, strconv.Itoa(status)).Inc()
		r.latency.WithLabelValues(route).Observe(float64(time.Since(start).Microseconds()) / 1000)
	})
}
