// Package metrics holds the Prometheus collectors of the service and adapters
// that plug them into the observer hooks of the other packages.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/pixelmint/pkg/queue"
	"github.com/dmitrymomot/pixelmint/pkg/usage"
	"github.com/dmitrymomot/pixelmint/pkg/webhook"
)

const namespace = "pixelmint"

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	RateLimitFailOpenTotal *prometheus.CounterVec
	UsageConsumedTotal     *prometheus.CounterVec
	UsageDeniedTotal       *prometheus.CounterVec

	WebhookIngestTotal  *prometheus.CounterVec
	WebhookProcessTotal *prometheus.CounterVec

	TasksTotal   *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec

	InferenceDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry along
// with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RateLimitFailOpenTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimiter_fail_open_total",
			Help:      "Requests allowed on assumed zero usage because the usage store was unreachable",
		}, []string{"op", "feature"}),
		UsageConsumedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_consumed_total",
			Help:      "Units of metered usage consumed",
		}, []string{"feature", "tier"}),
		UsageDeniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_denied_total",
			Help:      "Requests denied because the period limit was reached",
		}, []string{"feature", "tier"}),
		WebhookIngestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_ingest_total",
			Help:      "Webhook deliveries by source and outcome",
		}, []string{"source", "outcome"}),
		WebhookProcessTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_process_total",
			Help:      "Processed webhook events by type and outcome",
		}, []string{"source", "type", "outcome"}),
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_tasks_total",
			Help:      "Background tasks by name and final status",
		}, []string{"task", "status"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_task_duration_seconds",
			Help:      "Background task run time in seconds",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		}, []string{"task"}),
		InferenceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Image model call duration in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"operation", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RateLimitFailOpenTotal,
		m.UsageConsumedTotal,
		m.UsageDeniedTotal,
		m.WebhookIngestTotal,
		m.WebhookProcessTotal,
		m.TasksTotal,
		m.TaskDuration,
		m.InferenceDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) FailOpen(op string, f usage.Feature) {
	m.RateLimitFailOpenTotal.WithLabelValues(op, string(f)).Inc()
}

func (m *Metrics) Consumed(f usage.Feature, tier string, n int64) {
	m.UsageConsumedTotal.WithLabelValues(string(f), tier).Add(float64(n))
}

func (m *Metrics) Denied(f usage.Feature, tier string) {
	m.UsageDeniedTotal.WithLabelValues(string(f), tier).Inc()
}

func (m *Metrics) WebhookIngested(source, outcome string) {
	m.WebhookIngestTotal.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) WebhookProcessed(ev webhook.Event, outcome string) {
	m.WebhookProcessTotal.WithLabelValues(ev.Source, ev.Type, outcome).Inc()
}

// TaskObserver adapts the collectors to queue.WithObserver.
func (m *Metrics) TaskObserver() queue.Observer {
	return func(name string, status queue.TaskStatus, elapsed time.Duration) {
		m.TasksTotal.WithLabelValues(name, string(status)).Inc()
		m.TaskDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) Inference(op string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.InferenceDuration.WithLabelValues(op, result).Observe(elapsed.Seconds())
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records request counts and latency labelled by the chi route
// pattern, so path parameters do not blow up label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
