// Package metrics exposes prometheus counters for auth events and HTTP
// traffic.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	auth "github.com/goliatone/go-auth-service"
)

// DefaultNamespace prefixes every metric name
const DefaultNamespace = "auth"

// NewRegistry returns a registry preloaded with the go and process
// collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ActivityCollector counts auth activity events by type
type ActivityCollector struct {
	events *prometheus.CounterVec
}

var _ auth.ActivitySink = (*ActivityCollector)(nil)

func NewActivityCollector(reg prometheus.Registerer, namespace string) *ActivityCollector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of auth activity events",
		},
		[]string{"event"},
	)
	reg.MustRegister(events)

	// expose every known event at zero
	for _, eventType := range auth.ActivityEventTypes() {
		events.WithLabelValues(string(eventType))
	}

	return &ActivityCollector{events: events}
}

// Record implements auth.ActivitySink
func (c *ActivityCollector) Record(_ context.Context, event auth.ActivityEvent) error {
	c.events.WithLabelValues(string(event.EventType)).Inc()
	return nil
}

// HTTPMetrics records request counts and latency per route
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

func NewHTTPMetrics(reg prometheus.Registerer, namespace string) *HTTPMetrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being served",
			},
		),
	}
	reg.MustRegister(m.requests, m.duration, m.inFlight)

	return m
}

// Middleware records metrics for every request. errorHandler renders
// errors before the status is read, pass the app error handler.
func (m *HTTPMetrics) Middleware(errorHandler fiber.ErrorHandler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		m.inFlight.Inc()
		defer m.inFlight.Dec()

		err := c.Next()
		if err != nil && errorHandler != nil {
			if herr := errorHandler(c, err); herr != nil {
				return herr
			}
			err = nil
		}

		path := "unknown"
		if route := c.Route(); route != nil && route.Path != "" {
			path = route.Path
		}

		status := strconv.Itoa(c.Response().StatusCode())
		method := c.Method()

		m.requests.WithLabelValues(method, path, status).Inc()
		m.duration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())

		return err
	}
}

// Handler serves the metrics of gatherer in the prometheus text format
func Handler(gatherer prometheus.Gatherer) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
