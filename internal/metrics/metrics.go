package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pharmacy_requests"

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	transitions   *prometheus.CounterVec
	candidates    prometheus.Histogram
	notifications *prometheus.CounterVec
	sweepRuns     *prometheus.CounterVec
	sweepAffected *prometheus.CounterVec
	events        *prometheus.CounterVec
}

// New registers all collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "path"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Request lifecycle transitions by event and outcome.",
		}, []string{"event", "outcome"}),
		candidates: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "eligible_pharmacies",
			Help:      "Number of eligible pharmacies computed for new requests.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "push_total",
			Help:      "Push notifications dispatched by result.",
		}, []string{"result"}),
		sweepRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Sweep job runs by job and success.",
		}, []string{"job", "success"}),
		sweepAffected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "records_total",
			Help:      "Records changed by sweep jobs.",
		}, []string{"job"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "total",
			Help:      "Domain events published or consumed, by type and result.",
		}, []string{"type", "result"}),
	}
}

// Handler exposes the registry
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveTransition(event, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) ObserveCandidates(n int) {
	if m == nil {
		return
	}
	m.candidates.Observe(float64(n))
}

func (m *Metrics) ObserveNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSweep(job string, success bool, affected int) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
	if affected > 0 {
		m.sweepAffected.WithLabelValues(job).Add(float64(affected))
	}
}

func (m *Metrics) ObserveEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType, result).Inc()
}

// GinMiddleware records request counts and durations per route
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
