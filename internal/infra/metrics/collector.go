// Package metrics exposes federation counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"octo/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const DefaultNamespace = "octo"

// Collector implements usecase.Metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	eventsPublished *prometheus.CounterVec
	eventsPolled    prometheus.Counter
	eventsConfirmed prometheus.Counter
	webhookAttempts *prometheus.CounterVec
	intakeReceived  *prometheus.CounterVec
	policyRejected  *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		eventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Queued event rows by event type",
		}, []string{"event_type"}),
		eventsPolled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_polled_total",
			Help:      "Event rows handed to polling peers",
		}),
		eventsConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_confirmed_total",
			Help:      "Event confirmations recorded",
		}),
		webhookAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_attempts_total",
			Help:      "Webhook push attempts by outcome",
		}, []string{"outcome"}),
		intakeReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intake_received_total",
			Help:      "Inbound events by event type and outcome",
		}, []string{"event_type", "outcome"}),
		policyRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_rejections_total",
			Help:      "Envelopes rejected by the trust policy",
		}, []string{"reason"}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		logger: logger.With(zap.String("component", "metrics")),
	}
}

func (c *Collector) EventsPublished(eventType domain.EventType, n int) {
	c.eventsPublished.WithLabelValues(string(eventType)).Add(float64(n))
}

func (c *Collector) EventsPolled(n int) {
	c.eventsPolled.Add(float64(n))
}

func (c *Collector) EventsConfirmed(n int) {
	c.eventsConfirmed.Add(float64(n))
}

func (c *Collector) WebhookAttempt(outcome string) {
	c.webhookAttempts.WithLabelValues(outcome).Inc()
}

func (c *Collector) IntakeReceived(eventType domain.EventType, outcome string) {
	c.intakeReceived.WithLabelValues(string(eventType), outcome).Inc()
}

func (c *Collector) PolicyRejected(reason string) {
	c.policyRejected.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest takes the route template, not the raw path, to keep label cardinality bounded.
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{ErrorLog: zap.NewStdLog(c.logger)})
}
