// Package metrics exposes Prometheus collectors fed from domain events and
// the HTTP layer.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/embedg/embedg/pkg/domain"
)

const namespace = "embedg"

// Metrics holds every collector the service reports.
type Metrics struct {
	messagesDelivered *prometheus.CounterVec
	messageFailures   *prometheus.CounterVec
	webhooksCreated   prometheus.Counter
	interactions      *prometheus.CounterVec
	actionsExecuted   *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// MustNewMetrics registers the collectors with reg and panics on conflicts.
// Tests pass a fresh prometheus.NewRegistry().
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		messagesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "messages_total",
			Help:      "Messages delivered, by target kind and mode.",
		}, []string{"target", "mode"}),
		messageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "failures_total",
			Help:      "Send requests that failed, by error code.",
		}, []string{"code"}),
		webhooksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "webhooks_created_total",
			Help:      "Webhooks created by the bot.",
		}),
		interactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "interactions",
			Name:      "rejected_total",
			Help:      "Component interactions rejected, by reason.",
		}, []string{"reason"}),
		actionsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "interactions",
			Name:      "actions_total",
			Help:      "Actions executed, by action kind.",
		}, []string{"action"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
	reg.MustRegister(
		m.messagesDelivered,
		m.messageFailures,
		m.webhooksCreated,
		m.interactions,
		m.actionsExecuted,
		m.httpDuration,
	)
	return m
}

// Subscribe feeds the collectors from bus.
func (m *Metrics) Subscribe(bus domain.EventBus) {
	bus.Subscribe(domain.EventMessageSent, func(e domain.Event) { m.delivered(e, "create") })
	bus.Subscribe(domain.EventMessageEdited, func(e domain.Event) { m.delivered(e, "edit") })
	bus.Subscribe(domain.EventMessageFailed, func(e domain.Event) {
		if p, ok := e.Payload().(domain.MessageFailed); ok {
			m.messageFailures.WithLabelValues(p.Code).Inc()
		}
	})
	bus.Subscribe(domain.EventWebhookCreated, func(domain.Event) { m.webhooksCreated.Inc() })
	bus.Subscribe(domain.EventIntegrityFailed, func(domain.Event) {
		m.interactions.WithLabelValues("integrity").Inc()
	})
	bus.Subscribe(domain.EventInteractionDenied, func(domain.Event) {
		m.interactions.WithLabelValues("denied").Inc()
	})
	bus.Subscribe(domain.EventActionExecuted, func(e domain.Event) {
		if p, ok := e.Payload().(domain.InteractionOutcome); ok {
			m.actionsExecuted.WithLabelValues(p.Action).Inc()
		}
	})
}

func (m *Metrics) delivered(e domain.Event, mode string) {
	target := "channel"
	if p, ok := e.Payload().(domain.MessageDelivered); ok && p.Direct {
		target = "webhook"
	}
	m.messagesDelivered.WithLabelValues(target, mode).Inc()
}

// ObserveHTTP records one API request.
func (m *Metrics) ObserveHTTP(route string, status int, elapsed time.Duration) {
	m.httpDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
