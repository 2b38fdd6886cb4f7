// Package metrics exports outbox and delivery counters in Prometheus format.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/deadletter"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/outbox"
)

// Metrics observes the outbox publisher and the delivery coordinator.
type Metrics struct {
	registry *prometheus.Registry

	published       prometheus.Counter
	publishFailures prometheus.Counter
	failed          prometheus.Counter
	deliveries      *prometheus.CounterVec
	deadLetters     *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	register := func(c prometheus.Collector) {
		registry.MustRegister(c)
	}

	m := &Metrics{
		registry: registry,
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox events confirmed by the broker.",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_publish_failures_total",
			Help:      "Failed outbox publish attempts.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_failed_total",
			Help:      "Outbox events that exhausted their attempts and need an operator.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_deliveries_total",
			Help:      "Handled deliveries by outcome.",
		}, []string{"outcome"}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deadletters_total",
			Help:      "Parked dead letters by failure kind.",
		}, []string{"kind"}),
	}
	register(m.published)
	register(m.publishFailures)
	register(m.failed)
	register(m.deliveries)
	register(m.deadLetters)
	register(collectors.NewGoCollector())
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (m *Metrics) OutboxPublished(context.Context, outbox.Record) {
	m.published.Inc()
}

func (m *Metrics) OutboxPublishFailed(context.Context, outbox.Record, error) {
	m.publishFailures.Inc()
}

func (m *Metrics) OutboxFailed(context.Context, outbox.Record, error) {
	m.failed.Inc()
}

func (m *Metrics) DeliveryHandled(outcome string) {
	m.deliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DeadLettered(kind deadletter.Kind) {
	m.deadLetters.WithLabelValues(string(kind)).Inc()
}
