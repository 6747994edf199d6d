// Package metrics owns the Prometheus collectors for the relay.
//
// Every method is safe on a nil *Metrics so components can run without
// metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hubrelay"

type Metrics struct {
	reg *prometheus.Registry

	notifications *prometheus.CounterVec
	events        *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	deliveryDur   *prometheus.HistogramVec
	commitErrors  prometheus.Counter
	inflight      prometheus.Gauge
	subscriptions *prometheus.CounterVec
	reloads       *prometheus.CounterVec
}

// New builds a registry with the relay collectors plus the Go and process
// collectors. dedupSize, when non-nil, is sampled on every scrape.
func New(dedupSize func() int) *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Inbound notification batches by result",
	}, []string{"result"})
	m.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Parsed events by processing status",
	}, []string{"status"})
	m.deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Delivery attempts by outcome",
	}, []string{"outcome"})
	m.deliveryDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "delivery_duration_seconds",
		Help:      "Wall time of one delivery including a rate-limit retry",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"outcome"})
	m.commitErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dedup_commit_errors_total",
		Help:      "Dedup commits that failed to persist",
	})
	m.inflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "inflight_batches",
		Help:      "Notification batches currently being processed",
	})
	m.subscriptions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hub_subscriptions_total",
		Help:      "Hub subscribe calls by result",
	}, []string{"result"})
	m.reloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "config_reloads_total",
		Help:      "Config reloads by result",
	}, []string{"result"})

	m.reg.MustRegister(
		m.notifications, m.events, m.deliveries, m.deliveryDur,
		m.commitErrors, m.inflight, m.subscriptions, m.reloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if dedupSize != nil {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dedup_ids",
			Help:      "Ids currently held by the dedup store",
		}, func() float64 { return float64(dedupSize()) }))
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) Event(status string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(status).Inc()
}

func (m *Metrics) Delivery(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
	m.deliveryDur.WithLabelValues(outcome).Observe(took.Seconds())
}

func (m *Metrics) CommitError() {
	if m == nil {
		return
	}
	m.commitErrors.Inc()
}

// Inflight adjusts the in-flight batch gauge by delta.
func (m *Metrics) Inflight(delta int) {
	if m == nil {
		return
	}
	m.inflight.Add(float64(delta))
}

func (m *Metrics) Subscription(ok bool) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(resultLabel(ok)).Inc()
}

func (m *Metrics) Reload(ok bool) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(resultLabel(ok)).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
