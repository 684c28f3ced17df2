// Package metrics turns the honeypot event stream into Prometheus series.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/0tSystemsPublicRepos/logweaver/internal/logging"
)

const namespace = "logweaver"

// Collector keeps its own registry so several instances can coexist in
// one process (tests, embedded use).
type Collector struct {
	registry *prometheus.Registry

	events           *prometheus.CounterVec
	connections      *prometheus.CounterVec
	activeSessions   *prometheus.GaugeVec
	receivedBytes    *prometheus.CounterVec
	listenerFailures *prometheus.CounterVec
	listening        *prometheus.GaugeVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events recorded, by kind.",
		}, []string{"kind"}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted connections, by service.",
		}, []string{"service"}),
		activeSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently open, by service.",
		}, []string{"service"}),
		receivedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "received_bytes_total",
			Help:      "Bytes read from peers, by service.",
		}, []string{"service"}),
		listenerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_failures_total",
			Help:      "Listeners that failed to bind or stopped accepting, by service.",
		}, []string{"service"}),
		listening: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listener_up",
			Help:      "1 while the service's listener is accepting.",
		}, []string{"service"}),
	}
	c.registry.MustRegister(
		c.events,
		c.connections,
		c.activeSessions,
		c.receivedBytes,
		c.listenerFailures,
		c.listening,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Observe updates the series for one event. It only touches in-memory
// counters, so it is safe to call under the sink lock.
func (c *Collector) Observe(ev logging.Event) {
	c.events.WithLabelValues(string(ev.Kind)).Inc()
	if ev.Service == "" {
		return
	}
	switch ev.Kind {
	case logging.KindListening:
		c.listening.WithLabelValues(ev.Service).Set(1)
	case logging.KindNewConnection:
		c.connections.WithLabelValues(ev.Service).Inc()
		c.activeSessions.WithLabelValues(ev.Service).Inc()
	case logging.KindData:
		c.receivedBytes.WithLabelValues(ev.Service).Add(float64(ev.Bytes))
	case logging.KindClosed:
		c.activeSessions.WithLabelValues(ev.Service).Dec()
	case logging.KindFatal:
		c.listenerFailures.WithLabelValues(ev.Service).Inc()
		c.listening.WithLabelValues(ev.Service).Set(0)
	}
}

// StoreStats is what the event store recorder exposes.
type StoreStats interface {
	Written() int64
	Dropped() int64
}

// WatchStore exports the store recorder's counters.
func (c *Collector) WatchStore(s StoreStats) {
	c.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "written_total",
			Help:      "Events persisted to the event store.",
		}, func() float64 { return float64(s.Written()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "dropped_total",
			Help:      "Events dropped because the store queue was full.",
		}, func() float64 { return float64(s.Dropped()) }),
	)
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry, ErrorHandling: promhttp.ContinueOnError})
}
