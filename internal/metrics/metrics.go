// Package metrics exposes bridge counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reedfamily/mcbridge/internal/game"
)

// NewRegistry returns a registry with the Go and process collectors registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

type BridgeMetrics struct {
	LinesTotal      prometheus.Counter
	EventsTotal     *prometheus.CounterVec // labels: type
	SubscriberDrops prometheus.Counter
	SinkErrorsTotal *prometheus.CounterVec // labels: sink
	SinkDrops       *prometheus.CounterVec // labels: sink
	RCONCommands    *prometheus.CounterVec // labels: result=ok|error
	HookRejected    *prometheus.CounterVec // labels: reason=rate|buffer
	FeedSubscribers prometheus.Gauge
	EngineActive    prometheus.Gauge
}

func NewBridgeMetrics(reg prometheus.Registerer) *BridgeMetrics {
	m := &BridgeMetrics{
		LinesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcbridge_log_lines_total",
			Help: "Log lines received from the line source.",
		}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcbridge_events_total",
			Help: "Classified events published, by type.",
		}, []string{"type"}),
		SubscriberDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcbridge_feed_dropped_total",
			Help: "Events skipped for slow feed subscribers.",
		}),
		SinkErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcbridge_sink_errors_total",
			Help: "Failed publishes to external sinks.",
		}, []string{"sink"}),
		SinkDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcbridge_sink_dropped_total",
			Help: "Events dropped because a sink's queue was full.",
		}, []string{"sink"}),
		RCONCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcbridge_rcon_commands_total",
			Help: "RCON commands sent, by result.",
		}, []string{"result"}),
		HookRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcbridge_hook_rejected_total",
			Help: "Webhook requests rejected, by reason.",
		}, []string{"reason"}),
		FeedSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcbridge_feed_subscribers",
			Help: "Current live feed subscribers.",
		}),
		EngineActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcbridge_engine_active",
			Help: "1 while the log event engine is delivering events.",
		}),
	}
	reg.MustRegister(m.LinesTotal, m.EventsTotal, m.SubscriberDrops, m.SinkErrorsTotal,
		m.SinkDrops, m.RCONCommands, m.HookRejected, m.FeedSubscribers, m.EngineActive)
	return m
}

// EventPublished, SubscriberDropped, SinkFailed and SinkDropped make
// BridgeMetrics a feed observer.
func (m *BridgeMetrics) EventPublished(kind game.EventKind) {
	m.EventsTotal.WithLabelValues(string(kind)).Inc()
}

func (m *BridgeMetrics) SubscriberDropped(n int) {
	m.SubscriberDrops.Add(float64(n))
}

func (m *BridgeMetrics) SinkFailed(sink string) {
	m.SinkErrorsTotal.WithLabelValues(sink).Inc()
}

func (m *BridgeMetrics) SinkDropped(sink string) {
	m.SinkDrops.WithLabelValues(sink).Inc()
}

// CommandSent records an RCON command outcome.
func (m *BridgeMetrics) CommandSent(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RCONCommands.WithLabelValues(result).Inc()
}
