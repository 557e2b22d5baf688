package monitoring

import (
	"sync"
	"time"

	"hubcom/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector records relay routing metrics.
type PrometheusCollector struct {
	peersRegistered prometheus.Gauge
	registrations   prometheus.Counter

	hubPeers  *prometheus.GaugeVec
	hubMu     sync.Mutex
	hubCounts map[string]int

	messagesReceived *prometheus.CounterVec
	messagesRouted   *prometheus.CounterVec
	handlerErrors    *prometheus.CounterVec

	handlingDuration *prometheus.HistogramVec

	rateLimited prometheus.Counter
}

var _ ports.RelayMetrics = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the relay metrics with reg. A nil reg
// means the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		hubCounts: make(map[string]int),

		peersRegistered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hubcom_relay_peers_registered",
			Help: "Number of currently registered peers",
		}),

		registrations: factory.NewCounter(prometheus.CounterOpts{
			Name: "hubcom_relay_registrations_total",
			Help: "Total number of hi registrations handled",
		}),

		hubPeers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hubcom_relay_hub_peers",
			Help: "Number of registered peers per hub",
		}, []string{"hub"}),

		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hubcom_relay_messages_received_total",
			Help: "Relay messages received by envelope type",
		}, []string{"type"}),

		messagesRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hubcom_relay_messages_routed_total",
			Help: "Relay deliveries by mode",
		}, []string{"mode"}),

		handlerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hubcom_relay_handler_errors_total",
			Help: "Relay messages whose handling failed",
		}, []string{"type"}),

		handlingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hubcom_relay_message_handling_seconds",
			Help:    "Time spent handling one relay message",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"type"}),

		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "hubcom_relay_messages_rate_limited_total",
			Help: "Relay messages dropped by the per-socket rate limit",
		}),
	}
}

func (p *PrometheusCollector) PeerRegistered(hub string) {
	p.peersRegistered.Inc()
	p.registrations.Inc()

	p.hubMu.Lock()
	defer p.hubMu.Unlock()
	p.hubCounts[hub]++
	p.hubPeers.WithLabelValues(hub).Set(float64(p.hubCounts[hub]))
}

// PeerDeregistered drops the per-hub series once the hub is empty.
func (p *PrometheusCollector) PeerDeregistered(hub string) {
	p.peersRegistered.Dec()

	p.hubMu.Lock()
	defer p.hubMu.Unlock()
	if p.hubCounts[hub]--; p.hubCounts[hub] <= 0 {
		delete(p.hubCounts, hub)
		p.hubPeers.DeleteLabelValues(hub)
		return
	}
	p.hubPeers.WithLabelValues(hub).Set(float64(p.hubCounts[hub]))
}

func (p *PrometheusCollector) MessageReceived(msgType string) {
	p.messagesReceived.WithLabelValues(label(msgType)).Inc()
}

func (p *PrometheusCollector) MessageRouted(mode string) {
	p.messagesRouted.WithLabelValues(mode).Inc()
}

func (p *PrometheusCollector) HandlerError(msgType string) {
	p.handlerErrors.WithLabelValues(label(msgType)).Inc()
}

func (p *PrometheusCollector) ObserveHandling(msgType string, d time.Duration) {
	p.handlingDuration.WithLabelValues(label(msgType)).Observe(d.Seconds())
}

func (p *PrometheusCollector) MessageRateLimited() {
	p.rateLimited.Inc()
}

var knownTypes = map[string]bool{
	"hi": true, "ho": true, "bye": true, "query": true, "reply": true, "beacon": true,
	"ping": true, "pong": true, "sdp": true, "call": true, "invalid": true, "close": true,
}

// label folds application-defined types into one series to bound cardinality.
func label(msgType string) string {
	if knownTypes[msgType] {
		return msgType
	}
	return "other"
}
