package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric this server exposes on /metrics.
type Metrics struct {
	// Connection metrics
	ConnectionsActive   prometheus.Gauge
	ConnectionsTotal    *prometheus.CounterVec // status: accepted, rejected
	ConnectionsRejected *prometheus.CounterVec // reason: capacity

	// Signaling metrics
	PeersRegistered  prometheus.Gauge
	ServersActive    prometheus.Gauge
	SignalsForwarded *prometheus.CounterVec // type
	SignalsDropped   *prometheus.CounterVec // reason: backpressure, no_target, identity_mismatch, invalid_identifier, rate_limited

	// Voice metrics
	VoiceRoomUsers  *prometheus.GaugeVec // server_id, chat_id
	VoiceJoinsTotal *prometheus.CounterVec

	// Presence metrics
	PresenceOpDuration *prometheus.HistogramVec // op: hello, active, disconnect, snapshot, refresh
	PresenceOpErrors   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers every metric. All names follow the
// convention beacon_<subsystem>_<metric>_<unit>.
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "beacon_connections_active",
			Help: "Number of currently open WebSocket connections",
		}),
		ConnectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_connections_total",
			Help: "Total WebSocket connection attempts by outcome",
		}, []string{"status"}),
		ConnectionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_connections_rejected_total",
			Help: "Total WebSocket connections rejected by the admission tracker",
		}, []string{"reason"}),

		PeersRegistered: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "beacon_peers_registered",
			Help: "Number of peers currently registered in the signaling index",
		}),
		ServersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "beacon_servers_active",
			Help: "Number of server rooms with at least one registered peer",
		}),
		SignalsForwarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_signals_forwarded_total",
			Help: "Total signaling frames forwarded between peers",
		}, []string{"type"}),
		SignalsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_signals_dropped_total",
			Help: "Total signaling frames dropped before delivery",
		}, []string{"reason"}),

		VoiceRoomUsers: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "beacon_voice_room_users",
			Help: "Number of occupants currently in each voice room",
		}, []string{"server_id", "chat_id"}),
		VoiceJoinsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_voice_joins_total",
			Help: "Total voice room join events",
		}, []string{"server_id"}),

		PresenceOpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beacon_presence_op_duration_milliseconds",
			Help:    "Presence backend operation latency in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"op"}),
		PresenceOpErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_presence_op_errors_total",
			Help: "Total presence backend operation failures",
		}, []string{"op"}),

		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beacon_http_request_duration_milliseconds",
			Help:    "HTTP request duration in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"method", "path"}),
	}
}
