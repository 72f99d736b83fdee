package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rickgao/connmux/internal/connection"
	"github.com/rickgao/connmux/internal/router"
)

const namespace = "connmux"

// Metrics holds the collectors for one process.
type Metrics struct {
	Connections     prometheus.Gauge
	ConnOpenTotal   prometheus.Counter
	FramesReceived  prometheus.Counter
	FramesRouted    prometheus.Counter
	FramesMalformed prometheus.Counter
	DroppedTotal    *prometheus.CounterVec
	SendsTotal      prometheus.Counter
	SendErrorsTotal prometheus.Counter
}

// New registers all collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live multiplexed connections",
		}),
		ConnOpenTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conn_open_total",
			Help:      "Total multiplexed connections opened",
		}),
		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total inbound frames read from sockets",
		}),
		FramesRouted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_routed_total",
			Help:      "Total inbound frames delivered to a consumer",
		}),
		FramesMalformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_malformed_total",
			Help:      "Total inbound frames that failed to decode",
		}),
		DroppedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total inbound frames dropped, partitioned by reason",
		}, []string{"reason"}),
		SendsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Total envelopes written",
		}),
		SendErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Total failed sends",
		}),
	}
}

// OnDrop counts a dropped frame. It matches router.DropFunc so it can be set
// as ManagerConfig.OnDrop.
func (m *Metrics) OnDrop(channel string, reason router.DropReason) {
	m.DroppedTotal.WithLabelValues(string(reason)).Inc()
}

// OnOpen records a new connection.
func (m *Metrics) OnOpen() {
	m.Connections.Inc()
	m.ConnOpenTotal.Inc()
}

// OnClose records a finished connection.
func (m *Metrics) OnClose() {
	m.Connections.Dec()
}

// FrameReceived implements connection.Observer.
func (m *Metrics) FrameReceived() { m.FramesReceived.Inc() }

// FrameMalformed implements connection.Observer.
func (m *Metrics) FrameMalformed() { m.FramesMalformed.Inc() }

// FrameRouted implements connection.Observer.
func (m *Metrics) FrameRouted() { m.FramesRouted.Inc() }

// SendDone implements connection.Observer.
func (m *Metrics) SendDone(err error) {
	if err != nil {
		m.SendErrorsTotal.Inc()
		return
	}
	m.SendsTotal.Inc()
}

var _ connection.Observer = (*Metrics)(nil)
