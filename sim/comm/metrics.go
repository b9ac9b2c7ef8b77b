package comm

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics counts the traffic of a world per message kind.
type Metrics struct {
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	BytesSent        *prometheus.CounterVec
	Collectives      prometheus.Counter
}

// NewMetrics registers the communication counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "blockforest_messages_sent_total",
			Help: "Point-to-point messages sent, by exchange kind",
		}, []string{"kind"}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "blockforest_messages_received_total",
			Help: "Point-to-point messages received, by exchange kind",
		}, []string{"kind"}),
		BytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "blockforest_bytes_sent_total",
			Help: "Encoded payload bytes sent, by exchange kind",
		}, []string{"kind"}),
		Collectives: factory.NewCounter(prometheus.CounterOpts{
			Name: "blockforest_collectives_total",
			Help: "Collective calls summed over all ranks",
		}),
	}
}

func (m *Metrics) sent(kind Kind, bytes int) {
	m.MessagesSent.WithLabelValues(kind.String()).Inc()
	m.BytesSent.WithLabelValues(kind.String()).Add(float64(bytes))
}

func (m *Metrics) received(kind Kind) {
	m.MessagesReceived.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) collective() {
	m.Collectives.Inc()
}

// Traffic is a point-in-time reading of the counters of one kind.
type Traffic struct {
	Kind     string
	Messages float64
	Bytes    float64
}

// Traffic reads the counters of every exchange kind that sent at least one
// message, in kind order.
func (m *Metrics) Traffic() []Traffic {
	var out []Traffic
	for k := KindHalo; k <= KindBalance; k++ {
		sent := counterValue(m.MessagesSent.WithLabelValues(k.String()))
		if sent == 0 {
			continue
		}
		out = append(out, Traffic{
			Kind:     k.String(),
			Messages: sent,
			Bytes:    counterValue(m.BytesSent.WithLabelValues(k.String())),
		})
	}
	return out
}

// CollectiveCount reads the collective counter.
func (m *Metrics) CollectiveCount() float64 {
	return counterValue(m.Collectives)
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		panic(fmt.Sprintf("comm: reading counter: %v", err))
	}
	return m.GetCounter().GetValue()
}
