package signalr

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "signalr_client"

type metrics struct {
	messagesSent     *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	droppedFrames    prometheus.Counter
	pendingCalls     prometheus.Gauge
	openConnections  prometheus.Gauge
}

// newMetrics creates the connection metrics. Without registerer, the metrics are not registered anywhere.
// Connections which share a registerer share their metrics.
func newMetrics(registerer prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_sent_total",
			Help:      "Total number of hub messages sent, by message type",
		}, []string{"type"}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Total number of hub messages received, by message type",
		}, []string{"type"}),
		droppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dropped_frames_total",
			Help:      "Total number of received frames which could not be deserialized",
		}),
		pendingCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pending_calls",
			Help:      "Number of invocations and streams waiting for their completion",
		}),
		openConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "open_connections",
			Help:      "Number of connections in state Opened",
		}),
	}
	if registerer != nil {
		if err := errors.Join(
			register(registerer, &m.messagesSent),
			register(registerer, &m.messagesReceived),
			register(registerer, &m.droppedFrames),
			register(registerer, &m.pendingCalls),
			register(registerer, &m.openConnections)); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// register replaces *collector by the already registered collector if an equal one exists
func register[C prometheus.Collector](registerer prometheus.Registerer, collector *C) error {
	if err := registerer.Register(*collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				*collector = existing
				return nil
			}
		}
		return fmt.Errorf("register metrics: %w", err)
	}
	return nil
}

func (m *metrics) sent(messages []Message) {
	for _, message := range messages {
		m.messagesSent.WithLabelValues(message.messageType().String()).Inc()
	}
}

func (m *metrics) received(message Message) {
	m.messagesReceived.WithLabelValues(message.messageType().String()).Inc()
}
