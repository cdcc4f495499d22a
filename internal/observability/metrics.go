package observability

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "weft",
			Subsystem: "transport",
			Name:      "messages_sent_total",
			Help:      "Active messages sent, by kind and target node.",
		},
		[]string{"node", "kind", "target"},
	)
	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "weft",
			Subsystem: "transport",
			Name:      "messages_received_total",
			Help:      "Active messages handled, by kind and sender node.",
		},
		[]string{"node", "kind", "sender"},
	)
	barrierArrivals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "weft",
			Subsystem: "barrier",
			Name:      "arrivals_total",
			Help:      "Barrier arrivals applied on the owner.",
		},
		[]string{"node"},
	)
	eventTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "weft",
			Subsystem: "event",
			Name:      "triggers_total",
			Help:      "Event generations triggered on the owner.",
		},
		[]string{"node"},
	)
	barriersLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "weft",
			Subsystem: "barrier",
			Name:      "live",
			Help:      "Barriers currently allocated and not destroyed.",
		},
		[]string{"node"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			messagesSent, messagesReceived,
			barrierArrivals, eventTriggers, barriersLive,
		)
	})
}

func RecordMessageSent(node uint32, kind uint32, target uint32) {
	RegisterMetrics()
	messagesSent.WithLabelValues(nodeLabel(node), kindLabel(kind), nodeLabel(target)).Inc()
}

func RecordMessageReceived(node uint32, kind uint32, sender uint32) {
	RegisterMetrics()
	messagesReceived.WithLabelValues(nodeLabel(node), kindLabel(kind), nodeLabel(sender)).Inc()
}

func RecordBarrierArrival(node uint32) {
	RegisterMetrics()
	barrierArrivals.WithLabelValues(nodeLabel(node)).Inc()
}

func RecordEventTrigger(node uint32) {
	RegisterMetrics()
	eventTriggers.WithLabelValues(nodeLabel(node)).Inc()
}

func BarrierCreated(node uint32) {
	RegisterMetrics()
	barriersLive.WithLabelValues(nodeLabel(node)).Inc()
}

func BarrierDestroyed(node uint32) {
	RegisterMetrics()
	barriersLive.WithLabelValues(nodeLabel(node)).Dec()
}

func nodeLabel(node uint32) string { return strconv.FormatUint(uint64(node), 10) }
func kindLabel(kind uint32) string { return strconv.FormatUint(uint64(kind), 10) }
