package chat

import "github.com/prometheus/client_golang/prometheus"

var (
	connectionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections",
		Help: "Number of active connections",
	})
	roomsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_rooms",
		Help: "Number of rooms with at least one member",
	})
	eventsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_total",
			Help: "Total number of inbound events accepted",
		},
		[]string{"event"},
	)
	rejectedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_rejected_total",
			Help: "Total number of inbound events rejected",
		},
		[]string{"code"},
	)
	deliveriesCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_deliveries_total",
			Help: "Total number of per-connection deliveries by result",
		},
		[]string{"result"},
	)
	relayCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_relay_frames_total",
			Help: "Total number of frames exchanged with other nodes",
		},
		[]string{"direction"},
	)
)

func init() {
	prometheus.MustRegister(connectionsGauge)
	prometheus.MustRegister(roomsGauge)
	prometheus.MustRegister(eventsCounter)
	prometheus.MustRegister(rejectedCounter)
	prometheus.MustRegister(deliveriesCounter)
	prometheus.MustRegister(relayCounter)
}
