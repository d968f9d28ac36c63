package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"wisdomchat/pkg/store"
)

// Domain counters exposed on /metrics.
var (
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wisdomchat_messages_sent_total",
		Help: "Messages accepted by the send path.",
	})
	EventsFanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wisdomchat_events_fanned_out_total",
		Help: "Real-time events delivered to websocket sessions.",
	})
	NotificationsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wisdomchat_notifications_enqueued_total",
		Help: "Notification records handed to the delivery sink.",
	})
	OutboxCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wisdomchat_outbox_effects_completed_total",
		Help: "Outbox effects processed and deleted.",
	})
	OutboxRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wisdomchat_outbox_effect_retries_total",
		Help: "Outbox effect attempts that failed and were left for redrive.",
	})
	OutboxDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wisdomchat_outbox_queue_depth",
		Help: "Current depth of the in-memory outbox nudge queue.",
	})
	WSSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wisdomchat_ws_sessions",
		Help: "Open websocket sessions.",
	})
	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "wisdomchat_store_wal_bytes",
		Help: "Approximate on-disk size of the storage engine.",
	}, func() float64 {
		return float64(store.GetPebbleMetrics().WALBytes)
	})
)
