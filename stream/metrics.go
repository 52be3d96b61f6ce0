package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messagesReceived = promauto.NewCounter(prometheus.CounterOpts{
	Name: "stream_messages_received",
	Help: "Number of stream messages received",
})

var messagesProcessed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "stream_messages_processed",
	Help: "Number of stream messages processed and acked",
})

var messagesRejected = promauto.NewCounter(prometheus.CounterOpts{
	Name: "stream_messages_rejected",
	Help: "Number of stream messages rejected as malformed",
})

var deadLetters = promauto.NewCounter(prometheus.CounterOpts{
	Name: "stream_dead_letters",
	Help: "Number of messages stored in the dead letter table",
})

var eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stream_events_published",
	Help: "Number of events published to the stream",
}, []string{"kind"})

var workItemsAdded = promauto.NewCounter(prometheus.CounterOpts{
	Name: "stream_scheduler_items_added",
	Help: "Number of tasks added to the consumer scheduler",
})

var workItemsProcessed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "stream_scheduler_items_processed",
	Help: "Number of tasks completed by the consumer scheduler",
})

var workersActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "stream_scheduler_workers",
	Help: "Number of consumer scheduler workers",
})
