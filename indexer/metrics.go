package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "indexer_events_indexed",
	Help: "Number of events ingested into the primary store",
}, []string{"kind"})

var moderationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "indexer_moderation_decisions",
	Help: "Number of moderation decisions by verdict",
}, []string{"verdict"})

var backlogEnqueued = promauto.NewCounter(prometheus.CounterOpts{
	Name: "indexer_backlog_enqueued",
	Help: "Number of events queued for search index reconciliation",
})

var backlogDrained = promauto.NewCounter(prometheus.CounterOpts{
	Name: "indexer_backlog_drained",
	Help: "Number of backlog events successfully re-indexed",
})

var backlogSize = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "indexer_backlog_size",
	Help: "Current number of events awaiting search index reconciliation",
})

var backlogOldestAge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "indexer_backlog_oldest_age_seconds",
	Help: "Age of the oldest unreconciled event, the search staleness bound",
})
