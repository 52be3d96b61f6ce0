package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var feedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feed_requests",
	Help: "Number of feed requests by bundle",
}, []string{"bundle"})

var feedSearchFallbacks = promauto.NewCounter(prometheus.CounterOpts{
	Name: "feed_search_fallbacks",
	Help: "Number of candidate fetches that fell back to the primary store",
})

var queuedBatches = promauto.NewCounter(prometheus.CounterOpts{
	Name: "feed_transparency_batches_queued",
	Help: "Number of transparency record batches queued",
})

var recordsAppended = promauto.NewCounter(prometheus.CounterOpts{
	Name: "feed_transparency_records_appended",
	Help: "Number of ranking transparency records durably appended",
})

var recordsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "feed_transparency_records_dropped",
	Help: "Number of ranking transparency records lost after retries",
})
