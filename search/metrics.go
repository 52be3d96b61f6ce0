package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var postsIndexed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "search_posts_indexed",
	Help: "Number of posts indexed",
})

var postsFailed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "search_posts_failed",
	Help: "Number of posts that failed indexing",
})

var postsDeleted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "search_posts_deleted",
	Help: "Number of posts deleted",
})

var queriesFailed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "search_queries_failed",
	Help: "Number of search queries that failed",
})
