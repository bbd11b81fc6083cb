package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reader_feed_refreshes_total",
		Help: "Number of feed refresh attempts by outcome",
	}, []string{"outcome"})

	articlesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reader_articles_ingested_total",
		Help: "Number of new articles inserted during refreshes",
	})

	articlesPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reader_articles_pruned_total",
		Help: "Number of articles deleted by retention cleanup",
	})
)
