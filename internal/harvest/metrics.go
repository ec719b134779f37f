// Package harvest implements the crawl orchestrator: the pagination probe,
// chunked listing/filter/detail phases, and artifact flushing.
package harvest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// pagesFetched tracks pages retrieved with a usable body.
	pagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_pages_fetched_total",
		Help: "The total number of pages fetched with a usable body.",
	})
	// fetchErrors tracks failed fetches by classification.
	fetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_fetch_errors_total",
		Help: "The total number of failed fetches, labeled by classification.",
	}, []string{"kind"})
	// recordsHarvested tracks detail records appended to the run result.
	recordsHarvested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_records_total",
		Help: "The total number of question/answer records harvested.",
	})
	// itemsSkippedSeen tracks listing items dropped by the dedup filter.
	itemsSkippedSeen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_items_skipped_seen_total",
		Help: "The total number of listing items skipped as already harvested.",
	})
	// itemsSkippedUnanswered tracks items dropped by the answered-only filter.
	itemsSkippedUnanswered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_items_skipped_unanswered_total",
		Help: "The total number of listing items skipped as not answered.",
	})
	// itemsSkippedDuplicate tracks items re-listed within a single run.
	itemsSkippedDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_items_skipped_duplicate_total",
		Help: "The total number of listing items skipped as in-run duplicates.",
	})
)
