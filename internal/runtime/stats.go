package runtime

import (
	"time"

	"github.com/felixgeelhaar/mnemo/internal/search"
	"github.com/felixgeelhaar/mnemo/internal/store"
	"github.com/felixgeelhaar/mnemo/internal/weight"
)

// SystemStatistics aggregates the state of every component. Counters are
// read independently, so the snapshot may be torn across them.
type SystemStatistics struct {
	Running           bool          `json:"running"`
	TotalMemories     int           `json:"total_memories"`
	TotalSearches     int64         `json:"total_searches"`
	CacheHits         int64         `json:"cache_hits"`
	CacheMisses       int64         `json:"cache_misses"`
	CacheHitRate      int           `json:"cache_hit_rate"`
	CacheEntries      int           `json:"cache_entries"`
	CacheCapacity     int           `json:"cache_capacity"`
	AverageSearchTime time.Duration `json:"average_search_time"`
	SearchThreshold   float64       `json:"search_threshold"`

	MaintenanceRuns     int64 `json:"maintenance_runs"`
	MaintenanceFailures int64 `json:"maintenance_failures"`

	Weight weight.Statistics  `json:"weight"`
	Search *search.Statistics `json:"search,omitempty"`
	Events EventStatistics    `json:"events"`
	Store  store.Statistics   `json:"store"`
}

func (r *Runtime) Statistics() SystemStatistics {
	hits, misses := r.hits.Load(), r.misses.Load()
	searches := r.searches.Load()
	c := r.cache.Load()

	st := SystemStatistics{
		Running:             r.running.Load(),
		TotalMemories:       r.store.Len(),
		TotalSearches:       searches,
		CacheHits:           hits,
		CacheMisses:         misses,
		CacheHitRate:        hitRate(hits, misses),
		CacheEntries:        c.Len(),
		CacheCapacity:       c.Capacity(),
		SearchThreshold:     r.SearchThreshold(),
		MaintenanceRuns:     r.maintenanceRuns.Load(),
		MaintenanceFailures: r.maintenanceFailures.Load(),
		Weight:              r.tracker.Statistics(),
		Events:              r.bus.Statistics(),
		Store:               r.store.Statistics(),
	}
	if searches > 0 {
		st.AverageSearchTime = time.Duration(r.searchNanos.Load() / searches)
	}
	if r.searcher != nil {
		ss := r.searcher.Statistics()
		st.Search = &ss
	}
	return st
}

// hitRate is the integer percentage of cache lookups that hit, 0 before any
// lookup.
func hitRate(hits, misses int64) int {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return int(hits * 100 / total)
}
