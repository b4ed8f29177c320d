// Package weight scores how fresh and important each memory is, for ranking
// and expiry decisions.
package weight

import (
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/felixgeelhaar/mnemo/internal/observe"
)

// Record is the tracking state of one memory key.
type Record struct {
	Key         string    `json:"key"`
	LastAccess  time.Time `json:"last_access"`
	Weight      float64   `json:"weight"`
	AccessCount int       `json:"access_count"`
	Pinned      bool      `json:"pinned"`
}

// Statistics summarizes tracked weights.
type Statistics struct {
	Tracked       int     `json:"tracked"`
	Pinned        int     `json:"pinned"`
	TotalAccesses int     `json:"total_accesses"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	Average       float64 `json:"average"`
}

// Tracker keeps one Record per memory key. All mutation and iteration of the
// record map happens under mu.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*Record
	cfg     Config
	policy  Policy
	log     *bolt.Logger
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithPolicy replaces the exponential decay policy.
func WithPolicy(p Policy) Option {
	return func(t *Tracker) { t.policy = p }
}

// NewTracker creates a tracker using cfg. An invalid cfg falls back to
// DefaultConfig.
func NewTracker(cfg Config, obs *observe.Observer, opts ...Option) *Tracker {
	log := observe.OrDiscard(obs).Component("weight")
	if err := cfg.Validate(); err != nil {
		log.Warn().Err(err).Msg("invalid weight config, using defaults")
		cfg = DefaultConfig
	}

	t := &Tracker{
		records: make(map[string]*Record),
		cfg:     cfg,
		policy:  NewExponentialDecay(cfg),
		log:     log,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetConfig swaps the decay parameters. The default policy is rebuilt from
// the new config; a custom policy is kept.
func (t *Tracker) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.policy.(ExponentialDecay); ok {
		t.policy = NewExponentialDecay(cfg)
	}
	t.cfg = cfg
	return nil
}

func (t *Tracker) Config() Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// RecordAccess counts one access of key at ts.
func (t *Tracker) RecordAccess(key string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[key]
	if !ok {
		rec = &Record{Key: key}
		t.records[key] = rec
	}
	rec.AccessCount++
	if ts.After(rec.LastAccess) {
		rec.LastAccess = ts
	}
	if !rec.Pinned {
		rec.Weight = t.policy.Weight(0, rec.AccessCount)
	}
}

// UpdateWeights recomputes every weight at now. Items not yet tracked get a
// record aged from their creation time. Pinned weights are overwritten.
func (t *Tracker) UpdateWeights(items []memory.Item, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, item := range items {
		if _, ok := t.records[item.Content]; ok {
			continue
		}
		created := item.Time()
		if created.IsZero() {
			created = now
		}
		t.records[item.Content] = &Record{Key: item.Content, LastAccess: created}
	}

	for _, rec := range t.records {
		rec.Weight = t.policy.Weight(now.Sub(rec.LastAccess), rec.AccessCount)
		rec.Pinned = false
	}
	t.log.Debug().Int("tracked", len(t.records)).Msg("weights updated")
}

// UpdateMemoryWeight pins key to weight (clamped to [0,1]) until the next
// UpdateWeights.
func (t *Tracker) UpdateMemoryWeight(key string, weight float64) float64 {
	weight = clamp(weight)

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[key]
	if !ok {
		rec = &Record{Key: key, LastAccess: time.Now()}
		t.records[key] = rec
	}
	rec.Weight = weight
	rec.Pinned = true
	return weight
}

// CleanupExpired drops records whose weight fell below the floor and that
// have been idle longer than the retention horizon. The memories themselves
// are untouched. It returns the number of records removed.
func (t *Tracker) CleanupExpired(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, rec := range t.records {
		if rec.Weight < t.cfg.Floor && now.Sub(rec.LastAccess) > t.cfg.RetentionHorizon {
			delete(t.records, key)
			removed++
		}
	}
	if removed > 0 {
		t.log.Info().Int("removed", removed).Msg("expired weight records cleaned up")
	}
	return removed
}

// Weight returns the current weight of key. Untracked keys are unscored.
func (t *Tracker) Weight(key string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[key]
	if !ok {
		return 0, false
	}
	return rec.Weight, true
}

// Record returns a copy of the record for key.
func (t *Tracker) Record(key string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[key]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Top returns up to n keys ordered by weight, heaviest first.
func (t *Tracker) Top(n int) []string {
	t.mu.Lock()
	recs := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		recs = append(recs, *rec)
	}
	t.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Weight != recs[j].Weight {
			return recs[i].Weight > recs[j].Weight
		}
		return recs[i].Key < recs[j].Key
	})
	if n >= 0 && len(recs) > n {
		recs = recs[:n]
	}

	keys := make([]string, len(recs))
	for i, rec := range recs {
		keys[i] = rec.Key
	}
	return keys
}

func (t *Tracker) Statistics() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()

	var st Statistics
	st.Tracked = len(t.records)
	if st.Tracked == 0 {
		return st
	}

	st.Min = 1
	var sum float64
	for _, rec := range t.records {
		sum += rec.Weight
		st.TotalAccesses += rec.AccessCount
		if rec.Pinned {
			st.Pinned++
		}
		if rec.Weight < st.Min {
			st.Min = rec.Weight
		}
		if rec.Weight > st.Max {
			st.Max = rec.Weight
		}
	}
	st.Average = sum / float64(st.Tracked)
	return st
}
