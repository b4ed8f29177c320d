package runtime

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/felixgeelhaar/mnemo/internal/cache"
	"github.com/felixgeelhaar/mnemo/internal/classify"
	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/felixgeelhaar/mnemo/internal/observe"
	"github.com/felixgeelhaar/mnemo/internal/search"
	"github.com/felixgeelhaar/mnemo/internal/store"
	"github.com/felixgeelhaar/mnemo/internal/weight"
	"github.com/m-mizutani/goerr/v2"
)

// Config holds the runtime tunables.
type Config struct {
	SearchThreshold     float64
	CacheSize           int
	MaintenanceInterval time.Duration
}

// DefaultConfig provides the default runtime tunables.
var DefaultConfig = Config{
	SearchThreshold:     0.5,
	CacheSize:           1000,
	MaintenanceInterval: 5 * time.Minute,
}

// cachedResult is the ranked list produced for a query and the limit it was
// produced for.
type cachedResult struct {
	items     []memory.Item
	requested int
}

// Input is one memory to add.
type Input struct {
	Content  string          `json:"content"`
	Type     memory.Type     `json:"type"`
	Category memory.Category `json:"category"`
}

// Runtime is the single entry point of the memory system. It routes adds and
// searches across the store, weight tracker, result cache and optional
// vector search, and owns the background activity.
type Runtime struct {
	store      *store.Store
	tracker    *weight.Tracker
	bus        *EventBus
	observe    *observe.Observer
	log        *bolt.Logger
	searcher   search.Searcher
	classifier classify.Classifier
	now        func() time.Time
	cfg        Config

	threshold atomic.Uint64
	cache     atomic.Pointer[cache.LRU[string, cachedResult]]

	// cacheMu orders purges against result inserts. generation changes on
	// every purge so a search that overlapped an add does not cache its
	// stale list.
	cacheMu    sync.Mutex
	generation atomic.Uint64

	lifeMu  sync.Mutex
	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	hits        atomic.Int64
	misses      atomic.Int64
	searches    atomic.Int64
	searchNanos atomic.Int64

	maintenanceRuns     atomic.Int64
	maintenanceFailures atomic.Int64
}

// Option customizes a Runtime.
type Option func(*Runtime)

// WithSearcher plugs in a vector-search delegate. If it also implements
// search.Indexer it is subscribed to memory_added events.
func WithSearcher(s search.Searcher) Option {
	return func(r *Runtime) { r.searcher = s }
}

// WithClassifier replaces the built-in keyword rules.
func WithClassifier(c classify.Classifier) Option {
	return func(r *Runtime) { r.classifier = c }
}

func WithConfig(cfg Config) Option {
	return func(r *Runtime) { r.cfg = cfg }
}

// WithClock replaces time.Now for access tracking and maintenance.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

func New(s *store.Store, t *weight.Tracker, bus *EventBus, o *observe.Observer, opts ...Option) (*Runtime, error) {
	o = observe.OrDiscard(o)
	r := &Runtime{
		store:      s,
		tracker:    t,
		bus:        bus,
		observe:    o,
		log:        o.Component("runtime"),
		classifier: classify.Default(),
		now:        time.Now,
		cfg:        DefaultConfig,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.cfg.MaintenanceInterval <= 0 {
		return nil, goerr.Wrap(memory.ErrInvalidInput, "maintenance interval must be positive",
			goerr.V("interval", r.cfg.MaintenanceInterval.String()))
	}
	if err := r.SetSearchThreshold(r.cfg.SearchThreshold); err != nil {
		return nil, err
	}
	if err := r.SetCacheSize(r.cfg.CacheSize); err != nil {
		return nil, err
	}

	if idx, ok := r.searcher.(search.Indexer); ok {
		bus.Subscribe(EventMemoryAdded, func(e Event) error {
			item, ok := e.Item()
			if !ok {
				return nil
			}
			return idx.Index(context.Background(), item)
		})
	}
	return r, nil
}

// Running reports whether Start has been called without a matching Stop.
func (r *Runtime) Running() bool {
	return r.running.Load()
}

// Start launches the store's flush worker and the maintenance loop. Calling
// it while running is a no-op.
func (r *Runtime) Start() {
	r.lifeMu.Lock()
	if r.running.Load() {
		r.lifeMu.Unlock()
		return
	}
	r.store.Start()
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.maintenanceLoop(r.stopCh, r.doneCh)
	r.running.Store(true)
	r.lifeMu.Unlock()

	r.log.Info().Str("maintenance_interval", r.cfg.MaintenanceInterval.String()).Msg("memory system started")
	r.bus.PublishSimple(EventSystemStarted)
}

// Stop signals the maintenance loop and the flush worker, waits for both and
// flushes what is still pending. Calling it while stopped is a no-op.
func (r *Runtime) Stop(ctx context.Context) error {
	r.lifeMu.Lock()
	if !r.running.Load() {
		r.lifeMu.Unlock()
		return nil
	}
	r.running.Store(false)
	close(r.stopCh)
	<-r.doneCh
	err := r.store.Stop(ctx)
	r.lifeMu.Unlock()

	if err != nil {
		r.log.Error().Err(err).Msg("final flush failed")
	}
	r.log.Info().Msg("memory system stopped")
	r.bus.PublishSimple(EventSystemStopped)
	return err
}

// Load restores persisted memories, indexes them for vector search and scores
// them.
func (r *Runtime) Load(ctx context.Context) (int, error) {
	n, err := r.store.Load(ctx)
	if err != nil {
		return 0, err
	}
	all := r.store.All()
	if idx, ok := r.searcher.(search.Indexer); ok {
		for _, item := range all {
			if err := idx.Index(ctx, item); err != nil {
				r.log.Warn().Err(err).Msg("failed to index loaded memory")
			}
		}
	}
	r.tracker.UpdateWeights(all, r.now())
	return n, nil
}

// AddMemory stores content. Content categorized as Other is classified
// first. Empty content is rejected even while stopped; otherwise a stopped
// runtime logs and ignores the call.
func (r *Runtime) AddMemory(ctx context.Context, content string, typ memory.Type, category memory.Category) error {
	if strings.TrimSpace(content) == "" {
		return goerr.Wrap(memory.ErrInvalidInput, "content is empty")
	}
	if !r.running.Load() {
		r.log.Warn().Err(goerr.Wrap(memory.ErrNotRunning, "add ignored")).Msg("memory system is not running")
		return nil
	}

	ctx, span := r.observe.StartSpan(ctx, "runtime.AddMemory")
	defer span.End()

	if category == memory.Other {
		category = r.classifier.Classify(content)
	}

	item, err := r.store.Add(ctx, content, typ, category)
	if err != nil && !errors.Is(err, memory.ErrPersistence) {
		return err
	}

	r.tracker.RecordAccess(item.Content, r.now())
	r.invalidateCache()
	r.bus.PublishWithData(EventMemoryAdded, map[string]interface{}{DataItem: item})
	return err
}

// AddMemoriesBatch adds each input in order. Invalid inputs do not stop the
// batch; their errors are joined.
func (r *Runtime) AddMemoriesBatch(ctx context.Context, inputs []Input) error {
	var errs []error
	for _, in := range inputs {
		if err := r.AddMemory(ctx, in.Content, in.Type, in.Category); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SearchMemories returns up to max memories related to query, best first.
// A cached list is reused when it was produced for at least max results or
// was already exhaustive.
func (r *Runtime) SearchMemories(ctx context.Context, query string, max int) []memory.Item {
	if !r.running.Load() {
		r.log.Warn().Err(goerr.Wrap(memory.ErrNotRunning, "search ignored")).Msg("memory system is not running")
		return nil
	}
	if max <= 0 {
		return nil
	}

	ctx, span := r.observe.StartSpan(ctx, "runtime.SearchMemories")
	defer span.End()

	c := r.cache.Load()
	if cached, ok := c.Get(query); ok && (cached.requested >= max || len(cached.items) < cached.requested) {
		r.hits.Add(1)
		results := truncate(cached.items, max)
		r.afterSearch(query, results, true)
		return results
	}
	r.misses.Add(1)

	gen := r.generation.Load()
	start := time.Now()
	results := r.search(ctx, query, max)
	r.searches.Add(1)
	r.searchNanos.Add(int64(time.Since(start)))

	if len(results) > 0 {
		r.cachePut(c, gen, query, cachedResult{items: truncate(results, len(results)), requested: max})
	}
	r.afterSearch(query, results, false)
	return results
}

func (r *Runtime) invalidateCache() {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	r.generation.Add(1)
	r.cache.Load().Purge()
}

// cachePut stores res unless a purge happened since gen was read.
func (r *Runtime) cachePut(c *cache.LRU[string, cachedResult], gen uint64, query string, res cachedResult) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if r.generation.Load() != gen {
		return
	}
	c.Put(query, res)
}

func (r *Runtime) search(ctx context.Context, query string, max int) []memory.Item {
	if r.searcher != nil {
		res, err := r.searcher.Search(ctx, query, max, r.SearchThreshold())
		if err == nil {
			items := make([]memory.Item, len(res))
			for i, hit := range res {
				items[i] = hit.Item
			}
			return items
		}
		r.log.Warn().Err(err).Str("query", query).Msg("vector search failed, falling back to store lookup")
	}
	return r.store.Related(query, max)
}

func (r *Runtime) afterSearch(query string, results []memory.Item, cached bool) {
	now := r.now()
	for _, item := range results {
		r.tracker.RecordAccess(item.Content, now)
	}
	r.bus.PublishWithData(EventMemorySearched, map[string]interface{}{
		DataQuery:   query,
		DataResults: len(results),
		DataCached:  cached,
	})
}

// SearchMemoriesBatch runs every query and returns the union of the results
// ordered by content, without duplicates.
func (r *Runtime) SearchMemoriesBatch(ctx context.Context, queries []string, maxPerQuery int) []memory.Item {
	var all []memory.Item
	for _, q := range queries {
		all = append(all, r.SearchMemories(ctx, q, maxPerQuery)...)
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Content < all[j].Content })
	out := all[:0]
	for i, item := range all {
		if i > 0 && item.Content == all[i-1].Content {
			continue
		}
		out = append(out, item)
	}
	return out
}

// RecentMemories returns up to n memories, newest first.
func (r *Runtime) RecentMemories(n int) []memory.Item {
	return r.store.Recent(n)
}

// TopMemories returns up to n stored memories with the highest weight.
func (r *Runtime) TopMemories(n int) []memory.Item {
	keys := r.tracker.Top(-1)
	out := make([]memory.Item, 0, min(n, len(keys)))
	for _, key := range keys {
		if len(out) >= n {
			break
		}
		if item, ok := r.store.Get(key); ok {
			out = append(out, item)
		}
	}
	return out
}

// UpdateMemoryWeight pins the weight of content until the next maintenance
// cycle and returns the applied (clamped) weight.
func (r *Runtime) UpdateMemoryWeight(content string, w float64) float64 {
	applied := r.tracker.UpdateMemoryWeight(content, w)
	r.bus.PublishWithData(EventWeightUpdated, map[string]interface{}{
		DataContent: content,
		DataWeight:  applied,
	})
	return applied
}

// RecordMemoryAccess counts an access to content made outside SearchMemories.
func (r *Runtime) RecordMemoryAccess(content string) {
	r.tracker.RecordAccess(content, r.now())
}

func (r *Runtime) SearchThreshold() float64 {
	return math.Float64frombits(r.threshold.Load())
}

func (r *Runtime) SetSearchThreshold(t float64) error {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return goerr.Wrap(memory.ErrInvalidInput, "search threshold must be within [0,1]", goerr.V("threshold", t))
	}
	r.threshold.Store(math.Float64bits(t))
	return nil
}

// SetCacheSize replaces the result cache with an empty one of the given
// capacity.
func (r *Runtime) SetCacheSize(n int) error {
	c, err := cache.New[string, cachedResult](n, cache.WithLogger(r.observe.Component("cache")))
	if err != nil {
		return err
	}
	r.cache.Store(c)
	return nil
}

func (r *Runtime) SetWeightConfig(cfg weight.Config) error {
	return r.tracker.SetConfig(cfg)
}

func truncate(items []memory.Item, n int) []memory.Item {
	if len(items) > n {
		items = items[:n]
	}
	out := make([]memory.Item, len(items))
	copy(out, items)
	return out
}
