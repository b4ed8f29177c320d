package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/felixgeelhaar/mnemo/internal/observe"
	"github.com/m-mizutani/goerr/v2"
)

// Store is the authoritative in-memory memory set. Every newly accepted item
// is handed to the configured Writer.
type Store struct {
	writer Writer
	log    *bolt.Logger
	now    func() time.Time

	mu    sync.RWMutex
	items []memory.Item
	index map[string]int
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces time.Now for item timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(w Writer, obs *observe.Observer, opts ...Option) *Store {
	s := &Store{
		writer: w,
		log:    observe.OrDiscard(obs).Component("store"),
		now:    time.Now,
		index:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Writer() Writer { return s.writer }

// Start launches the writer's background activity, if any.
func (s *Store) Start() { s.writer.Start() }

// Stop ends the writer's background activity and flushes what is pending.
func (s *Store) Stop(ctx context.Context) error { return s.writer.Stop(ctx) }

// Flush persists everything pending before returning.
func (s *Store) Flush(ctx context.Context) error { return s.writer.Flush(ctx) }

// Add stores a new memory. The item is readable as soon as Add returns. Adding
// content that is already stored returns the existing item and persists
// nothing. A persistence error from a synchronous writer is returned, but the
// item stays in memory.
func (s *Store) Add(ctx context.Context, content string, typ memory.Type, category memory.Category) (memory.Item, error) {
	item, err := memory.NewItem(content, typ, category, s.now())
	if err != nil {
		return memory.Item{}, err
	}

	s.mu.Lock()
	if i, ok := s.index[content]; ok {
		existing := s.items[i]
		s.mu.Unlock()
		return existing, nil
	}
	s.index[content] = len(s.items)
	s.items = append(s.items, item)
	s.mu.Unlock()

	if err := s.writer.Write(ctx, item); err != nil {
		s.log.Error().Err(err).Str("type", typ.String()).Msg("failed to persist memory")
		return item, err
	}
	return item, nil
}

// Load reads previously persisted items from the sink into memory. Loaded
// items are not written again. It returns how many new items were added.
func (s *Store) Load(ctx context.Context) (int, error) {
	items, err := s.writer.Sink().Load(ctx)
	if err != nil {
		return 0, goerr.Wrap(memory.ErrPersistence, "load memories", goerr.V("cause", err.Error()))
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Time().Before(items[j].Time())
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := 0
	for _, item := range items {
		if _, ok := s.index[item.Content]; ok {
			continue
		}
		s.index[item.Content] = len(s.items)
		s.items = append(s.items, item)
		loaded++
	}
	s.log.Info().Int("loaded", loaded).Msg("memories loaded")
	return loaded, nil
}

func (s *Store) Get(content string) (memory.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[content]
	if !ok {
		return memory.Item{}, false
	}
	return s.items[i], true
}

// All returns a copy of every item in insertion order.
func (s *Store) All() []memory.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]memory.Item, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

type scored struct {
	item  memory.Item
	pos   int
	score int
}

// Related is the naive lookup used when no vector search is configured. An
// item scores one point per query word it contains, one more when it
// contains the whole query and two more when it equals the query (all case
// insensitive). Higher scores come first, then newer items.
func (s *Store) Related(query string, max int) []memory.Item {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || max <= 0 {
		return nil
	}
	words := strings.Fields(q)

	s.mu.RLock()
	var hits []scored
	for i, item := range s.items {
		c := strings.ToLower(item.Content)
		score := 0
		for _, w := range words {
			if strings.Contains(c, w) {
				score++
			}
		}
		if score == 0 {
			continue
		}
		if strings.Contains(c, q) {
			score++
		}
		if c == q {
			score += 2
		}
		hits = append(hits, scored{item: item, pos: i, score: score})
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return newer(hits[i], hits[j])
	})
	return take(hits, max)
}

// Recent returns up to n items, newest first.
func (s *Store) Recent(n int) []memory.Item {
	if n <= 0 {
		return nil
	}

	s.mu.RLock()
	all := make([]scored, len(s.items))
	for i, item := range s.items {
		all[i] = scored{item: item, pos: i}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return newer(all[i], all[j]) })
	return take(all, n)
}

func newer(a, b scored) bool {
	ta, tb := a.item.Time(), b.item.Time()
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return a.pos > b.pos
}

func take(in []scored, n int) []memory.Item {
	if len(in) > n {
		in = in[:n]
	}
	out := make([]memory.Item, len(in))
	for i, h := range in {
		out[i] = h.item
	}
	return out
}

func (s *Store) Statistics() Statistics {
	s.mu.RLock()
	byType := make(map[string]int, len(memory.Types))
	for _, t := range memory.Types {
		byType[t.String()] = 0
	}
	for _, item := range s.items {
		byType[item.Type.String()]++
	}
	n := len(s.items)
	s.mu.RUnlock()

	return Statistics{
		Memories: n,
		ByType:   byType,
		Writer:   s.writer.Statistics(),
	}
}
