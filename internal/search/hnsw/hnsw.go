// Package hnsw is a Searcher backed by an in-memory HNSW graph.
package hnsw

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/hnsw"
	"github.com/felixgeelhaar/bolt/v3"
	"github.com/felixgeelhaar/mnemo/internal/embed"
	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/felixgeelhaar/mnemo/internal/observe"
	"github.com/felixgeelhaar/mnemo/internal/search"
	"github.com/m-mizutani/goerr/v2"
)

type Searcher struct {
	embedder embed.Embedder
	ttl      time.Duration
	now      func() time.Time
	log      *bolt.Logger

	mu    sync.Mutex
	graph *hnsw.Graph[string]
	items map[string]memory.Item
	dim   int

	searches atomic.Int64
	indexed  atomic.Int64
	expired  atomic.Int64
}

// New creates an empty graph. The vector dimension is fixed by the first
// indexed memory. Documents older than ttl are dropped by CleanupExpired;
// ttl <= 0 keeps them forever.
func New(e embed.Embedder, ttl time.Duration, obs *observe.Observer) *Searcher {
	return &Searcher{
		embedder: e,
		ttl:      ttl,
		now:      time.Now,
		log:      observe.OrDiscard(obs).Component("search"),
		graph:    hnsw.NewGraph[string](),
		items:    make(map[string]memory.Item),
	}
}

// SetClock replaces time.Now for expiry decisions.
func (s *Searcher) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Searcher) Index(ctx context.Context, item memory.Item) error {
	id := search.DocumentID(item.Content)

	s.mu.Lock()
	_, exists := s.items[id]
	s.mu.Unlock()
	if exists {
		return nil
	}

	vec, err := s.embedder.Embed(ctx, item.Content)
	if err != nil {
		return goerr.Wrap(err, "embed memory", goerr.V("id", id))
	}
	if isZero(vec) {
		s.log.Debug().Str("id", id).Msg("skipping memory with empty embedding")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; exists {
		return nil
	}
	if s.dim == 0 {
		s.dim = len(vec)
	}
	if len(vec) != s.dim {
		return goerr.Wrap(memory.ErrInvalidInput, "embedding dimension mismatch",
			goerr.V("want", s.dim), goerr.V("got", len(vec)))
	}

	s.graph.Add(hnsw.MakeNode(id, vec))
	s.items[id] = item
	s.indexed.Add(1)
	return nil
}

func (s *Searcher) Search(ctx context.Context, query string, max int, threshold float64) ([]search.Result, error) {
	if strings.TrimSpace(query) == "" || max <= 0 {
		return nil, nil
	}
	s.searches.Add(1)

	q, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "embed query", goerr.V("query", query))
	}
	if isZero(q) {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.graph.Len() == 0 || len(q) != s.dim {
		return nil, nil
	}

	neighbors := s.graph.Search(q, max)
	out := make([]search.Result, 0, len(neighbors))
	for _, node := range neighbors {
		score := 1 - float64(hnsw.CosineDistance(q, node.Value))
		if score < threshold {
			continue
		}
		item, ok := s.items[node.Key]
		if !ok {
			continue
		}
		out = append(out, search.Result{Item: item, Score: score})
	}
	return out, nil
}

func (s *Searcher) CleanupExpired(_ context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, item := range s.items {
		created := item.Time()
		if created.IsZero() || !created.Before(cutoff) {
			continue
		}
		s.graph.Delete(id)
		delete(s.items, id)
		removed++
	}

	if removed > 0 {
		s.expired.Add(int64(removed))
		s.log.Info().Int("expired", removed).Msg("expired documents removed")
	}
	return removed, nil
}

func (s *Searcher) Statistics() search.Statistics {
	s.mu.Lock()
	docs := len(s.items)
	s.mu.Unlock()

	return search.Statistics{
		Backend:   "hnsw",
		Embedder:  s.embedder.Name(),
		Documents: docs,
		Searches:  s.searches.Load(),
		Indexed:   s.indexed.Load(),
		Expired:   s.expired.Load(),
	}
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
