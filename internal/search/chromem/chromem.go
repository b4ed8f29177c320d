// Package chromem is a Searcher backed by an embedded chromem-go collection.
package chromem

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/felixgeelhaar/mnemo/internal/embed"
	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/felixgeelhaar/mnemo/internal/observe"
	"github.com/felixgeelhaar/mnemo/internal/search"
	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"
)

const collectionName = "memories"

type Searcher struct {
	col      *chromem.Collection
	embedder embed.Embedder
	ttl      time.Duration
	now      func() time.Time
	log      *bolt.Logger

	// created holds the creation time of every indexed document by ID.
	mu      sync.Mutex
	created map[string]time.Time

	searches atomic.Int64
	indexed  atomic.Int64
	expired  atomic.Int64
}

// New creates an in-memory collection embedding through e. Documents older
// than ttl are dropped by CleanupExpired; ttl <= 0 keeps them forever.
func New(e embed.Embedder, ttl time.Duration, obs *observe.Observer) (*Searcher, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection(collectionName, nil, chromem.EmbeddingFunc(e.Embed))
	if err != nil {
		return nil, goerr.Wrap(err, "create collection")
	}

	return &Searcher{
		col:      col,
		embedder: e,
		ttl:      ttl,
		now:      time.Now,
		log:      observe.OrDiscard(obs).Component("search"),
		created:  make(map[string]time.Time),
	}, nil
}

// SetClock replaces time.Now for expiry decisions.
func (s *Searcher) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Searcher) Index(ctx context.Context, item memory.Item) error {
	id := search.DocumentID(item.Content)

	s.mu.Lock()
	_, exists := s.created[id]
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

	doc := chromem.Document{
		ID:        id,
		Content:   item.Content,
		Metadata:  search.Metadata(item),
		Embedding: vec,
	}
	if err := s.col.AddDocument(ctx, doc); err != nil {
		return goerr.Wrap(err, "add document", goerr.V("id", id))
	}

	created := item.Time()
	if created.IsZero() {
		created = s.now()
	}
	s.mu.Lock()
	s.created[id] = created
	s.mu.Unlock()

	s.indexed.Add(1)
	return nil
}

func (s *Searcher) Search(ctx context.Context, query string, max int, threshold float64) ([]search.Result, error) {
	if strings.TrimSpace(query) == "" || max <= 0 {
		return nil, nil
	}
	s.searches.Add(1)

	// chromem-go requires nResults <= collection size
	n := s.col.Count()
	if n == 0 {
		return nil, nil
	}
	if max > n {
		max = n
	}

	q, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "embed query", goerr.V("query", query))
	}
	if isZero(q) {
		return nil, nil
	}

	res, err := s.col.QueryEmbedding(ctx, q, max, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "chromem query", goerr.V("query", query))
	}

	out := make([]search.Result, 0, len(res))
	for _, r := range res {
		score := float64(r.Similarity)
		if math.IsNaN(score) || score < threshold {
			continue
		}
		out = append(out, search.Result{
			Item:  search.FromMetadata(r.Content, r.Metadata),
			Score: score,
		})
	}
	s.log.Debug().Str("query", query).Int("results", len(out)).Msg("search completed")
	return out, nil
}

func (s *Searcher) CleanupExpired(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	var ids []string
	for id, created := range s.created {
		if created.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.col.Delete(ctx, nil, nil, ids...); err != nil {
		return 0, goerr.Wrap(err, "delete expired documents", goerr.V("count", len(ids)))
	}

	s.mu.Lock()
	for _, id := range ids {
		delete(s.created, id)
	}
	s.mu.Unlock()

	s.expired.Add(int64(len(ids)))
	s.log.Info().Int("expired", len(ids)).Msg("expired documents removed")
	return len(ids), nil
}

func (s *Searcher) Statistics() search.Statistics {
	return search.Statistics{
		Backend:   "chromem",
		Embedder:  s.embedder.Name(),
		Documents: s.col.Count(),
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
