// Package search defines the optional vector-search delegate the runtime
// consults before falling back to the store's naive lookup.
package search

import (
	"context"
	"strconv"

	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/google/uuid"
)

// Result is a ranked hit.
type Result struct {
	Item  memory.Item `json:"item"`
	Score float64     `json:"score"`
}

// Statistics describes a Searcher.
type Statistics struct {
	Backend   string `json:"backend"`
	Embedder  string `json:"embedder"`
	Documents int    `json:"documents"`
	Searches  int64  `json:"searches"`
	Indexed   int64  `json:"indexed"`
	Expired   int64  `json:"expired"`
}

// Searcher ranks stored memories against a query.
type Searcher interface {
	// Search returns at most max results scoring at least threshold, best
	// first.
	Search(ctx context.Context, query string, max int, threshold float64) ([]Result, error)

	// CleanupExpired drops indexed memories older than the searcher's TTL and
	// returns how many were removed.
	CleanupExpired(ctx context.Context) (int, error)

	Statistics() Statistics
}

// Indexer is implemented by searchers that must be told about new memories.
type Indexer interface {
	Index(ctx context.Context, item memory.Item) error
}

// DocumentID derives a stable document ID from memory content.
func DocumentID(content string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(content)).String()
}

// Metadata flattens the non-content fields of item.
func Metadata(item memory.Item) map[string]string {
	return map[string]string{
		"type":      item.Type.String(),
		"category":  strconv.Itoa(int(item.Category)),
		"timestamp": item.Timestamp,
	}
}

// FromMetadata rebuilds an item from its content and Metadata.
func FromMetadata(content string, md map[string]string) memory.Item {
	item := memory.Item{Content: content, Timestamp: md["timestamp"], Category: memory.Other}
	if typ, err := memory.ParseType(md["type"]); err == nil {
		item.Type = typ
	}
	if cat, err := memory.ParseCategory(md["category"]); err == nil {
		item.Category = cat
	}
	return item
}
