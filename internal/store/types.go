// Package store owns the authoritative in-memory memory set and hands every
// accepted item to a durable write strategy.
package store

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/mnemo/internal/memory"
)

// Sink is a durable destination for memory items. Items are grouped by their
// Type into three append-only destinations.
type Sink interface {
	// Append persists batch. Implementations must write the batch as a unit
	// per destination and must not retain the slice. When some destinations
	// were written before a failure the error is a *PartialWriteError.
	Append(ctx context.Context, batch []memory.Item) error

	// Load returns every previously persisted item.
	Load(ctx context.Context) ([]memory.Item, error)

	Close() error
}

// PartialWriteError reports a batch of which Persisted items reached the sink
// before Err stopped the rest.
type PartialWriteError struct {
	Persisted int
	Err       error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%d items persisted before failure: %v", e.Persisted, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// Writer is the durable-write strategy of a Store.
type Writer interface {
	// Write hands item over for persistence. Strategies may persist before
	// returning or later in the background.
	Write(ctx context.Context, item memory.Item) error

	// Flush persists everything handed over so far before returning.
	Flush(ctx context.Context) error

	Start()

	// Stop ends background activity and flushes the remainder.
	Stop(ctx context.Context) error

	// Pending is the number of items not yet persisted.
	Pending() int

	Statistics() WriterStatistics

	Sink() Sink
}

// WriterStatistics counts persistence outcomes.
type WriterStatistics struct {
	Strategy string `json:"strategy"`
	Pending  int    `json:"pending"`
	Written  int64  `json:"written"`
	Dropped  int64  `json:"dropped"`
	Batches  int64  `json:"batches"`
	Failures int64  `json:"failures"`
}

// Statistics describes the store.
type Statistics struct {
	Memories int              `json:"memories"`
	ByType   map[string]int   `json:"by_type"`
	Writer   WriterStatistics `json:"writer"`
}
