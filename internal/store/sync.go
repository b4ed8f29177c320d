package store

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/m-mizutani/goerr/v2"
)

// SyncWriter persists every item before Write returns.
type SyncWriter struct {
	sink Sink

	mu sync.Mutex

	written  atomic.Int64
	batches  atomic.Int64
	failures atomic.Int64
}

func NewSyncWriter(sink Sink) *SyncWriter {
	return &SyncWriter{sink: sink}
}

func (w *SyncWriter) Sink() Sink { return w.sink }

func (w *SyncWriter) Write(ctx context.Context, item memory.Item) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.batches.Add(1)
	if err := w.sink.Append(ctx, []memory.Item{item}); err != nil {
		w.failures.Add(1)
		return goerr.Wrap(memory.ErrPersistence, "write item", goerr.V("cause", err.Error()))
	}
	w.written.Add(1)
	return nil
}

func (w *SyncWriter) Flush(context.Context) error { return nil }

func (w *SyncWriter) Start() {}

func (w *SyncWriter) Stop(ctx context.Context) error { return w.Flush(ctx) }

func (w *SyncWriter) Pending() int { return 0 }

func (w *SyncWriter) Statistics() WriterStatistics {
	return WriterStatistics{
		Strategy: "sync",
		Written:  w.written.Load(),
		Batches:  w.batches.Load(),
		Failures: w.failures.Load(),
	}
}
