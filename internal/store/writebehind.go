package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/felixgeelhaar/mnemo/internal/observe"
	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = 5 * time.Second
)

// WriteBehindConfig tunes the background flush worker.
type WriteBehindConfig struct {
	// BatchSize is the largest batch a single pass writes.
	BatchSize int

	// FlushInterval bounds how long the worker sleeps without a wake signal.
	FlushInterval time.Duration
}

// WriteBehind queues items in memory and persists them in batches from a
// single background worker.
type WriteBehind struct {
	sink Sink
	cfg  WriteBehindConfig
	obs  *observe.Observer
	log  *bolt.Logger

	mu    sync.Mutex
	queue []memory.Item

	// writeMu keeps at most one physical batch write in flight.
	writeMu sync.Mutex

	wake chan struct{}

	lifeMu  sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	written  atomic.Int64
	dropped  atomic.Int64
	batches  atomic.Int64
	failures atomic.Int64
}

// NewWriteBehind creates a batched asynchronous writer. Zero config values
// fall back to the defaults.
func NewWriteBehind(sink Sink, cfg WriteBehindConfig, obs *observe.Observer) *WriteBehind {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	obs = observe.OrDiscard(obs)
	return &WriteBehind{
		sink: sink,
		cfg:  cfg,
		obs:  obs,
		log:  obs.Component("store"),
		wake: make(chan struct{}, 1),
	}
}

func (w *WriteBehind) Sink() Sink { return w.sink }

// Write enqueues item and wakes the worker without blocking the caller.
// Signals coalesce while the worker is busy; it drains up to a batch per
// pass and keeps going while a full batch remains.
func (w *WriteBehind) Write(_ context.Context, item memory.Item) error {
	w.mu.Lock()
	w.queue = append(w.queue, item)
	w.mu.Unlock()

	w.signal()
	return nil
}

func (w *WriteBehind) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *WriteBehind) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Start launches the worker. Calling it while running is a no-op.
func (w *WriteBehind) Start() {
	w.lifeMu.Lock()
	defer w.lifeMu.Unlock()
	if w.running {
		return
	}

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true
	go w.run(w.stopCh, w.doneCh)

	w.log.Info().
		Int("batch_size", w.cfg.BatchSize).
		Str("flush_interval", w.cfg.FlushInterval.String()).
		Msg("write-behind worker started")
}

// Stop signals the worker, waits for its current pass to finish and then
// drains the queue synchronously.
func (w *WriteBehind) Stop(ctx context.Context) error {
	w.lifeMu.Lock()
	if w.running {
		close(w.stopCh)
		<-w.doneCh
		w.running = false
		w.log.Info().Msg("write-behind worker stopped")
	}
	w.lifeMu.Unlock()

	return w.Flush(ctx)
}

func (w *WriteBehind) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-w.wake:
			w.pass()
		case <-ticker.C:
			w.pass()
		}
	}
}

func (w *WriteBehind) pass() {
	ctx, span := w.obs.StartSpan(context.Background(), "store.flush_batch")
	defer span.End()

	// errors are already logged and counted by flushOnce
	_, _ = w.flushOnce(ctx, w.cfg.BatchSize)

	if w.Pending() >= w.cfg.BatchSize {
		w.signal()
	}
}

// Flush drains the whole queue. It is safe to call concurrently with the
// worker; batches are written one at a time.
func (w *WriteBehind) Flush(ctx context.Context) error {
	var first error
	for {
		n, err := w.flushOnce(ctx, w.cfg.BatchSize)
		if err != nil && first == nil {
			first = err
		}
		if n == 0 {
			return first
		}
	}
}

// flushOnce moves up to limit items out of the queue and writes them. The
// queue lock is released before the sink is called. A failed batch is
// dropped.
func (w *WriteBehind) flushOnce(ctx context.Context, limit int) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	n := len(w.queue)
	if n > limit {
		n = limit
	}
	if n == 0 {
		w.mu.Unlock()
		return 0, nil
	}
	batch := make([]memory.Item, n)
	copy(batch, w.queue[:n])
	rest := copy(w.queue, w.queue[n:])
	clear(w.queue[rest:])
	w.queue = w.queue[:rest]
	w.mu.Unlock()

	w.batches.Add(1)
	if err := w.sink.Append(ctx, batch); err != nil {
		persisted := 0
		var partial *PartialWriteError
		if errors.As(err, &partial) {
			persisted = min(max(partial.Persisted, 0), n)
		}
		w.written.Add(int64(persisted))
		w.dropped.Add(int64(n - persisted))
		w.failures.Add(1)
		w.log.Error().Err(err).Int("written", persisted).Int("dropped", n-persisted).Msg("batch write failed, remainder dropped")
		return n, goerr.Wrap(memory.ErrPersistence, "write batch", goerr.V("size", n), goerr.V("persisted", persisted), goerr.V("cause", err.Error()))
	}

	w.written.Add(int64(n))
	w.log.Debug().Int("written", n).Msg("batch written")
	return n, nil
}

func (w *WriteBehind) Statistics() WriterStatistics {
	return WriterStatistics{
		Strategy: "write-behind",
		Pending:  w.Pending(),
		Written:  w.written.Load(),
		Dropped:  w.dropped.Load(),
		Batches:  w.batches.Load(),
		Failures: w.failures.Load(),
	}
}
