package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/felixgeelhaar/mnemo/internal/observe"
	"github.com/felixgeelhaar/mnemo/internal/search"
	"github.com/felixgeelhaar/mnemo/internal/store"
	"github.com/felixgeelhaar/mnemo/internal/weight"
	"github.com/m-mizutani/gt"
)

type fakeSearcher struct {
	mu       sync.Mutex
	indexed  []memory.Item
	results  []search.Result
	err      error
	panics   bool
	cleanups int
	lastMax  int
	// onSearch runs before each search, outside the lock.
	onSearch func()
}

func (f *fakeSearcher) Search(_ context.Context, _ string, max int, _ float64) ([]search.Result, error) {
	if f.onSearch != nil {
		f.onSearch()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMax = max
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeSearcher) CleanupExpired(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	if f.panics {
		panic("index corrupted")
	}
	return 0, f.err
}

func (f *fakeSearcher) Statistics() search.Statistics {
	return search.Statistics{Backend: "fake"}
}

func (f *fakeSearcher) Index(_ context.Context, item memory.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, item)
	return nil
}

type nopSink struct{}

func (nopSink) Append(context.Context, []memory.Item) error { return nil }

func (nopSink) Load(context.Context) ([]memory.Item, error) { return nil, nil }

func (nopSink) Close() error { return nil }

type testEnv struct {
	rt    *Runtime
	store *store.Store
	bus   *EventBus
	sink  *store.FileSink
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	sink, err := store.NewFileSink(t.TempDir(), nil)
	gt.NoError(t, err).Required()

	s := store.New(store.NewWriteBehind(sink, store.WriteBehindConfig{FlushInterval: time.Hour}, nil), nil)
	bus := NewEventBus(nil)
	rt, err := New(s, weight.NewTracker(weight.DefaultConfig, nil), bus, nil, opts...)
	gt.NoError(t, err).Required()
	return &testEnv{rt: rt, store: s, bus: bus, sink: sink}
}

func (e *testEnv) start(t *testing.T) {
	t.Helper()
	e.rt.Start()
	t.Cleanup(func() { _ = e.rt.Stop(context.Background()) })
}

func TestRuntime_StartStopIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	gt.NoError(t, env.rt.Stop(ctx))

	env.rt.Start()
	env.rt.Start()
	gt.Bool(t, env.rt.Running()).True()

	gt.NoError(t, env.rt.Stop(ctx))
	gt.NoError(t, env.rt.Stop(ctx))
	gt.Bool(t, env.rt.Running()).False()

	published := env.bus.Statistics().Published
	gt.Value(t, published[EventSystemStarted]).Equal(int64(1))
	gt.Value(t, published[EventSystemStopped]).Equal(int64(1))

	// restart after stop
	env.rt.Start()
	gt.NoError(t, env.rt.Stop(ctx))
	gt.Value(t, env.bus.Statistics().Published[EventSystemStarted]).Equal(int64(2))
}

func TestRuntime_NotRunning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	gt.NoError(t, env.rt.AddMemory(ctx, "ignored", memory.Short, memory.Work))
	gt.Value(t, env.store.Len()).Equal(0)
	gt.Array(t, env.rt.SearchMemories(ctx, "ignored", 5)).Length(0)

	gt.Error(t, env.rt.AddMemory(ctx, "", memory.Short, memory.Work)).Is(memory.ErrInvalidInput)
}

func TestRuntime_NotRunningIsLogged(t *testing.T) {
	var buf bytes.Buffer
	s := store.New(store.NewSyncWriter(&nopSink{}), nil)
	rt, err := New(s, weight.NewTracker(weight.DefaultConfig, nil), NewEventBus(nil), observe.NewJSON(&buf, false))
	gt.NoError(t, err).Required()

	gt.NoError(t, rt.AddMemory(context.Background(), "ignored", memory.Short, memory.Work))
	gt.Array(t, rt.SearchMemories(context.Background(), "ignored", 5)).Length(0)

	out := buf.String()
	gt.Value(t, strings.Count(out, memory.ErrNotRunning.Error())).Equal(2)
	gt.String(t, out).Contains("add ignored")
	gt.String(t, out).Contains("search ignored")
}

func TestRuntime_SearchOverlappingAddIsNotCached(t *testing.T) {
	ctx := context.Background()
	fs := &fakeSearcher{results: []search.Result{
		{Item: memory.Item{Content: "older note", Category: memory.Work, Timestamp: "1"}, Score: 0.9},
	}}
	env := newTestEnv(t, WithSearcher(fs))
	env.start(t)

	var once sync.Once
	fs.onSearch = func() {
		once.Do(func() {
			gt.NoError(t, env.rt.AddMemory(ctx, "fresh note", memory.Short, memory.Work))
		})
	}

	gt.Array(t, env.rt.SearchMemories(ctx, "note", 5)).Length(1)
	gt.Array(t, env.rt.SearchMemories(ctx, "note", 5)).Length(1)

	st := env.rt.Statistics()
	gt.Value(t, st.CacheHits).Equal(int64(0))
	gt.Value(t, st.CacheMisses).Equal(int64(2))

	env.rt.SearchMemories(ctx, "note", 5)
	gt.Value(t, env.rt.Statistics().CacheHits).Equal(int64(1))
}

func TestRuntime_AddMemory(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	ctx := context.Background()

	var added []memory.Item
	env.bus.Subscribe(EventMemoryAdded, func(e Event) error {
		item, _ := e.Item()
		added = append(added, item)
		return nil
	})

	gt.NoError(t, env.rt.AddMemory(ctx, "new project kickoff", memory.Short, memory.Other)).Required()
	gt.NoError(t, env.rt.AddMemory(ctx, "project dinner with family", memory.Mid, memory.Family)).Required()
	gt.NoError(t, env.rt.AddMemory(ctx, "bought milk", memory.Long, memory.Other)).Required()
	gt.Error(t, env.rt.AddMemory(ctx, "  ", memory.Short, memory.Other)).Is(memory.ErrInvalidInput)

	item, ok := env.store.Get("new project kickoff")
	gt.Bool(t, ok).True()
	gt.Value(t, item.Category).Equal(memory.Work)

	item, _ = env.store.Get("project dinner with family")
	gt.Value(t, item.Category).Equal(memory.Family)

	item, _ = env.store.Get("bought milk")
	gt.Value(t, item.Category).Equal(memory.Other)

	gt.Array(t, added).Length(3)
	gt.Value(t, env.rt.Statistics().Weight.Tracked).Equal(3)
}

func TestRuntime_CacheHitRate(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	ctx := context.Background()

	gt.Value(t, env.rt.Statistics().CacheHitRate).Equal(0)

	gt.NoError(t, env.rt.AddMemory(ctx, "alpha memory", memory.Short, memory.Other)).Required()

	first := env.rt.SearchMemories(ctx, "alpha", 5)
	gt.Array(t, first).Length(1)
	second := env.rt.SearchMemories(ctx, "alpha", 5)
	gt.Value(t, second).Equal(first)

	st := env.rt.Statistics()
	gt.Value(t, st.CacheHits).Equal(int64(1))
	gt.Value(t, st.CacheMisses).Equal(int64(1))
	gt.Value(t, st.CacheHitRate).Equal(50)
	gt.Value(t, st.TotalSearches).Equal(int64(1))
	gt.Value(t, st.CacheEntries).Equal(1)
}

func TestRuntime_CacheHonorsMaxResults(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		gt.NoError(t, env.rt.AddMemory(ctx, fmt.Sprintf("alpha %d", i), memory.Short, memory.Other)).Required()
	}
	gt.NoError(t, env.rt.AddMemory(ctx, "beta only", memory.Short, memory.Other)).Required()

	gt.Array(t, env.rt.SearchMemories(ctx, "alpha", 1)).Length(1)

	// a list cached for one result cannot serve three
	gt.Array(t, env.rt.SearchMemories(ctx, "alpha", 3)).Length(3)
	gt.Value(t, env.rt.Statistics().CacheMisses).Equal(int64(2))

	gt.Array(t, env.rt.SearchMemories(ctx, "alpha", 2)).Length(2)
	gt.Value(t, env.rt.Statistics().CacheHits).Equal(int64(1))

	// an exhaustive list serves any larger request
	gt.Array(t, env.rt.SearchMemories(ctx, "beta", 5)).Length(1)
	gt.Array(t, env.rt.SearchMemories(ctx, "beta", 50)).Length(1)
	gt.Value(t, env.rt.Statistics().CacheHits).Equal(int64(2))

	// adding a memory invalidates cached lists
	gt.NoError(t, env.rt.AddMemory(ctx, "beta two", memory.Short, memory.Other)).Required()
	gt.Array(t, env.rt.SearchMemories(ctx, "beta", 5)).Length(2)
}

func TestRuntime_SearchMemoriesBatch(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	ctx := context.Background()

	for _, c := range []string{"zebra project", "apple project", "apple pie"} {
		gt.NoError(t, env.rt.AddMemory(ctx, c, memory.Short, memory.Other)).Required()
	}

	got := env.rt.SearchMemoriesBatch(ctx, []string{"project", "apple"}, 10)
	contents := make([]string, len(got))
	for i, item := range got {
		contents[i] = item.Content
	}
	gt.Value(t, contents).Equal([]string{"apple pie", "apple project", "zebra project"})
}

func TestRuntime_AddMemoriesBatch(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)

	err := env.rt.AddMemoriesBatch(context.Background(), []Input{
		{Content: "one", Type: memory.Short},
		{Content: "", Type: memory.Short},
		{Content: "two", Type: memory.Long, Category: memory.Happiness},
	})
	gt.Error(t, err).Is(memory.ErrInvalidInput)
	gt.Value(t, env.store.Len()).Equal(2)
}

func TestRuntime_SearchDelegate(t *testing.T) {
	hit := memory.Item{Content: "vector hit", Type: memory.Mid, Category: memory.Work, Timestamp: "1700000000"}
	fake := &fakeSearcher{results: []search.Result{{Item: hit, Score: 0.9}}}
	env := newTestEnv(t, WithSearcher(fake))
	env.start(t)
	ctx := context.Background()

	gt.NoError(t, env.rt.AddMemory(ctx, "stored fallback text", memory.Short, memory.Work)).Required()
	gt.Array(t, fake.indexed).Length(1)
	gt.Value(t, fake.indexed[0].Content).Equal("stored fallback text")

	got := env.rt.SearchMemories(ctx, "anything", 4)
	gt.Value(t, got).Equal([]memory.Item{hit})
	gt.Value(t, fake.lastMax).Equal(4)

	fake.mu.Lock()
	fake.err = errors.New("backend down")
	fake.mu.Unlock()
	got = env.rt.SearchMemories(ctx, "fallback", 4)
	gt.Array(t, got).Length(1)
	gt.Value(t, got[0].Content).Equal("stored fallback text")

	st := env.rt.Statistics()
	gt.Value(t, st.Search).NotNil()
	gt.Value(t, st.Search.Backend).Equal("fake")
}

func TestRuntime_Weights(t *testing.T) {
	now := time.Unix(1700000000, 0)
	env := newTestEnv(t, WithClock(func() time.Time { return now }))
	env.start(t)
	ctx := context.Background()

	for _, c := range []string{"first", "second", "third"} {
		gt.NoError(t, env.rt.AddMemory(ctx, c, memory.Short, memory.Other)).Required()
	}

	var updates []float64
	env.bus.Subscribe(EventWeightUpdated, func(e Event) error {
		updates = append(updates, e.Data[DataWeight].(float64))
		return nil
	})

	gt.Value(t, env.rt.UpdateMemoryWeight("second", 2)).Equal(1.0)
	env.rt.UpdateMemoryWeight("third", 0.01)
	gt.Value(t, updates).Equal([]float64{1.0, 0.01})

	top := env.rt.TopMemories(2)
	gt.Array(t, top).Length(2)
	gt.Value(t, top[0].Content).Equal("second")
	gt.Value(t, top[1].Content).Equal("first")

	env.rt.RecordMemoryAccess("first")
	gt.Value(t, env.rt.Statistics().Weight.TotalAccesses).Equal(4)

	gt.Array(t, env.rt.RecentMemories(10)).Length(3)
}

func TestRuntime_Maintenance(t *testing.T) {
	fake := &fakeSearcher{}
	env := newTestEnv(t, WithSearcher(fake))
	ctx := context.Background()

	gt.NoError(t, env.rt.runMaintenance(ctx))
	gt.Value(t, fake.cleanups).Equal(1)

	fake.panics = true
	err := env.rt.runMaintenance(ctx)
	gt.Value(t, err).NotNil()
	gt.String(t, err.Error()).Contains("panicked")
}

func TestRuntime_MaintenanceLoopSurvivesFailures(t *testing.T) {
	fake := &fakeSearcher{panics: true}
	cfg := DefaultConfig
	cfg.MaintenanceInterval = 5 * time.Millisecond
	env := newTestEnv(t, WithSearcher(fake), WithConfig(cfg))
	env.rt.Start()

	deadline := time.Now().Add(2 * time.Second)
	for env.rt.maintenanceFailures.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	gt.NoError(t, env.rt.Stop(context.Background()))

	st := env.rt.Statistics()
	gt.Bool(t, st.MaintenanceFailures >= 3).True()
	gt.Bool(t, st.MaintenanceRuns >= st.MaintenanceFailures).True()
}

func TestRuntime_Setters(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	ctx := context.Background()

	gt.Error(t, env.rt.SetSearchThreshold(1.5)).Is(memory.ErrInvalidInput)
	gt.NoError(t, env.rt.SetSearchThreshold(0.8))
	gt.Value(t, env.rt.SearchThreshold()).Equal(0.8)

	gt.NoError(t, env.rt.AddMemory(ctx, "cached thing", memory.Short, memory.Other)).Required()
	env.rt.SearchMemories(ctx, "cached", 1)
	gt.Value(t, env.rt.Statistics().CacheEntries).Equal(1)

	gt.Error(t, env.rt.SetCacheSize(0)).Is(memory.ErrInvalidInput)
	gt.NoError(t, env.rt.SetCacheSize(10))
	st := env.rt.Statistics()
	gt.Value(t, st.CacheEntries).Equal(0)
	gt.Value(t, st.CacheCapacity).Equal(10)

	bad := weight.DefaultConfig
	bad.Floor = 2
	gt.Error(t, env.rt.SetWeightConfig(bad)).Is(memory.ErrInvalidInput)
}

func TestRuntime_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.rt.Start()
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		gt.NoError(t, env.rt.AddMemory(ctx, fmt.Sprintf("memory entry %03d", i), memory.Short, memory.Other)).Required()
	}
	for i := 0; i < 150; i++ {
		want := fmt.Sprintf("memory entry %03d", i)
		got := env.rt.SearchMemories(ctx, want, 1)
		gt.Array(t, got).Length(1)
		gt.Value(t, got[0].Content).Equal(want)
	}

	gt.NoError(t, env.rt.Stop(ctx)).Required()

	data, err := os.ReadFile(env.sink.Path(memory.Short))
	gt.NoError(t, err).Required()
	gt.Array(t, strings.Split(strings.TrimRight(string(data), "\n"), "\n")).Length(150)

	// a fresh runtime reloads and scores what was persisted
	s := store.New(store.NewSyncWriter(env.sink), nil)
	rt, err := New(s, weight.NewTracker(weight.DefaultConfig, nil), NewEventBus(nil), nil)
	gt.NoError(t, err).Required()
	n, err := rt.Load(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(150)
	gt.Value(t, rt.Statistics().Weight.Tracked).Equal(150)
}
