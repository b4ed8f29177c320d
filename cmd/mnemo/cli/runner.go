package cli

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/felixgeelhaar/mnemo/internal/classify"
	"github.com/felixgeelhaar/mnemo/internal/config"
	"github.com/felixgeelhaar/mnemo/internal/embed"
	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/felixgeelhaar/mnemo/internal/observe"
	"github.com/felixgeelhaar/mnemo/internal/runtime"
	"github.com/felixgeelhaar/mnemo/internal/search"
	"github.com/felixgeelhaar/mnemo/internal/search/chromem"
	"github.com/felixgeelhaar/mnemo/internal/search/hnsw"
	"github.com/felixgeelhaar/mnemo/internal/store"
	"github.com/felixgeelhaar/mnemo/internal/weight"
	"github.com/m-mizutani/goerr/v2"
)

// Runner assembles the memory system for one command invocation.
type Runner struct {
	Observer *observe.Observer
	Config   config.Config
}

func NewRunner(obs *observe.Observer, cfg config.Config) *Runner {
	return &Runner{
		Observer: observe.OrDiscard(obs),
		Config:   cfg,
	}
}

// Run builds and starts the runtime, reloads persisted memories, calls fn
// and stops the runtime again, so everything fn added is flushed before Run
// returns.
func (r *Runner) Run(ctx context.Context, fn func(ctx context.Context, rt *runtime.Runtime) error) (err error) {
	log := r.Observer.Log()
	cfg := r.Config

	sink, err := r.openSink()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open sink")
		return err
	}
	defer sink.Close()

	var writer store.Writer
	if cfg.WriteBehind {
		writer = store.NewWriteBehind(sink, store.WriteBehindConfig{
			BatchSize:     cfg.BatchSize,
			FlushInterval: cfg.FlushInterval.Std(),
		}, r.Observer)
	} else {
		writer = store.NewSyncWriter(sink)
	}

	opts := []runtime.Option{
		runtime.WithConfig(runtime.Config{
			SearchThreshold:     cfg.Search.Threshold,
			CacheSize:           cfg.CacheSize,
			MaintenanceInterval: cfg.MaintenanceInterval.Std(),
		}),
	}

	searcher, err := r.openSearcher(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize vector search")
		return err
	}
	if searcher != nil {
		opts = append(opts, runtime.WithSearcher(searcher))
	}

	if cfg.RulesFile != "" {
		c, err := r.loadClassifier(cfg.RulesFile)
		if err != nil {
			return err
		}
		opts = append(opts, runtime.WithClassifier(c))
	}

	bus := runtime.NewEventBus(r.Observer)
	bus.SubscribeAll(func(e runtime.Event) error {
		log.Debug().Str("event", string(e.Type)).Str("id", e.ID).Msg("event")
		return nil
	})

	rt, err := runtime.New(store.New(writer, r.Observer), weight.NewTracker(cfg.Weight.Config(), r.Observer), bus, r.Observer, opts...)
	if err != nil {
		return err
	}

	n, err := rt.Load(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load memories")
		return err
	}
	log.Info().Int("loaded", n).Str("data_dir", cfg.DataDir).Msg("memory system ready")

	rt.Start()
	defer func() {
		if stopErr := rt.Stop(ctx); stopErr != nil && err == nil {
			err = stopErr
		}
	}()

	return fn(ctx, rt)
}

func (r *Runner) openSink() (store.Sink, error) {
	switch r.Config.Sink {
	case "sqlite":
		return store.NewSQLiteSink(filepath.Join(r.Config.DataDir, "mnemo.db"))
	default:
		return store.NewFileSink(r.Config.DataDir, r.Observer)
	}
}

func (r *Runner) openSearcher(ctx context.Context) (search.Searcher, error) {
	sc := r.Config.Search
	switch strings.ToLower(sc.Backend) {
	case "", "none":
		return nil, nil
	case "chromem":
		e, err := embed.New(ctx, sc.Embed)
		if err != nil {
			return nil, err
		}
		return chromem.New(e, sc.TTL.Std(), r.Observer)
	case "hnsw":
		e, err := embed.New(ctx, sc.Embed)
		if err != nil {
			return nil, err
		}
		return hnsw.New(e, sc.TTL.Std(), r.Observer), nil
	}
	return nil, goerr.Wrap(memory.ErrInvalidInput, "unknown search backend", goerr.V("backend", sc.Backend))
}

func (r *Runner) loadClassifier(path string) (classify.Classifier, error) {
	rules, err := classify.LoadRules(path)
	if err != nil {
		return nil, err
	}

	res := classify.Validate(rules)
	for _, w := range res.Warnings {
		r.Observer.Log().Warn().Str("rules", path).Msg(w)
	}
	if !res.Valid {
		return nil, goerr.Wrap(memory.ErrInvalidInput, "invalid classifier rules",
			goerr.V("rules", path), goerr.V("errors", strings.Join(res.Errors, "; ")))
	}
	return classify.New(rules)
}
