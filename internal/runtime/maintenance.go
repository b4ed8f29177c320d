package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// CleanupReport counts what one cleanup removed.
type CleanupReport struct {
	SearchExpired int `json:"search_expired"`
	WeightExpired int `json:"weight_expired"`
}

// CleanupExpired drops expired vector-search documents and weight records.
// Memories themselves are never deleted. A search cleanup error does not
// skip the weight cleanup.
func (r *Runtime) CleanupExpired(ctx context.Context) (CleanupReport, error) {
	var (
		report CleanupReport
		err    error
	)
	if r.searcher != nil {
		n, serr := r.searcher.CleanupExpired(ctx)
		if serr != nil {
			err = goerr.Wrap(serr, "search cleanup")
		}
		report.SearchExpired = n
	}
	report.WeightExpired = r.tracker.CleanupExpired(r.now())
	return report, err
}

func (r *Runtime) maintenanceLoop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(r.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := r.runMaintenance(context.Background()); err != nil {
				r.maintenanceFailures.Add(1)
				r.log.Error().Err(err).Msg("maintenance cycle failed")
			}
		}
	}
}

// runMaintenance runs one cleanup and weight refresh. A panic inside the
// cycle is returned as an error.
func (r *Runtime) runMaintenance(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = goerr.New("maintenance panicked", goerr.V("panic", fmt.Sprint(p)))
		}
	}()

	ctx, span := r.observe.StartSpan(ctx, "runtime.maintenance")
	defer span.End()

	r.maintenanceRuns.Add(1)

	report, cleanupErr := r.CleanupExpired(ctx)

	all := r.store.All()
	r.tracker.UpdateWeights(all, r.now())

	r.log.Debug().
		Int("memories", len(all)).
		Int("search_expired", report.SearchExpired).
		Int("weight_expired", report.WeightExpired).
		Msg("maintenance cycle completed")
	return cleanupErr
}
