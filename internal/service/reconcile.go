package service

import (
	"context"
	"sort"
	"sync"

	"github.com/branchdesk/sequencer/internal/domain/sequence"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
)

// reconcileWorkers bounds how many keys are repaired at the same time
const reconcileWorkers = 8

// ReconcileService finds and repairs counters that lag behind persisted items.
// Allocation already corrects drift on the fly; this is the ops view of it.
type ReconcileService interface {
	// Report lists every key whose items run ahead of its counter, including
	// keys that have items but no counter row at all
	Report(ctx context.Context) ([]sequence.Drift, error)

	// Repair raises each drifted counter to its observed floor. A dry run
	// only reports. Counters are never lowered.
	Repair(ctx context.Context, dryRun bool) ([]sequence.Drift, error)
}

type reconcileService struct {
	ServiceParams
}

func NewReconcileService(params ServiceParams) ReconcileService {
	return &reconcileService{ServiceParams: params}
}

func (s *reconcileService) Report(ctx context.Context) ([]sequence.Drift, error) {
	counters, err := s.CounterRepo.ListCounters(ctx)
	if err != nil {
		return nil, err
	}
	floors, err := s.ItemRepo.ListObservedFloors(ctx)
	if err != nil {
		return nil, err
	}

	byKey := lo.KeyBy(counters, func(c *sequence.Counter) sequence.Key { return c.Key })

	drifts := make([]sequence.Drift, 0)
	for key, floor := range floors {
		d := sequence.Drift{Key: key, ObservedFloor: floor}
		if c, ok := byKey[key]; ok {
			d.CounterExists = true
			d.CounterValue = c.CurrentValue
		}
		if d.Gap() > 0 {
			drifts = append(drifts, d)
		}
	}
	sortDrifts(drifts)

	s.Logger.Infow("drift report",
		"counters", len(counters),
		"keys_with_items", len(floors),
		"drifted", len(drifts),
	)
	return drifts, nil
}

func (s *reconcileService) Repair(ctx context.Context, dryRun bool) ([]sequence.Drift, error) {
	drifts, err := s.Report(ctx)
	if err != nil {
		return nil, err
	}
	if dryRun || len(drifts) == 0 {
		return drifts, nil
	}

	var (
		mu       sync.Mutex
		repaired = make([]sequence.Drift, 0, len(drifts))
	)

	p := pool.New().
		WithContext(ctx).
		WithMaxGoroutines(reconcileWorkers)
	for _, d := range drifts {
		d := d
		p.Go(func(ctx context.Context) error {
			fixed, changed, err := s.repairKey(ctx, d)
			if err != nil {
				s.Logger.Errorw("failed to repair sequence counter",
					"key", d.Key.String(),
					"error", err,
				)
				s.Sentry.CaptureException(err)
				return err
			}
			if changed {
				mu.Lock()
				repaired = append(repaired, fixed)
				mu.Unlock()
			}
			return nil
		})
	}
	err = p.Wait()

	sortDrifts(repaired)
	return repaired, err
}

// repairKey re-reads the floor under the counter lock, since allocations may
// have moved either side since the report
func (s *reconcileService) repairKey(ctx context.Context, reported sequence.Drift) (sequence.Drift, bool, error) {
	key := reported.Key
	var (
		drift   sequence.Drift
		changed bool
	)
	err := s.withRetry(ctx, "repair_counter", func(ctx context.Context) error {
		return s.DB.WithTx(ctx, func(ctx context.Context) error {
			if _, err := s.CounterRepo.GetOrCreate(ctx, key); err != nil {
				return err
			}
			counter, err := s.CounterRepo.LockCounter(ctx, key)
			if err != nil {
				return err
			}
			floor, err := s.ItemRepo.ObservedFloor(ctx, key)
			if err != nil {
				return err
			}

			drift = sequence.Drift{
				Key:           key,
				CounterValue:  counter.CurrentValue,
				ObservedFloor: floor,
				CounterExists: reported.CounterExists,
			}
			if drift.Gap() <= 0 {
				changed = false
				return nil
			}

			if _, err := s.CounterRepo.SetCounter(ctx, key, counter.CurrentValue, floor); err != nil {
				return err
			}
			changed = true
			return nil
		})
	})
	if err != nil {
		return sequence.Drift{}, false, err
	}

	if changed {
		s.Metrics.IncDrift("reconcile")
		s.Logger.Infow("raised sequence counter to observed floor",
			"key", key.String(),
			"from", drift.CounterValue,
			"to", drift.ObservedFloor,
		)
	}
	return drift, changed, nil
}

func sortDrifts(drifts []sequence.Drift) {
	sort.Slice(drifts, func(i, j int) bool {
		if drifts[i].Key.PartitionKey != drifts[j].Key.PartitionKey {
			return drifts[i].Key.PartitionKey < drifts[j].Key.PartitionKey
		}
		return drifts[i].Key.Period < drifts[j].Key.Period
	})
}
