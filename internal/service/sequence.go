package service

import (
	"context"
	"time"

	"github.com/branchdesk/sequencer/internal/domain/sequence"
	ierr "github.com/branchdesk/sequencer/internal/errors"
	"github.com/branchdesk/sequencer/internal/sentry"
)

// SequenceService hands out running numbers per (partition, period)
type SequenceService interface {
	// AllocateBlock reserves count consecutive numbers above everything issued
	// or persisted for key. The caller consumes Start..End in order. A zero
	// count returns the empty block without touching storage.
	//
	// It joins the transaction in ctx when there is one, so the counter
	// advance commits or rolls back together with the caller's writes.
	AllocateBlock(ctx context.Context, key sequence.Key, count int64) (sequence.Block, error)

	// ObservedFloor returns the highest number persisted for key
	ObservedFloor(ctx context.Context, key sequence.Key) (int64, error)

	// Renumber numbers the proposed items of an edit. Items declaring one of
	// the existing numbers keep it; all others get fresh numbers from a single
	// allocation, in proposed order. The result is aligned with proposed.
	Renumber(ctx context.Context, key sequence.Key, existing []int64, proposed []*int64) ([]int64, error)
}

type sequenceService struct {
	ServiceParams
}

func NewSequenceService(params ServiceParams) SequenceService {
	return &sequenceService{ServiceParams: params}
}

const (
	allocationSuccess    = "success"
	allocationInvalid    = "invalid"
	allocationFailed     = "failed"
	allocationConstraint = "constraint"
)

func (s *sequenceService) validate(key sequence.Key, count int64) error {
	cfg := s.Config.Sequence
	if err := key.Validate(cfg.MinPeriod, cfg.MaxPeriod); err != nil {
		return err
	}
	if count < 0 {
		return ierr.NewErrorf("count must not be negative, got %d", count).
			WithHint("The number of items to number is invalid").
			Mark(ierr.ErrValidation)
	}
	if count > cfg.MaxBlockSize {
		return ierr.NewErrorf("count %d exceeds the maximum block size %d", count, cfg.MaxBlockSize).
			WithHintf("At most %d items can be numbered at once", cfg.MaxBlockSize).
			Mark(ierr.ErrValidation)
	}
	return nil
}

func (s *sequenceService) AllocateBlock(ctx context.Context, key sequence.Key, count int64) (sequence.Block, error) {
	started := time.Now()

	if err := s.validate(key, count); err != nil {
		s.Metrics.ObserveAllocation(allocationInvalid, started)
		return sequence.EmptyBlock(key), err
	}
	if count == 0 {
		return sequence.EmptyBlock(key), nil
	}

	span, ctx := s.Sentry.StartDBSpan(ctx, "sequence.allocate_block", map[string]interface{}{
		"key":   key.String(),
		"count": count,
	})
	defer sentry.FinishSpan(span)

	var block sequence.Block
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.CounterRepo.GetOrCreate(ctx, key); err != nil {
			return err
		}

		// Everything below runs under the row lock until the transaction ends.
		counter, err := s.CounterRepo.LockCounter(ctx, key)
		if err != nil {
			return err
		}

		floor, err := s.ItemRepo.ObservedFloor(ctx, key)
		if err != nil {
			return err
		}

		base := max(counter.CurrentValue, floor)
		if floor > counter.CurrentValue {
			s.Logger.Warnw("sequence counter behind persisted items, allocating above observed floor",
				"key", key.String(),
				"counter_value", counter.CurrentValue,
				"observed_floor", floor,
			)
			s.Metrics.IncDrift("allocate")
			s.Sentry.AddBreadcrumb("sequence", "allocated above observed floor", map[string]interface{}{
				"key":            key.String(),
				"counter_value":  counter.CurrentValue,
				"observed_floor": floor,
			})
		}

		applied, err := s.CounterRepo.SetCounter(ctx, key, counter.CurrentValue, base+count)
		if err != nil {
			return err
		}
		if applied-base != count {
			return ierr.NewErrorf("counter for %s moved by %d, expected %d", key, applied-base, count).
				WithHint("Could not save, please retry").
				WithReportableDetails(map[string]any{
					"key":     key.String(),
					"base":    base,
					"applied": applied,
					"count":   count,
				}).
				Mark(ierr.ErrAllocationFailed)
		}

		block = sequence.Block{Key: key, Start: base + 1, End: base + count}
		return nil
	})
	if err != nil {
		s.observeFailure(key, count, started, err)
		return sequence.EmptyBlock(key), err
	}

	s.Metrics.ObserveAllocation(allocationSuccess, started)
	s.Metrics.AddIssued(key.Period.String(), count)
	s.Logger.Debugw("allocated sequence block",
		"key", key.String(),
		"start", block.Start,
		"end", block.End,
	)
	return block, nil
}

func (s *sequenceService) observeFailure(key sequence.Key, count int64, started time.Time, err error) {
	switch {
	case ierr.IsConstraintViolation(err):
		s.Metrics.ObserveAllocation(allocationConstraint, started)
		s.Logger.Errorw("constraint violation during allocation",
			"key", key.String(),
			"count", count,
			"error", err,
		)
		s.Sentry.CaptureWithTags(err, map[string]string{"sequence_key": key.String()})
	case ierr.IsValidation(err):
		s.Metrics.ObserveAllocation(allocationInvalid, started)
	default:
		s.Metrics.ObserveAllocation(allocationFailed, started)
		s.Logger.Warnw("sequence allocation failed",
			"key", key.String(),
			"count", count,
			"retryable", ierr.IsRetryable(err),
			"error", err,
		)
	}
}

func (s *sequenceService) ObservedFloor(ctx context.Context, key sequence.Key) (int64, error) {
	cfg := s.Config.Sequence
	if err := key.Validate(cfg.MinPeriod, cfg.MaxPeriod); err != nil {
		return 0, err
	}
	return s.ItemRepo.ObservedFloor(ctx, key)
}

func (s *sequenceService) Renumber(ctx context.Context, key sequence.Key, existing []int64, proposed []*int64) ([]int64, error) {
	plan := sequence.Classify(existing, proposed)
	for i, d := range plan.Decisions {
		if d.Ignored != nil {
			s.Logger.Infow("ignoring sequence number not owned by this submission",
				"key", key.String(),
				"position", i,
				"declared", *d.Ignored,
			)
		}
	}

	block, err := s.AllocateBlock(ctx, key, plan.NewCount)
	if err != nil {
		return nil, err
	}
	return plan.Assign(block)
}
