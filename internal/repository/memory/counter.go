package memory

import (
	"context"
	"sort"
	"time"

	"github.com/branchdesk/sequencer/internal/domain/sequence"
	ierr "github.com/branchdesk/sequencer/internal/errors"
)

type counterStore struct {
	*Store
}

// GetOrCreate takes the key lock before it looks for the row, the way a
// conflicting insert waits on the row in postgres. A creation that is rolled
// back can then never remove a counter another transaction committed.
func (s *counterStore) GetOrCreate(ctx context.Context, key sequence.Key) (*sequence.Counter, error) {
	var counter *sequence.Counter
	err := s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.lock(ctx, key); err != nil {
			return err
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		if c, ok := s.counters[key]; ok {
			counter = copyCounter(c)
			return nil
		}

		now := time.Now().UTC()
		c := &sequence.Counter{Key: key, CreatedAt: now, UpdatedAt: now}
		s.counters[key] = c
		record(ctx, func() { delete(s.counters, key) })
		counter = copyCounter(c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counter, nil
}

func (s *counterStore) LockCounter(ctx context.Context, key sequence.Key) (*sequence.Counter, error) {
	if err := s.lock(ctx, key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.counters[key]
	if !ok {
		return nil, ierr.NewErrorf("counter %s vanished before it could be locked", key).
			WithHint("Could not save, please retry").
			Mark(ierr.ErrAllocationFailed)
	}
	return copyCounter(c), nil
}

func (s *counterStore) SetCounter(ctx context.Context, key sequence.Key, expected, value int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || c.CurrentValue != expected {
		return 0, ierr.NewErrorf("counter %s update affected no rows", key).
			WithHint("Could not save, please retry").
			WithReportableDetails(map[string]any{
				"key":      key.String(),
				"expected": expected,
				"value":    value,
			}).
			Mark(ierr.ErrAllocationFailed)
	}

	prev := *c
	c.CurrentValue = value
	c.UpdatedAt = time.Now().UTC()
	record(ctx, func() { *c = prev })
	return c.CurrentValue, nil
}

func (s *counterStore) ListCounters(ctx context.Context) ([]*sequence.Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counters := make([]*sequence.Counter, 0, len(s.counters))
	for _, c := range s.counters {
		counters = append(counters, copyCounter(c))
	}
	sort.Slice(counters, func(i, j int) bool {
		if counters[i].PartitionKey != counters[j].PartitionKey {
			return counters[i].PartitionKey < counters[j].PartitionKey
		}
		return counters[i].Period < counters[j].Period
	})
	return counters, nil
}

func copyCounter(c *sequence.Counter) *sequence.Counter {
	cp := *c
	return &cp
}
