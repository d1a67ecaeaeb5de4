package memory

import (
	"context"

	"github.com/branchdesk/sequencer/internal/domain/sequence"
	"github.com/branchdesk/sequencer/internal/domain/submission"
	ierr "github.com/branchdesk/sequencer/internal/errors"
	"github.com/samber/lo"
)

type itemStore struct {
	*Store
}

func (s *itemStore) ObservedFloor(ctx context.Context, key sequence.Key) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Max(lo.Keys(s.numbers[key])), nil
}

func (s *itemStore) ListObservedFloors(ctx context.Context) (map[sequence.Key]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	floors := make(map[sequence.Key]int64, len(s.numbers))
	for key, numbers := range s.numbers {
		if len(numbers) == 0 {
			continue
		}
		floors[key] = lo.Max(lo.Keys(numbers))
	}
	return floors, nil
}

func (s *itemStore) ListBySubmission(ctx context.Context, submissionID string) ([]*submission.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Map(s.items[submissionID], func(item *submission.Item, _ int) *submission.Item {
		cp := *item
		return &cp
	}), nil
}

func (s *itemStore) ReplaceForSubmission(ctx context.Context, submissionID string, items []*submission.Item) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		s.mu.RLock()
		keys := append(itemKeys(s.items[submissionID]), itemKeys(items)...)
		s.mu.RUnlock()
		if err := s.lockKeys(ctx, keys); err != nil {
			return err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.removeItems(ctx, submissionID)
		return s.insertItems(ctx, items)
	})
}

func (s *itemStore) Insert(ctx context.Context, items []*submission.Item) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.lockKeys(ctx, itemKeys(items)); err != nil {
			return err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		return s.insertItems(ctx, items)
	})
}

// insertItems enforces the unique (partition, period, number) index and
// stores every item or none; callers hold s.mu
func (s *Store) insertItems(ctx context.Context, items []*submission.Item) error {
	seen := make(map[sequence.Key]map[int64]bool)
	for _, item := range items {
		key := sequence.Key{PartitionKey: item.PartitionKey, Period: item.Period}
		if _, taken := s.numbers[key][item.SequenceNumber]; taken || seen[key][item.SequenceNumber] {
			return ierr.NewErrorf("duplicate sequence number %d for %s", item.SequenceNumber, key).
				WithHint("Could not save, please retry").
				WithReportableDetails(map[string]any{
					"key":             key.String(),
					"sequence_number": item.SequenceNumber,
					"submission_id":   item.SubmissionID,
				}).
				Mark(ierr.ErrConstraintViolation)
		}
		if seen[key] == nil {
			seen[key] = make(map[int64]bool)
		}
		seen[key][item.SequenceNumber] = true
	}

	for _, item := range items {
		cp := *item
		key := sequence.Key{PartitionKey: cp.PartitionKey, Period: cp.Period}
		if s.numbers[key] == nil {
			s.numbers[key] = make(map[int64]string)
		}
		s.numbers[key][cp.SequenceNumber] = cp.ID
		s.items[cp.SubmissionID] = append(s.items[cp.SubmissionID], &cp)
		record(ctx, func() {
			delete(s.numbers[key], cp.SequenceNumber)
			s.items[cp.SubmissionID] = lo.Reject(s.items[cp.SubmissionID], func(it *submission.Item, _ int) bool {
				return it.ID == cp.ID
			})
		})
	}
	return nil
}

// removeItems drops every item of a submission; callers hold s.mu
func (s *Store) removeItems(ctx context.Context, submissionID string) {
	removed := s.items[submissionID]
	if len(removed) == 0 {
		return
	}
	for _, item := range removed {
		delete(s.numbers[sequence.Key{PartitionKey: item.PartitionKey, Period: item.Period}], item.SequenceNumber)
	}
	delete(s.items, submissionID)
	record(ctx, func() {
		for _, item := range removed {
			key := sequence.Key{PartitionKey: item.PartitionKey, Period: item.Period}
			if s.numbers[key] == nil {
				s.numbers[key] = make(map[int64]string)
			}
			s.numbers[key][item.SequenceNumber] = item.ID
		}
		s.items[submissionID] = removed
	})
}
