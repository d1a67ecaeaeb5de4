package memory

import (
	"context"
	"testing"
	"time"

	"github.com/branchdesk/sequencer/internal/domain/sequence"
	"github.com/branchdesk/sequencer/internal/domain/submission"
	ierr "github.com/branchdesk/sequencer/internal/errors"
	"github.com/branchdesk/sequencer/internal/logger"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
)

type StoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *Store
	key   sequence.Key
}

func TestStore(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewStore(logger.NewNopLogger(), 50*time.Millisecond)
	s.key = sequence.Key{PartitionKey: "BR01", Period: 2024}
}

func (s *StoreSuite) advance(ctx context.Context, to int64) {
	counters := s.store.Counters()
	c, err := counters.GetOrCreate(ctx, s.key)
	s.Require().NoError(err)
	c, err = counters.LockCounter(ctx, s.key)
	s.Require().NoError(err)
	_, err = counters.SetCounter(ctx, s.key, c.CurrentValue, to)
	s.Require().NoError(err)
}

func (s *StoreSuite) TestCommitKeepsWrites() {
	err := s.store.WithTx(s.ctx, func(ctx context.Context) error {
		s.advance(ctx, 10)
		return nil
	})
	s.Require().NoError(err)

	c, err := s.store.Counters().GetOrCreate(s.ctx, s.key)
	s.Require().NoError(err)
	s.Equal(int64(10), c.CurrentValue)
}

func (s *StoreSuite) TestRollbackUndoesCounterCreationAndUpdate() {
	boom := errors.New("boom")
	err := s.store.WithTx(s.ctx, func(ctx context.Context) error {
		s.advance(ctx, 10)
		return boom
	})
	s.ErrorIs(err, boom)

	counters, err := s.store.Counters().ListCounters(s.ctx)
	s.Require().NoError(err)
	s.Empty(counters)
}

func (s *StoreSuite) TestNestedFailureRollsBackToSavepoint() {
	err := s.store.WithTx(s.ctx, func(ctx context.Context) error {
		s.advance(ctx, 5)
		nestedErr := s.store.WithTx(ctx, func(ctx context.Context) error {
			s.advance(ctx, 9)
			return errors.New("nested")
		})
		s.Error(nestedErr)
		return nil
	})
	s.Require().NoError(err)

	c, err := s.store.Counters().GetOrCreate(s.ctx, s.key)
	s.Require().NoError(err)
	s.Equal(int64(5), c.CurrentValue)
}

func (s *StoreSuite) TestLockOutsideTransactionFails() {
	_, err := s.store.Counters().GetOrCreate(s.ctx, s.key)
	s.Require().NoError(err)

	_, err = s.store.Counters().LockCounter(s.ctx, s.key)
	s.True(ierr.Is(err, ierr.ErrSystem))
}

func (s *StoreSuite) TestLockWaitTimesOutAsAllocationFailure() {
	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- s.store.WithTx(s.ctx, func(ctx context.Context) error {
			if _, err := s.store.Counters().GetOrCreate(ctx, s.key); err != nil {
				return err
			}
			if _, err := s.store.Counters().LockCounter(ctx, s.key); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	err := s.store.WithTx(s.ctx, func(ctx context.Context) error {
		_, err := s.store.Counters().LockCounter(ctx, s.key)
		return err
	})
	s.True(ierr.IsAllocationFailed(err))

	close(release)
	s.NoError(<-done)
}

func (s *StoreSuite) TestDifferentKeysDoNotBlock() {
	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- s.store.WithTx(s.ctx, func(ctx context.Context) error {
			s.advance(ctx, 1)
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	other := sequence.Key{PartitionKey: "BR02", Period: 2024}
	err := s.store.WithTx(s.ctx, func(ctx context.Context) error {
		if _, err := s.store.Counters().GetOrCreate(ctx, other); err != nil {
			return err
		}
		_, err := s.store.Counters().LockCounter(ctx, other)
		return err
	})
	s.NoError(err)

	close(release)
	s.NoError(<-done)
}

func (s *StoreSuite) TestSetCounterRejectsStaleExpectation() {
	err := s.store.WithTx(s.ctx, func(ctx context.Context) error {
		s.advance(ctx, 3)
		_, err := s.store.Counters().SetCounter(ctx, s.key, 0, 4)
		return err
	})
	s.True(ierr.IsAllocationFailed(err))
}

func (s *StoreSuite) TestDuplicateNumbersViolateConstraint() {
	sub := &submission.Submission{ID: "sub_1", PartitionKey: "BR01", Period: 2024}
	items := []*submission.Item{
		{ID: "item_1", SubmissionID: sub.ID, PartitionKey: "BR01", Period: 2024, SequenceNumber: 4},
		{ID: "item_2", SubmissionID: sub.ID, PartitionKey: "BR01", Period: 2024, SequenceNumber: 4},
	}

	err := s.store.WithTx(s.ctx, func(ctx context.Context) error {
		if err := s.store.Submissions().Create(ctx, sub); err != nil {
			return err
		}
		return s.store.Items().Insert(ctx, items)
	})
	s.True(ierr.IsConstraintViolation(err))

	_, err = s.store.Submissions().Get(s.ctx, sub.ID)
	s.True(ierr.IsNotFound(err))
}

func (s *StoreSuite) TestReplaceAndDeleteRollBack() {
	sub := &submission.Submission{ID: "sub_1", PartitionKey: "BR01", Period: 2024}
	original := []*submission.Item{
		{ID: "item_1", SubmissionID: sub.ID, PartitionKey: "BR01", Period: 2024, SequenceNumber: 7},
		{ID: "item_2", SubmissionID: sub.ID, PartitionKey: "BR01", Period: 2024, SequenceNumber: 8},
	}
	s.Require().NoError(s.store.WithTx(s.ctx, func(ctx context.Context) error {
		if err := s.store.Submissions().Create(ctx, sub); err != nil {
			return err
		}
		return s.store.Items().Insert(ctx, original)
	}))

	err := s.store.WithTx(s.ctx, func(ctx context.Context) error {
		replacement := []*submission.Item{
			{ID: "item_3", SubmissionID: sub.ID, PartitionKey: "BR01", Period: 2024, SequenceNumber: 9},
		}
		if err := s.store.Items().ReplaceForSubmission(ctx, sub.ID, replacement); err != nil {
			return err
		}
		if err := s.store.Submissions().Delete(ctx, sub.ID); err != nil {
			return err
		}
		return errors.New("abort")
	})
	s.Error(err)

	items, err := s.store.Items().ListBySubmission(s.ctx, sub.ID)
	s.Require().NoError(err)
	s.Len(items, 2)

	floor, err := s.store.Items().ObservedFloor(s.ctx, s.key)
	s.Require().NoError(err)
	s.Equal(int64(8), floor)

	_, err = s.store.Submissions().Get(s.ctx, sub.ID)
	s.NoError(err)
}

func (s *StoreSuite) TestRolledBackCreationKeepsCounterCommittedMeanwhile() {
	store := NewStore(logger.NewNopLogger(), time.Second)
	counters := store.Counters()

	created := make(chan struct{})
	committed := make(chan error, 1)
	aborted := make(chan error, 1)

	go func() {
		aborted <- store.WithTx(s.ctx, func(ctx context.Context) error {
			if _, err := counters.GetOrCreate(ctx, s.key); err != nil {
				return err
			}
			close(created)
			// Give the other transaction time to queue behind the creation
			time.Sleep(20 * time.Millisecond)
			return errors.New("abort")
		})
	}()
	<-created

	go func() {
		committed <- store.WithTx(s.ctx, func(ctx context.Context) error {
			if _, err := counters.GetOrCreate(ctx, s.key); err != nil {
				return err
			}
			c, err := counters.LockCounter(ctx, s.key)
			if err != nil {
				return err
			}
			_, err = counters.SetCounter(ctx, s.key, c.CurrentValue, 3)
			return err
		})
	}()

	s.Error(<-aborted)
	s.Require().NoError(<-committed)

	list, err := counters.ListCounters(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(int64(3), list[0].CurrentValue)
}

func (s *StoreSuite) TestFloorIsNotReadFromUncommittedItemWrites() {
	store := NewStore(logger.NewNopLogger(), time.Second)
	sub := &submission.Submission{ID: "sub_1", PartitionKey: "BR01", Period: 2024}
	s.Require().NoError(store.Submissions().Create(s.ctx, sub))
	s.Require().NoError(store.Items().Insert(s.ctx, []*submission.Item{
		{ID: "item_1", SubmissionID: sub.ID, PartitionKey: "BR01", Period: 2024, SequenceNumber: 50},
	}))

	replaced := make(chan struct{})
	aborted := make(chan error, 1)
	go func() {
		aborted <- store.WithTx(s.ctx, func(ctx context.Context) error {
			if err := store.Items().ReplaceForSubmission(ctx, sub.ID, nil); err != nil {
				return err
			}
			close(replaced)
			time.Sleep(20 * time.Millisecond)
			return errors.New("abort")
		})
	}()
	<-replaced

	var floor int64
	err := store.WithTx(s.ctx, func(ctx context.Context) error {
		if _, err := store.Counters().GetOrCreate(ctx, s.key); err != nil {
			return err
		}
		if _, err := store.Counters().LockCounter(ctx, s.key); err != nil {
			return err
		}
		var err error
		floor, err = store.Items().ObservedFloor(ctx, s.key)
		return err
	})
	s.Require().NoError(err)
	s.Error(<-aborted)
	s.Equal(int64(50), floor)
}

func (s *StoreSuite) TestCanceledLockWaitIsNotRetryable() {
	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	store := NewStore(logger.NewNopLogger(), time.Second)
	go func() {
		done <- store.WithTx(s.ctx, func(ctx context.Context) error {
			if _, err := store.Counters().GetOrCreate(ctx, s.key); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	ctx, cancel := context.WithCancel(s.ctx)
	time.AfterFunc(10*time.Millisecond, cancel)
	err := store.WithTx(ctx, func(ctx context.Context) error {
		_, err := store.Counters().LockCounter(ctx, s.key)
		return err
	})
	s.True(ierr.IsCanceled(err))
	s.False(ierr.IsRetryable(err))

	close(release)
	s.NoError(<-done)
}
