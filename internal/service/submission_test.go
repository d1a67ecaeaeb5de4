package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/branchdesk/sequencer/internal/api/dto"
	"github.com/branchdesk/sequencer/internal/domain/sequence"
	"github.com/branchdesk/sequencer/internal/domain/submission"
	ierr "github.com/branchdesk/sequencer/internal/errors"
	"github.com/branchdesk/sequencer/internal/testutil"
	"github.com/branchdesk/sequencer/internal/types"
	"github.com/cockroachdb/errors"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/suite"
)

type SubmissionServiceSuite struct {
	testutil.BaseServiceTestSuite
	items    *testutil.FailingItemStore
	sequence SequenceService
	service  SubmissionService
	date     time.Time
}

func TestSubmissionService(t *testing.T) {
	suite.Run(t, new(SubmissionServiceSuite))
}

func (s *SubmissionServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()

	stores := s.GetStores()
	s.items = testutil.NewFailingItemStore(stores.ItemRepo, errors.New("disk full"))
	params := NewServiceParams(
		s.GetLogger(),
		s.GetConfig(),
		s.GetDB(),
		s.GetMetrics(),
		nil,
		stores.CounterRepo,
		stores.SubmissionRepo,
		s.items,
	)
	s.sequence = NewSequenceService(params)
	s.service = NewSubmissionService(params, s.sequence)
	s.date = time.Date(2024, time.March, 14, 9, 0, 0, 0, time.UTC)
}

func (s *SubmissionServiceSuite) key() sequence.Key {
	return sequence.Key{PartitionKey: "BR01", Period: 2024}
}

func (s *SubmissionServiceSuite) input(description string, number *int64) *submission.ItemInput {
	return &submission.ItemInput{
		SequenceNumber: number,
		Description:    description,
		Amount:         decimal.NewFromInt(100),
	}
}

func (s *SubmissionServiceSuite) create(descriptions ...string) *submission.Submission {
	req := &dto.CreateSubmissionRequest{
		PartitionKey:  "BR01",
		EffectiveDate: s.date,
		Items: lo.Map(descriptions, func(d string, _ int) *submission.ItemInput {
			return s.input(d, nil)
		}),
	}
	sub, err := s.service.CreateSubmission(s.GetContext(), req)
	s.Require().NoError(err)
	return sub
}

// advance burns numbers on the key so the next one issued is to+1
func (s *SubmissionServiceSuite) advance(to int64) {
	block, err := s.sequence.AllocateBlock(s.GetContext(), s.key(), to)
	s.Require().NoError(err)
	s.Require().Equal(to, block.End)
}

func (s *SubmissionServiceSuite) numbersOf(id string) map[string]int64 {
	sub, err := s.service.GetSubmission(s.GetContext(), id)
	s.Require().NoError(err)
	return lo.SliceToMap(sub.Items, func(item *submission.Item) (string, int64) {
		return item.Description, item.SequenceNumber
	})
}

func (s *SubmissionServiceSuite) TestCreateNumbersItemsInOrder() {
	sub := s.create("A", "B", "C")

	s.Equal(types.Period(2024), sub.Period)
	s.Equal(types.SubmissionStatusSequenced, sub.Status)
	s.Equal([]int64{1, 2, 3}, sub.Numbers())
	s.Equal(types.DefaultUserID, sub.CreatedBy)

	got, err := s.service.GetSubmission(s.GetContext(), sub.ID)
	s.Require().NoError(err)
	s.Equal([]int64{1, 2, 3}, got.Numbers())
	s.Equal([]string{"A", "B", "C"}, lo.Map(got.Items, func(item *submission.Item, _ int) string { return item.Description }))
}

func (s *SubmissionServiceSuite) TestCreateWithoutItemsStaysUnsequenced() {
	sub := s.create()
	s.Equal(types.SubmissionStatusUnsequenced, sub.Status)
	s.Empty(sub.Items)

	counters, err := s.GetStores().CounterRepo.ListCounters(s.GetContext())
	s.Require().NoError(err)
	s.Empty(counters)
}

func (s *SubmissionServiceSuite) TestCreateIgnoresDeclaredNumbers() {
	s.advance(4)
	req := &dto.CreateSubmissionRequest{
		PartitionKey:  "BR01",
		EffectiveDate: s.date,
		Items:         []*submission.ItemInput{s.input("A", lo.ToPtr(int64(1))), s.input("B", lo.ToPtr(int64(900)))},
	}
	sub, err := s.service.CreateSubmission(s.GetContext(), req)
	s.Require().NoError(err)
	s.Equal([]int64{5, 6}, sub.Numbers())
}

func (s *SubmissionServiceSuite) TestCreateRejectsInvalidRequests() {
	tests := []struct {
		name string
		req  *dto.CreateSubmissionRequest
	}{
		{name: "nil request", req: nil},
		{name: "missing partition", req: &dto.CreateSubmissionRequest{EffectiveDate: s.date}},
		{name: "missing date", req: &dto.CreateSubmissionRequest{PartitionKey: "BR01"}},
		{name: "date outside periods", req: &dto.CreateSubmissionRequest{
			PartitionKey:  "BR01",
			EffectiveDate: time.Date(1990, time.January, 1, 0, 0, 0, 0, time.UTC),
		}},
		{name: "negative amount", req: &dto.CreateSubmissionRequest{
			PartitionKey:  "BR01",
			EffectiveDate: s.date,
			Items:         []*submission.ItemInput{{Description: "A", Amount: decimal.NewFromInt(-1)}},
		}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.service.CreateSubmission(s.GetContext(), tt.req)
			s.Require().Error(err)
			s.True(ierr.IsValidation(err), "expected validation error, got %v", err)
		})
	}
}

func (s *SubmissionServiceSuite) TestEditKeepsRetainedNumbersAndNeverReusesDropped() {
	s.advance(6)
	sub := s.create("A", "B")
	s.Require().Equal([]int64{7, 8}, sub.Numbers())
	original := lo.KeyBy(sub.Items, func(item *submission.Item) int64 { return item.SequenceNumber })

	// Keep B, drop A, add C
	edited, err := s.service.EditSubmission(s.GetContext(), sub.ID, &dto.EditSubmissionRequest{
		Items: []*submission.ItemInput{
			s.input("B", lo.ToPtr(int64(8))),
			s.input("C", nil),
		},
	})
	s.Require().NoError(err)
	s.Equal([]int64{8, 9}, edited.Numbers())
	s.Equal(original[8].ID, edited.Items[0].ID, "retained item keeps its identity")
	s.Equal(map[string]int64{"B": 8, "C": 9}, s.numbersOf(sub.ID))

	// 7 was burned by the edit
	other := s.create("D")
	s.Equal([]int64{10}, other.Numbers())
}

func (s *SubmissionServiceSuite) TestEditTreatsForeignNumbersAsNew() {
	first := s.create("A", "B")
	second := s.create("C")
	s.Require().Equal([]int64{3}, second.Numbers())

	edited, err := s.service.EditSubmission(s.GetContext(), second.ID, &dto.EditSubmissionRequest{
		Items: []*submission.ItemInput{
			s.input("C", lo.ToPtr(int64(3))),
			s.input("stolen", lo.ToPtr(int64(1))),
		},
	})
	s.Require().NoError(err)
	s.Equal([]int64{3, 4}, edited.Numbers())
	s.Equal(map[string]int64{"A": 1, "B": 2}, s.numbersOf(first.ID))
}

func (s *SubmissionServiceSuite) TestEditWithDuplicateDeclarationKeepsOnlyFirst() {
	sub := s.create("A", "B")

	edited, err := s.service.EditSubmission(s.GetContext(), sub.ID, &dto.EditSubmissionRequest{
		Items: []*submission.ItemInput{
			s.input("A", lo.ToPtr(int64(1))),
			s.input("A copy", lo.ToPtr(int64(1))),
		},
	})
	s.Require().NoError(err)
	s.Equal([]int64{1, 3}, edited.Numbers())
}

func (s *SubmissionServiceSuite) TestEditKeepsPeriodWhenEffectiveDateMoves() {
	sub := s.create("A")
	moved := time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC)

	edited, err := s.service.EditSubmission(s.GetContext(), sub.ID, &dto.EditSubmissionRequest{
		EffectiveDate: &moved,
		Items:         []*submission.ItemInput{s.input("A", lo.ToPtr(int64(1))), s.input("B", nil)},
	})
	s.Require().NoError(err)
	s.Equal(types.Period(2024), edited.Period)
	s.Equal(moved, edited.EffectiveDate)
	s.Equal([]int64{1, 2}, edited.Numbers())

	counters, err := s.GetStores().CounterRepo.ListCounters(s.GetContext())
	s.Require().NoError(err)
	s.Len(counters, 1, "no counter is opened for the new year")
}

func (s *SubmissionServiceSuite) TestEditToNoItems() {
	sub := s.create("A", "B")
	edited, err := s.service.EditSubmission(s.GetContext(), sub.ID, &dto.EditSubmissionRequest{})
	s.Require().NoError(err)
	s.Empty(edited.Items)
	s.Equal(types.SubmissionStatusUnsequenced, edited.Status)

	next := s.create("C")
	s.Equal([]int64{3}, next.Numbers())
}

func (s *SubmissionServiceSuite) TestEditUnknownSubmission() {
	_, err := s.service.EditSubmission(s.GetContext(), "sub_missing", &dto.EditSubmissionRequest{})
	s.Require().Error(err)
	s.True(ierr.IsNotFound(err))

	_, err = s.service.EditSubmission(s.GetContext(), "", &dto.EditSubmissionRequest{})
	s.True(ierr.IsValidation(err))
}

func (s *SubmissionServiceSuite) TestDeleteBurnsNumbers() {
	sub := s.create("A", "B")
	s.Require().NoError(s.service.DeleteSubmission(s.GetContext(), sub.ID))

	_, err := s.service.GetSubmission(s.GetContext(), sub.ID)
	s.True(ierr.IsNotFound(err))

	floor, err := s.sequence.ObservedFloor(s.GetContext(), s.key())
	s.Require().NoError(err)
	s.Equal(int64(0), floor)

	next := s.create("C")
	s.Equal([]int64{3}, next.Numbers())
}

func (s *SubmissionServiceSuite) TestFailedCreateRollsBackEverything() {
	s.items.FailNext(1)

	_, err := s.service.CreateSubmission(s.GetContext(), &dto.CreateSubmissionRequest{
		PartitionKey:  "BR01",
		EffectiveDate: s.date,
		Items:         []*submission.ItemInput{s.input("A", nil), s.input("B", nil)},
	})
	s.Require().Error(err)

	counters, err := s.GetStores().CounterRepo.ListCounters(s.GetContext())
	s.Require().NoError(err)
	s.Empty(counters, "counter creation and advance roll back with the items")

	next := s.create("A", "B")
	s.Equal([]int64{1, 2}, next.Numbers())
}

func (s *SubmissionServiceSuite) TestFailedEditLeavesSubmissionUntouched() {
	sub := s.create("A", "B")
	s.items.FailNext(1)

	_, err := s.service.EditSubmission(s.GetContext(), sub.ID, &dto.EditSubmissionRequest{
		Items: []*submission.ItemInput{s.input("B", lo.ToPtr(int64(2))), s.input("C", nil)},
	})
	s.Require().Error(err)
	s.Equal(map[string]int64{"A": 1, "B": 2}, s.numbersOf(sub.ID))

	next := s.create("D")
	s.Equal([]int64{3}, next.Numbers(), "the aborted edit consumed no numbers")
}

func (s *SubmissionServiceSuite) TestRetryableFailureIsRetried() {
	stores := s.GetStores()
	items := testutil.NewFailingItemStore(stores.ItemRepo,
		ierr.NewError("serialization failure").Mark(ierr.ErrAllocationFailed))
	params := NewServiceParams(s.GetLogger(), s.GetConfig(), s.GetDB(), s.GetMetrics(), nil,
		stores.CounterRepo, stores.SubmissionRepo, items)
	svc := NewSubmissionService(params, NewSequenceService(params))

	items.FailNext(1)
	sub, err := svc.CreateSubmission(s.GetContext(), &dto.CreateSubmissionRequest{
		PartitionKey:  "BR01",
		EffectiveDate: s.date,
		Items:         []*submission.ItemInput{s.input("A", nil)},
	})
	s.Require().NoError(err)
	s.Equal([]int64{1}, sub.Numbers(), "the failed attempt rolled back its allocation")
	s.Equal(float64(1), promtestutil.ToFloat64(s.GetMetrics().RetriesTotal.WithLabelValues("create_submission")))
}

func (s *SubmissionServiceSuite) TestRetriesAreBounded() {
	stores := s.GetStores()
	items := testutil.NewFailingItemStore(stores.ItemRepo,
		ierr.NewError("serialization failure").Mark(ierr.ErrAllocationFailed))
	params := NewServiceParams(s.GetLogger(), s.GetConfig(), s.GetDB(), s.GetMetrics(), nil,
		stores.CounterRepo, stores.SubmissionRepo, items)
	svc := NewSubmissionService(params, NewSequenceService(params))

	items.FailNext(100)
	_, err := svc.CreateSubmission(s.GetContext(), &dto.CreateSubmissionRequest{
		PartitionKey:  "BR01",
		EffectiveDate: s.date,
		Items:         []*submission.ItemInput{s.input("A", nil)},
	})
	s.Require().Error(err)
	s.True(ierr.IsAllocationFailed(err))
	s.Equal(float64(s.GetConfig().Sequence.Retry.MaxAttempts-1),
		promtestutil.ToFloat64(s.GetMetrics().RetriesTotal.WithLabelValues("create_submission")))
}

func (s *SubmissionServiceSuite) TestConstraintViolationIsNotRetried() {
	stores := s.GetStores()
	items := testutil.NewFailingItemStore(stores.ItemRepo,
		ierr.NewError("duplicate sequence number").Mark(ierr.ErrConstraintViolation))
	params := NewServiceParams(s.GetLogger(), s.GetConfig(), s.GetDB(), s.GetMetrics(), nil,
		stores.CounterRepo, stores.SubmissionRepo, items)
	svc := NewSubmissionService(params, NewSequenceService(params))

	items.FailNext(1)
	_, err := svc.CreateSubmission(s.GetContext(), &dto.CreateSubmissionRequest{
		PartitionKey:  "BR01",
		EffectiveDate: s.date,
		Items:         []*submission.ItemInput{s.input("A", nil)},
	})
	s.Require().Error(err)
	s.True(ierr.IsConstraintViolation(err))
	s.Equal(float64(0), promtestutil.ToFloat64(s.GetMetrics().RetriesTotal.WithLabelValues("create_submission")))
}

func (s *SubmissionServiceSuite) TestConcurrentCreatesGetUniqueNumbers() {
	var (
		wg      conc.WaitGroup
		mu      sync.Mutex
		numbers []int64
	)
	for i := 0; i < 10; i++ {
		wg.Go(func() {
			sub, err := s.service.CreateSubmission(s.GetContext(), &dto.CreateSubmissionRequest{
				PartitionKey:  "BR01",
				EffectiveDate: s.date,
				Items:         []*submission.ItemInput{s.input("A", nil), s.input("B", nil), s.input("C", nil)},
			})
			if !s.NoError(err) {
				return
			}
			// Each submission's block is contiguous
			s.Equal(sub.Items[0].SequenceNumber+2, sub.Items[2].SequenceNumber)
			mu.Lock()
			numbers = append(numbers, sub.Numbers()...)
			mu.Unlock()
		})
	}
	wg.Wait()

	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	s.Equal(lo.RangeFrom(int64(1), 30), numbers)
}

func (s *SubmissionServiceSuite) TestPartitionsAreIndependent() {
	a := s.create("A")
	b, err := s.service.CreateSubmission(s.GetContext(), &dto.CreateSubmissionRequest{
		PartitionKey:  "BR02",
		EffectiveDate: s.date,
		Items:         []*submission.ItemInput{s.input("X", nil)},
	})
	s.Require().NoError(err)
	c, err := s.service.CreateSubmission(s.GetContext(), &dto.CreateSubmissionRequest{
		PartitionKey:  "BR01",
		EffectiveDate: s.date.AddDate(1, 0, 0),
		Items:         []*submission.ItemInput{s.input("Y", nil)},
	})
	s.Require().NoError(err)

	s.Equal([]int64{1}, a.Numbers())
	s.Equal([]int64{1}, b.Numbers())
	s.Equal([]int64{1}, c.Numbers())
	s.Equal(types.Period(2025), c.Period)
}

func (s *SubmissionServiceSuite) TestOperationsJoinCallerTransaction() {
	boom := errors.New("boom")
	err := s.GetDB().WithTx(s.GetContext(), func(ctx context.Context) error {
		_, err := s.service.CreateSubmission(ctx, &dto.CreateSubmissionRequest{
			PartitionKey:  "BR01",
			EffectiveDate: s.date,
			Items:         []*submission.ItemInput{s.input("A", nil)},
		})
		s.Require().NoError(err)
		return boom
	})
	s.Require().ErrorIs(err, boom)

	next := s.create("B")
	s.Equal([]int64{1}, next.Numbers())
}
