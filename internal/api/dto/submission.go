package dto

import (
	"context"
	"time"

	"github.com/branchdesk/sequencer/internal/domain/submission"
	ierr "github.com/branchdesk/sequencer/internal/errors"
	"github.com/branchdesk/sequencer/internal/types"
	"github.com/branchdesk/sequencer/internal/validator"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// CreateSubmissionRequest is what the record layer passes when a complaint or
// budget booking is first submitted
type CreateSubmissionRequest struct {
	PartitionKey  string                  `json:"partition_key" validate:"required,max=64"`
	EffectiveDate time.Time               `json:"effective_date" validate:"required"`
	Items         []*submission.ItemInput `json:"items" validate:"dive,required"`
}

func (r *CreateSubmissionRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	return validateAmounts(r.Items)
}

// ToSubmission builds the submission header; items are numbered by the service
func (r *CreateSubmissionRequest) ToSubmission(ctx context.Context) *submission.Submission {
	return submission.NewSubmission(ctx, r.PartitionKey, r.EffectiveDate)
}

// EditSubmissionRequest replaces the item list of a submission.
// Items that still declare one of the submission's numbers keep it.
type EditSubmissionRequest struct {
	// EffectiveDate, when set, is stored but never moves the submission to
	// another numbering period
	EffectiveDate *time.Time              `json:"effective_date,omitempty"`
	Items         []*submission.ItemInput `json:"items" validate:"dive,required"`
}

func (r *EditSubmissionRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.EffectiveDate != nil && r.EffectiveDate.IsZero() {
		return ierr.NewError("effective date cannot be zero").
			WithHint("Please provide a valid effective date").
			Mark(ierr.ErrValidation)
	}
	return validateAmounts(r.Items)
}

// DeclaredNumbers returns the numbers the items claim, nil where none
func DeclaredNumbers(items []*submission.ItemInput) []*int64 {
	return lo.Map(items, func(item *submission.ItemInput, _ int) *int64 {
		return item.SequenceNumber
	})
}

func validateAmounts(items []*submission.ItemInput) error {
	for i, item := range items {
		if item.Amount.IsNegative() {
			return ierr.NewErrorf("item %d has a negative amount", i).
				WithHint("Amounts cannot be negative").
				WithReportableDetails(map[string]any{"position": i, "amount": item.Amount.String()}).
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}

// SubmissionResponse is the numbered submission returned to the record layer
type SubmissionResponse struct {
	ID            string                 `json:"id"`
	PartitionKey  string                 `json:"partition_key"`
	Period        types.Period           `json:"period"`
	EffectiveDate time.Time              `json:"effective_date"`
	Status        types.SubmissionStatus `json:"status"`
	Items         []ItemResponse         `json:"items"`
	Total         decimal.Decimal        `json:"total"`
}

type ItemResponse struct {
	ID             string          `json:"id"`
	SequenceNumber int64           `json:"sequence_number"`
	Description    string          `json:"description"`
	Amount         decimal.Decimal `json:"amount"`
}

func ToSubmissionResponse(s *submission.Submission) *SubmissionResponse {
	items := lo.Map(s.Items, func(item *submission.Item, _ int) ItemResponse {
		return ItemResponse{
			ID:             item.ID,
			SequenceNumber: item.SequenceNumber,
			Description:    item.Description,
			Amount:         item.Amount,
		}
	})
	total := lo.Reduce(s.Items, func(acc decimal.Decimal, item *submission.Item, _ int) decimal.Decimal {
		return acc.Add(item.Amount)
	}, decimal.Zero)

	return &SubmissionResponse{
		ID:            s.ID,
		PartitionKey:  s.PartitionKey,
		Period:        s.Period,
		EffectiveDate: s.EffectiveDate,
		Status:        s.Status,
		Items:         items,
		Total:         total,
	}
}
