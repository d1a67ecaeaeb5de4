package submission

import (
	"context"
	"time"

	"github.com/branchdesk/sequencer/internal/domain/sequence"
	"github.com/branchdesk/sequencer/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Submission is the parent record whose items carry running numbers.
// PartitionKey and Period are fixed when the submission is created.
type Submission struct {
	ID            string                 `db:"id" json:"id"`
	PartitionKey  string                 `db:"partition_key" json:"partition_key"`
	Period        types.Period           `db:"period" json:"period"`
	EffectiveDate time.Time              `db:"effective_date" json:"effective_date"`
	Status        types.SubmissionStatus `db:"status" json:"status"`
	CreatedAt     time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time              `db:"updated_at" json:"updated_at"`
	CreatedBy     string                 `db:"created_by" json:"created_by"`
	UpdatedBy     string                 `db:"updated_by" json:"updated_by"`

	Items []*Item `db:"-" json:"items,omitempty"`
}

// Key returns the sequence series the submission's items are numbered in
func (s *Submission) Key() sequence.Key {
	return sequence.Key{PartitionKey: s.PartitionKey, Period: s.Period}
}

// Numbers returns the running numbers currently held by the items
func (s *Submission) Numbers() []int64 {
	return lo.Map(s.Items, func(item *Item, _ int) int64 { return item.SequenceNumber })
}

// NewSubmission starts a submission for a branch; the period comes from the
// effective date, never from the clock
func NewSubmission(ctx context.Context, partitionKey string, effectiveDate time.Time) *Submission {
	now := time.Now().UTC()
	return &Submission{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBMISSION),
		PartitionKey:  partitionKey,
		Period:        types.PeriodFromDate(effectiveDate),
		EffectiveDate: effectiveDate.UTC(),
		Status:        types.SubmissionStatusUnsequenced,
		CreatedAt:     now,
		UpdatedAt:     now,
		CreatedBy:     types.GetUserID(ctx),
		UpdatedBy:     types.GetUserID(ctx),
	}
}

// Item is one numbered line of a submission
type Item struct {
	ID             string          `db:"id" json:"id"`
	SubmissionID   string          `db:"submission_id" json:"submission_id"`
	PartitionKey   string          `db:"partition_key" json:"partition_key"`
	Period         types.Period    `db:"period" json:"period"`
	SequenceNumber int64           `db:"sequence_number" json:"sequence_number"`
	Position       int             `db:"position" json:"position"`
	Description    string          `db:"description" json:"description"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	CreatedBy      string          `db:"created_by" json:"created_by"`
}

// ItemInput is an item as proposed by a create or edit.
// SequenceNumber is only a claim; it is honoured when the submission owns it.
type ItemInput struct {
	SequenceNumber *int64          `json:"sequence_number,omitempty"`
	Description    string          `json:"description" validate:"max=500"`
	Amount         decimal.Decimal `json:"amount"`
}
