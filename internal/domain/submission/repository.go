package submission

import (
	"context"

	"github.com/branchdesk/sequencer/internal/domain/sequence"
)

type Repository interface {
	Create(ctx context.Context, s *Submission) error
	Get(ctx context.Context, id string) (*Submission, error)
	// GetForUpdate locks the submission row for the rest of the transaction
	GetForUpdate(ctx context.Context, id string) (*Submission, error)
	Update(ctx context.Context, s *Submission) error
	Delete(ctx context.Context, id string) error
}

// ItemRepository stores numbered items. It is also the floor reader the
// allocator consults, since items are the source of truth for what exists.
type ItemRepository interface {
	sequence.FloorReader
	ListBySubmission(ctx context.Context, submissionID string) ([]*Item, error)
	// ReplaceForSubmission deletes every item of the submission and inserts items
	ReplaceForSubmission(ctx context.Context, submissionID string, items []*Item) error
	// Insert stores items as given. Used by imports that carry their own numbers.
	Insert(ctx context.Context, items []*Item) error
}
