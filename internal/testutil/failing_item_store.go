package testutil

import (
	"context"
	"sync/atomic"

	"github.com/branchdesk/sequencer/internal/domain/submission"
)

// FailingItemStore wraps an item repository and fails writes on demand.
// Reads pass through, so allocation still sees the real floor.
type FailingItemStore struct {
	submission.ItemRepository

	err      error
	failures atomic.Int32
}

func NewFailingItemStore(inner submission.ItemRepository, err error) *FailingItemStore {
	return &FailingItemStore{ItemRepository: inner, err: err}
}

// FailNext makes the next n writes return the configured error
func (f *FailingItemStore) FailNext(n int) {
	f.failures.Store(int32(n))
}

func (f *FailingItemStore) shouldFail() bool {
	for {
		n := f.failures.Load()
		if n <= 0 {
			return false
		}
		if f.failures.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (f *FailingItemStore) Insert(ctx context.Context, items []*submission.Item) error {
	if f.shouldFail() {
		return f.err
	}
	return f.ItemRepository.Insert(ctx, items)
}

func (f *FailingItemStore) ReplaceForSubmission(ctx context.Context, submissionID string, items []*submission.Item) error {
	if f.shouldFail() {
		return f.err
	}
	return f.ItemRepository.ReplaceForSubmission(ctx, submissionID, items)
}
