package memory

import (
	"context"

	"github.com/branchdesk/sequencer/internal/domain/submission"
	ierr "github.com/branchdesk/sequencer/internal/errors"
)

type submissionStore struct {
	*Store
}

type submissionLockKey string

func (s *submissionStore) Create(ctx context.Context, sub *submission.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.submissions[sub.ID]; ok {
		return ierr.NewErrorf("submission %s already exists", sub.ID).
			Mark(ierr.ErrAlreadyExists)
	}
	cp := copySubmission(sub)
	s.submissions[sub.ID] = cp
	record(ctx, func() { delete(s.submissions, sub.ID) })
	return nil
}

func (s *submissionStore) Get(ctx context.Context, id string) (*submission.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.submissions[id]
	if !ok {
		return nil, notFound(id)
	}
	return copySubmission(sub), nil
}

func (s *submissionStore) GetForUpdate(ctx context.Context, id string) (*submission.Submission, error) {
	if err := s.lock(ctx, submissionLockKey(id)); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *submissionStore) Update(ctx context.Context, sub *submission.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.submissions[sub.ID]
	if !ok {
		return notFound(sub.ID)
	}
	prev := *existing
	existing.EffectiveDate = sub.EffectiveDate
	existing.Status = sub.Status
	existing.UpdatedAt = sub.UpdatedAt
	existing.UpdatedBy = sub.UpdatedBy
	record(ctx, func() { *existing = prev })
	return nil
}

func (s *submissionStore) Delete(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		s.mu.RLock()
		keys := itemKeys(s.items[id])
		s.mu.RUnlock()
		if err := s.lockKeys(ctx, keys); err != nil {
			return err
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		sub, ok := s.submissions[id]
		if !ok {
			return notFound(id)
		}
		s.removeItems(ctx, id)
		delete(s.submissions, id)
		record(ctx, func() { s.submissions[id] = sub })
		return nil
	})
}

func notFound(id string) error {
	return ierr.NewErrorf("submission %s not found", id).
		WithHintf("Submission %s was not found", id).
		Mark(ierr.ErrNotFound)
}

func copySubmission(sub *submission.Submission) *submission.Submission {
	cp := *sub
	cp.Items = nil
	return &cp
}
