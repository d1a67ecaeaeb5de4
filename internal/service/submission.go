package service

import (
	"context"
	"time"

	"github.com/branchdesk/sequencer/internal/api/dto"
	"github.com/branchdesk/sequencer/internal/domain/submission"
	ierr "github.com/branchdesk/sequencer/internal/errors"
	"github.com/branchdesk/sequencer/internal/types"
	"github.com/samber/lo"
)

// SubmissionService owns the create, edit and delete flows of numbered
// submissions. Every flow is one transaction that includes the allocation.
type SubmissionService interface {
	CreateSubmission(ctx context.Context, req *dto.CreateSubmissionRequest) (*submission.Submission, error)
	EditSubmission(ctx context.Context, id string, req *dto.EditSubmissionRequest) (*submission.Submission, error)
	DeleteSubmission(ctx context.Context, id string) error
	GetSubmission(ctx context.Context, id string) (*submission.Submission, error)
}

type submissionService struct {
	ServiceParams
	sequence SequenceService
}

func NewSubmissionService(params ServiceParams, sequenceService SequenceService) SubmissionService {
	return &submissionService{
		ServiceParams: params,
		sequence:      sequenceService,
	}
}

func (s *submissionService) CreateSubmission(ctx context.Context, req *dto.CreateSubmissionRequest) (*submission.Submission, error) {
	if req == nil {
		return nil, ierr.NewError("request cannot be nil").Mark(ierr.ErrValidation)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var created *submission.Submission
	err := s.withRetry(ctx, "create_submission", func(ctx context.Context) error {
		// A fresh header per attempt; nothing of a failed attempt survives.
		sub := req.ToSubmission(ctx)
		cfg := s.Config.Sequence
		if err := sub.Key().Validate(cfg.MinPeriod, cfg.MaxPeriod); err != nil {
			return err
		}
		if len(req.Items) > 0 {
			sub.Status = types.SubmissionStatusSequenced
		}

		return s.DB.WithTx(ctx, func(ctx context.Context) error {
			if err := s.SubmissionRepo.Create(ctx, sub); err != nil {
				return err
			}

			// A new submission owns no numbers yet, so any declared ones are ignored.
			numbers, err := s.sequence.Renumber(ctx, sub.Key(), nil, dto.DeclaredNumbers(req.Items))
			if err != nil {
				return err
			}

			sub.Items = buildItems(ctx, sub, req.Items, numbers, nil)
			if err := s.ItemRepo.Insert(ctx, sub.Items); err != nil {
				return err
			}
			created = sub
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("created submission",
		"submission_id", created.ID,
		"key", created.Key().String(),
		"items", len(created.Items),
	)
	return created, nil
}

func (s *submissionService) EditSubmission(ctx context.Context, id string, req *dto.EditSubmissionRequest) (*submission.Submission, error) {
	if id == "" {
		return nil, ierr.NewError("submission id is required").Mark(ierr.ErrValidation)
	}
	if req == nil {
		return nil, ierr.NewError("request cannot be nil").Mark(ierr.ErrValidation)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var edited *submission.Submission
	err := s.withRetry(ctx, "edit_submission", func(ctx context.Context) error {
		return s.DB.WithTx(ctx, func(ctx context.Context) error {
			sub, err := s.SubmissionRepo.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}

			current, err := s.ItemRepo.ListBySubmission(ctx, id)
			if err != nil {
				return err
			}
			existing := lo.Map(current, func(item *submission.Item, _ int) int64 { return item.SequenceNumber })

			// The numbering series is fixed at creation. A new effective date is
			// stored but the items stay in the series they were numbered in.
			if req.EffectiveDate != nil {
				if p := types.PeriodFromDate(*req.EffectiveDate); p != sub.Period {
					s.Logger.Infow("effective date moved to another period, keeping numbering series",
						"submission_id", id,
						"period", sub.Period,
						"effective_period", p,
					)
				}
				sub.EffectiveDate = req.EffectiveDate.UTC()
			}

			numbers, err := s.sequence.Renumber(ctx, sub.Key(), existing, dto.DeclaredNumbers(req.Items))
			if err != nil {
				return err
			}

			byNumber := lo.KeyBy(current, func(item *submission.Item) int64 { return item.SequenceNumber })
			sub.Items = buildItems(ctx, sub, req.Items, numbers, byNumber)
			if err := s.ItemRepo.ReplaceForSubmission(ctx, id, sub.Items); err != nil {
				return err
			}

			sub.Status = types.SubmissionStatusUnsequenced
			if len(sub.Items) > 0 {
				sub.Status = types.SubmissionStatusSequenced
			}
			sub.UpdatedAt = time.Now().UTC()
			sub.UpdatedBy = types.GetUserID(ctx)
			if err := s.SubmissionRepo.Update(ctx, sub); err != nil {
				return err
			}

			dropped := lo.Without(existing, sub.Numbers()...)
			if len(dropped) > 0 {
				s.Logger.Infow("numbers released by edit are burned",
					"submission_id", id,
					"key", sub.Key().String(),
					"numbers", dropped,
				)
			}
			edited = sub
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return edited, nil
}

func (s *submissionService) DeleteSubmission(ctx context.Context, id string) error {
	if id == "" {
		return ierr.NewError("submission id is required").Mark(ierr.ErrValidation)
	}

	return s.withRetry(ctx, "delete_submission", func(ctx context.Context) error {
		return s.DB.WithTx(ctx, func(ctx context.Context) error {
			sub, err := s.SubmissionRepo.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			items, err := s.ItemRepo.ListBySubmission(ctx, id)
			if err != nil {
				return err
			}
			if err := s.SubmissionRepo.Delete(ctx, id); err != nil {
				return err
			}

			s.Logger.Infow("deleted submission, its numbers are not reused",
				"submission_id", id,
				"key", sub.Key().String(),
				"burned", len(items),
			)
			return nil
		})
	})
}

func (s *submissionService) GetSubmission(ctx context.Context, id string) (*submission.Submission, error) {
	if id == "" {
		return nil, ierr.NewError("submission id is required").Mark(ierr.ErrValidation)
	}

	sub, err := s.SubmissionRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sub.Items, err = s.ItemRepo.ListBySubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// buildItems pairs inputs with their final numbers. Items that kept a number
// keep the identity of the row that held it.
func buildItems(
	ctx context.Context,
	sub *submission.Submission,
	inputs []*submission.ItemInput,
	numbers []int64,
	previous map[int64]*submission.Item,
) []*submission.Item {
	now := time.Now().UTC()
	items := make([]*submission.Item, len(inputs))
	for i, in := range inputs {
		item := &submission.Item{
			ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBMISSION_ITEM),
			SubmissionID:   sub.ID,
			PartitionKey:   sub.PartitionKey,
			Period:         sub.Period,
			SequenceNumber: numbers[i],
			Position:       i,
			Description:    in.Description,
			Amount:         in.Amount,
			CreatedAt:      now,
			CreatedBy:      types.GetUserID(ctx),
		}
		if prev, ok := previous[numbers[i]]; ok {
			item.ID = prev.ID
			item.CreatedAt = prev.CreatedAt
			item.CreatedBy = prev.CreatedBy
		}
		items[i] = item
	}
	return items
}
