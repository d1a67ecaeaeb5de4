package postgres

import (
	"context"

	"github.com/branchdesk/sequencer/internal/domain/submission"
	ierr "github.com/branchdesk/sequencer/internal/errors"
	"github.com/branchdesk/sequencer/internal/logger"
	"github.com/branchdesk/sequencer/internal/postgres"
)

type submissionRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewSubmissionRepository(db *postgres.DB, logger *logger.Logger) submission.Repository {
	return &submissionRepository{db: db, logger: logger}
}

const selectSubmissionQuery = `
	SELECT id, partition_key, period, effective_date, status,
		created_at, updated_at, created_by, updated_by
	FROM sequenced_submissions
	WHERE id = $1`

func (r *submissionRepository) Create(ctx context.Context, s *submission.Submission) error {
	query := `
		INSERT INTO sequenced_submissions (
			id, partition_key, period, effective_date, status,
			created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :partition_key, :period, :effective_date, :status,
			:created_at, :updated_at, :created_by, :updated_by
		)`

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, s); err != nil {
		return postgres.TranslateError(err, "insert submission")
	}
	return nil
}

func (r *submissionRepository) Get(ctx context.Context, id string) (*submission.Submission, error) {
	return r.get(ctx, selectSubmissionQuery, id)
}

func (r *submissionRepository) GetForUpdate(ctx context.Context, id string) (*submission.Submission, error) {
	if _, ok := postgres.GetTx(ctx); !ok {
		return nil, ierr.NewError("submission lock requested outside a transaction").
			Mark(ierr.ErrSystem)
	}
	return r.get(ctx, selectSubmissionQuery+" FOR UPDATE", id)
}

func (r *submissionRepository) get(ctx context.Context, query, id string) (*submission.Submission, error) {
	var s submission.Submission
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &s, query, id); err != nil {
		err = postgres.TranslateError(err, "get submission")
		if ierr.IsNotFound(err) {
			return nil, ierr.WithError(err).
				WithHintf("Submission %s was not found", id).
				Mark(ierr.ErrNotFound)
		}
		return nil, err
	}
	return &s, nil
}

func (r *submissionRepository) Update(ctx context.Context, s *submission.Submission) error {
	query := `
		UPDATE sequenced_submissions
		SET effective_date = :effective_date, status = :status,
			updated_at = :updated_at, updated_by = :updated_by
		WHERE id = :id`

	result, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, s)
	if err != nil {
		return postgres.TranslateError(err, "update submission")
	}
	return requireOneRow(result, s.ID)
}

func (r *submissionRepository) Delete(ctx context.Context, id string) error {
	// Items go with the submission through the foreign key cascade.
	// The counter is left alone, so their numbers are never handed out again.
	result, err := r.db.GetQuerier(ctx).ExecContext(ctx, `DELETE FROM sequenced_submissions WHERE id = $1`, id)
	if err != nil {
		return postgres.TranslateError(err, "delete submission")
	}
	return requireOneRow(result, id)
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func requireOneRow(result rowsAffecter, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return postgres.TranslateError(err, "rows affected")
	}
	if rows == 0 {
		return ierr.NewErrorf("submission %s not found", id).
			WithHintf("Submission %s was not found", id).
			Mark(ierr.ErrNotFound)
	}
	return nil
}
