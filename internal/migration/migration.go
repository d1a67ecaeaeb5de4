package migration

import (
	"context"
	"fmt"
	"io"

	ierr "github.com/branchdesk/sequencer/internal/errors"
	"github.com/branchdesk/sequencer/internal/logger"
	"github.com/jmoiron/sqlx"
)

// Step is one idempotent schema change
type Step struct {
	Name string
	SQL  string
}

// Runner applies the schema the sequencer needs
type Runner struct {
	logger *logger.Logger
	steps  []Step
}

// NewRunner creates a runner with every step in order
func NewRunner(logger *logger.Logger) *Runner {
	return &Runner{logger: logger, steps: Steps()}
}

// Steps returns the schema changes in the order they must run
func Steps() []Step {
	return []Step{
		{
			Name: "create_sequence_counters",
			SQL: `CREATE TABLE IF NOT EXISTS sequence_counters (
	partition_key VARCHAR(64) NOT NULL,
	period        INTEGER     NOT NULL,
	current_value BIGINT      NOT NULL DEFAULT 0 CHECK (current_value >= 0),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (partition_key, period)
)`,
		},
		{
			Name: "create_sequenced_submissions",
			SQL: `CREATE TABLE IF NOT EXISTS sequenced_submissions (
	id             VARCHAR(50) PRIMARY KEY,
	partition_key  VARCHAR(64) NOT NULL,
	period         INTEGER     NOT NULL,
	effective_date TIMESTAMPTZ NOT NULL,
	status         VARCHAR(20) NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	created_by     VARCHAR(50) NOT NULL DEFAULT '',
	updated_by     VARCHAR(50) NOT NULL DEFAULT ''
)`,
		},
		{
			Name: "create_sequenced_items",
			SQL: `CREATE TABLE IF NOT EXISTS sequenced_items (
	id              VARCHAR(50) PRIMARY KEY,
	submission_id   VARCHAR(50) NOT NULL REFERENCES sequenced_submissions (id) ON DELETE CASCADE,
	partition_key   VARCHAR(64) NOT NULL,
	period          INTEGER     NOT NULL,
	sequence_number BIGINT      NOT NULL CHECK (sequence_number > 0),
	position        INTEGER     NOT NULL,
	description     TEXT        NOT NULL DEFAULT '',
	amount          NUMERIC(20, 4) NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	created_by      VARCHAR(50) NOT NULL DEFAULT ''
)`,
		},
		{
			Name: "unique_item_sequence_number",
			SQL: `CREATE UNIQUE INDEX IF NOT EXISTS idx_sequenced_items_number
	ON sequenced_items (partition_key, period, sequence_number)`,
		},
		{
			Name: "index_items_by_submission",
			SQL: `CREATE INDEX IF NOT EXISTS idx_sequenced_items_submission
	ON sequenced_items (submission_id, position)`,
		},
	}
}

// Run executes every step; each step is idempotent so reruns are safe
func (r *Runner) Run(ctx context.Context, db *sqlx.DB) error {
	for _, step := range r.steps {
		r.logger.Infow("applying migration step", "step", step.Name)
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			return ierr.WithError(err).
				WithMessage(fmt.Sprintf("migration step %s", step.Name)).
				Mark(ierr.ErrDatabase)
		}
	}
	return nil
}

// WriteSQL prints the statements instead of executing them
func (r *Runner) WriteSQL(w io.Writer) error {
	for _, step := range r.steps {
		if _, err := fmt.Fprintf(w, "-- %s\n%s;\n\n", step.Name, step.SQL); err != nil {
			return err
		}
	}
	return nil
}
