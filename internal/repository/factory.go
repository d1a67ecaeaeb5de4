package repository

import (
	"github.com/branchdesk/sequencer/internal/config"
	"github.com/branchdesk/sequencer/internal/domain/sequence"
	"github.com/branchdesk/sequencer/internal/domain/submission"
	ierr "github.com/branchdesk/sequencer/internal/errors"
	"github.com/branchdesk/sequencer/internal/logger"
	"github.com/branchdesk/sequencer/internal/postgres"
	"github.com/branchdesk/sequencer/internal/repository/memory"
	postgresRepo "github.com/branchdesk/sequencer/internal/repository/postgres"
	"github.com/branchdesk/sequencer/internal/types"
)

// Repositories is the storage a process runs against, together with the
// transaction boundary the repositories share
type Repositories struct {
	Client     postgres.IClient
	Counter    sequence.CounterRepository
	Submission submission.Repository
	Item       submission.ItemRepository

	db *postgres.DB
}

func NewCounterRepository(db *postgres.DB, logger *logger.Logger) sequence.CounterRepository {
	return postgresRepo.NewCounterRepository(db, logger)
}

func NewSubmissionRepository(db *postgres.DB, logger *logger.Logger) submission.Repository {
	return postgresRepo.NewSubmissionRepository(db, logger)
}

func NewItemRepository(db *postgres.DB, logger *logger.Logger) submission.ItemRepository {
	return postgresRepo.NewItemRepository(db, logger)
}

// NewPostgresRepositories builds the repositories over an open pool
func NewPostgresRepositories(db *postgres.DB, logger *logger.Logger) *Repositories {
	return &Repositories{
		Client:     db,
		Counter:    NewCounterRepository(db, logger),
		Submission: NewSubmissionRepository(db, logger),
		Item:       NewItemRepository(db, logger),
		db:         db,
	}
}

// NewMemoryRepositories builds repositories over a fresh in-process store
func NewMemoryRepositories(cfg *config.Configuration, logger *logger.Logger) *Repositories {
	store := memory.NewStore(logger, cfg.Sequence.LockTimeout)
	return &Repositories{
		Client:     store,
		Counter:    store.Counters(),
		Submission: store.Submissions(),
		Item:       store.Items(),
	}
}

// NewRepositories picks the store named by sequence.store
func NewRepositories(cfg *config.Configuration, logger *logger.Logger) (*Repositories, error) {
	switch cfg.Sequence.Store {
	case types.StoreMemory:
		logger.Warnw("using the in-memory sequence store, counters are lost on restart")
		return NewMemoryRepositories(cfg, logger), nil
	case types.StorePostgres:
		db, err := postgres.NewDB(cfg, logger)
		if err != nil {
			return nil, err
		}
		return NewPostgresRepositories(db, logger), nil
	default:
		return nil, ierr.NewErrorf("unknown sequence store %q", cfg.Sequence.Store).
			WithHint("sequence.store must be postgres or memory").
			Mark(ierr.ErrValidation)
	}
}

// Close releases the database pool, if there is one
func (r *Repositories) Close() {
	if r.db != nil {
		r.db.Close()
	}
}
