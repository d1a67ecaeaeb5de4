package service

import (
	"github.com/branchdesk/sequencer/internal/config"
	"github.com/branchdesk/sequencer/internal/domain/sequence"
	"github.com/branchdesk/sequencer/internal/domain/submission"
	"github.com/branchdesk/sequencer/internal/logger"
	"github.com/branchdesk/sequencer/internal/metrics"
	"github.com/branchdesk/sequencer/internal/postgres"
	"github.com/branchdesk/sequencer/internal/sentry"
)

// ServiceParams holds the dependencies shared by every service
type ServiceParams struct {
	Logger  *logger.Logger
	Config  *config.Configuration
	DB      postgres.IClient
	Metrics *metrics.Metrics
	Sentry  *sentry.Service

	// Repositories
	CounterRepo    sequence.CounterRepository
	SubmissionRepo submission.Repository
	ItemRepo       submission.ItemRepository
}

// Common service params
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	db postgres.IClient,
	metrics *metrics.Metrics,
	sentry *sentry.Service,
	counterRepo sequence.CounterRepository,
	submissionRepo submission.Repository,
	itemRepo submission.ItemRepository,
) ServiceParams {
	return ServiceParams{
		Logger:         logger,
		Config:         config,
		DB:             db,
		Metrics:        metrics,
		Sentry:         sentry,
		CounterRepo:    counterRepo,
		SubmissionRepo: submissionRepo,
		ItemRepo:       itemRepo,
	}
}
