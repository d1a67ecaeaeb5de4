package testutil

import (
	"context"
	"time"

	"github.com/branchdesk/sequencer/internal/config"
	"github.com/branchdesk/sequencer/internal/domain/sequence"
	"github.com/branchdesk/sequencer/internal/domain/submission"
	"github.com/branchdesk/sequencer/internal/logger"
	"github.com/branchdesk/sequencer/internal/metrics"
	"github.com/branchdesk/sequencer/internal/postgres"
	"github.com/branchdesk/sequencer/internal/repository/memory"
	"github.com/branchdesk/sequencer/internal/types"
	"github.com/branchdesk/sequencer/internal/validator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
)

// Stores holds all the repository interfaces for testing
type Stores struct {
	CounterRepo    sequence.CounterRepository
	SubmissionRepo submission.Repository
	ItemRepo       submission.ItemRepository
}

// BaseServiceTestSuite provides common functionality for all service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx      context.Context
	store    *memory.Store
	stores   Stores
	db       postgres.IClient
	logger   *logger.Logger
	config   *config.Configuration
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	now      time.Time
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	validator.NewValidator()

	cfg := config.GetDefaultConfig()
	cfg.Logging.Level = types.LogLevelInfo
	// Short enough that a stuck lock fails a test instead of hanging it
	cfg.Sequence.LockTimeout = 2 * time.Second
	cfg.Sequence.Retry.InitialInterval = time.Millisecond
	cfg.Sequence.Retry.MaxInterval = 5 * time.Millisecond

	var err error
	s.config = cfg
	s.logger, err = logger.NewLogger(cfg)
	if err != nil {
		s.T().Fatalf("failed to create logger: %v", err)
	}
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.setupContext()
	s.setupStores()
	s.now = time.Now().UTC()
}

func (s *BaseServiceTestSuite) setupContext() {
	s.ctx = SetupContext()
}

func (s *BaseServiceTestSuite) setupStores() {
	s.store = memory.NewStore(s.logger, s.config.Sequence.LockTimeout)
	s.stores = Stores{
		CounterRepo:    s.store.Counters(),
		SubmissionRepo: s.store.Submissions(),
		ItemRepo:       s.store.Items(),
	}
	s.db = s.store

	// A fresh registry per test keeps counters independent
	s.registry = prometheus.NewRegistry()
	s.metrics = metrics.NewMetrics(s.registry, "sequencer_test")
}

// GetContext returns the test context
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetStores returns all test repositories
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetStore returns the in-memory store behind the repositories
func (s *BaseServiceTestSuite) GetStore() *memory.Store {
	return s.store
}

// GetDB returns the test database client
func (s *BaseServiceTestSuite) GetDB() postgres.IClient {
	return s.db
}

// GetLogger returns the test logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetMetrics returns the per-test metrics
func (s *BaseServiceTestSuite) GetMetrics() *metrics.Metrics {
	return s.metrics
}

// GetNow returns the current test time
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now.UTC()
}

// GetUUID returns a new UUID string
func (s *BaseServiceTestSuite) GetUUID() string {
	return types.GenerateUUID()
}
