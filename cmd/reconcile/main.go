package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/branchdesk/sequencer/internal/config"
	"github.com/branchdesk/sequencer/internal/domain/sequence"
	"github.com/branchdesk/sequencer/internal/logger"
	"github.com/branchdesk/sequencer/internal/metrics"
	"github.com/branchdesk/sequencer/internal/repository"
	"github.com/branchdesk/sequencer/internal/sentry"
	"github.com/branchdesk/sequencer/internal/service"
	"github.com/branchdesk/sequencer/internal/types"
	"github.com/branchdesk/sequencer/internal/validator"
	"go.uber.org/fx"
)

type options struct {
	repair bool
	dryRun bool
}

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	repair := flag.Bool("repair", false, "Raise drifted counters to their observed floor")
	dryRun := flag.Bool("dry-run", false, "With -repair, only report what would change")
	flag.Parse()

	app := fx.New(
		fx.Supply(options{repair: *repair, dryRun: *dryRun}),
		fx.Provide(
			// Config
			config.NewConfig,

			// Logger
			logger.NewLogger,

			// Monitoring
			metrics.NewFromConfig,

			// Storage
			provideRepositories,

			// Services
			provideServiceParams,
			service.NewReconcileService,
		),
		sentry.Module(),
		fx.Invoke(validator.NewValidator),
		fx.Invoke(run),
	)
	app.Run()
}

func provideRepositories(lc fx.Lifecycle, cfg *config.Configuration, logger *logger.Logger) (*repository.Repositories, error) {
	repos, err := repository.NewRepositories(cfg, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			repos.Close()
			return nil
		},
	})
	return repos, nil
}

func provideServiceParams(
	logger *logger.Logger,
	cfg *config.Configuration,
	m *metrics.Metrics,
	sentryService *sentry.Service,
	repos *repository.Repositories,
) service.ServiceParams {
	return service.NewServiceParams(
		logger,
		cfg,
		repos.Client,
		m,
		sentryService,
		repos.Counter,
		repos.Submission,
		repos.Item,
	)
}

func run(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	opts options,
	logger *logger.Logger,
	reconcileService service.ReconcileService,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				code := 0
				if err := execute(opts, logger, reconcileService); err != nil {
					logger.Errorw("reconcile failed", "error", err)
					code = 1
				}
				_ = shutdowner.Shutdown(fx.ExitCode(code))
			}()
			return nil
		},
	})
}

func execute(opts options, logger *logger.Logger, reconcileService service.ReconcileService) error {
	ctx := types.SetRequestID(context.Background(), types.GenerateUUID())
	ctx = types.SetUserID(ctx, types.DefaultUserID)

	var (
		drifts []sequence.Drift
		err    error
	)
	if opts.repair {
		logger.Infow("repairing sequence counters", "dry_run", opts.dryRun)
		drifts, err = reconcileService.Repair(ctx, opts.dryRun)
	} else {
		drifts, err = reconcileService.Report(ctx)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(drifts); encErr != nil {
		logger.Errorw("failed to write result", "error", encErr)
	}
	return err
}
