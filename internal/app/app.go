package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/common"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/handlers"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/interfaces"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/jobs"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/pipeline"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/queue"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/services/auth"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/services/events"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/services/filesource"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/services/matching"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/services/metrics"
	badgerstore "github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	BadgerDB       *badgerstore.BadgerDB
	ArchiveStorage *badgerstore.ArchiveStorage

	// Core services
	EventService   interfaces.EventService
	MetricsService *metrics.Service
	AuthService    *auth.Service
	MatchingEngine *matching.Engine
	RecordSource   *filesource.Source

	// Job execution
	QueueManager *queue.Manager
	WorkerPool   *queue.WorkerPool
	JobManager   *jobs.Manager

	// HTTP handlers
	JobHandler      *handlers.JobHandler
	MetricsHandler  *handlers.MetricsHandler
	WSHandler       *handlers.WebSocketHandler
	EventSubscriber *handlers.EventSubscriber

	scheduler *cron.Cron
}

// New assembles the application. The queue backend is optional: when Badger
// cannot open, the app comes up queue-less and every job runs direct.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	a.EventService = events.NewService(logger)
	a.MetricsService = metrics.NewService(config.Metrics, logger)
	a.AuthService = auth.NewService(config.Auth, logger)
	a.MatchingEngine = matching.NewEngine(logger)
	a.RecordSource = filesource.NewSource(logger)

	if err := a.initQueue(); err != nil {
		// Queue-less startup is a supported degraded mode, not a failure
		logger.Warn().Err(err).Msg("Queue backend unavailable, jobs will run direct")
	}

	a.initJobManager()
	a.initHandlers()
	if err := a.initScheduler(); err != nil {
		return nil, err
	}

	a.MetricsService.SetProviders(metrics.Providers{
		JobCounts:  a.JobManager.CountByStatus,
		QueueStats: a.JobManager.QueueStats,
	})

	return a, nil
}

func (a *App) initQueue() error {
	db, err := badgerstore.NewBadgerDB(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to open badger: %w", err)
	}
	a.BadgerDB = db
	a.ArchiveStorage = badgerstore.NewArchiveStorage(db, a.Logger)

	queueMgr, err := queue.NewManager(
		db.DB(),
		a.Config.Queue.QueueName,
		common.Duration(a.Config.Queue.VisibilityTimeout, 0),
		a.Config.Queue.MaxReceive,
	)
	if err != nil {
		return fmt.Errorf("failed to create queue manager: %w", err)
	}
	a.QueueManager = queueMgr
	return nil
}

func (a *App) initJobManager() {
	store := jobs.NewStore(
		common.Duration(a.Config.Jobs.RetentionWindow, 0),
		a.Config.Jobs.ArchiveSize,
	)
	audit := jobs.NewAuditLog(a.Config.Jobs.AuditLogSize)
	executor := pipeline.NewExecutor(a.MatchingEngine, a.Config.Pipeline, a.Logger)

	if a.ArchiveStorage != nil {
		store.SetArchiveHook(func(job *models.Job) {
			if err := a.ArchiveStorage.SaveJob(job); err != nil {
				a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist archived job")
			}
		})
		store.SetMissFallback(a.ArchiveStorage.GetJob)
	}

	var backend interfaces.QueueBackend
	if a.QueueManager != nil {
		backend = a.QueueManager
	}

	a.JobManager = jobs.NewManager(jobs.ManagerDeps{
		Store:    store,
		Audit:    audit,
		Types:    jobs.NewTypeRegistry(),
		Executor: executor,
		Queue:    backend,
		Events:   a.EventService,
		Metrics:  a.MetricsService,
		Source:   a.RecordSource,
		Logger:   a.Logger,
	}, a.Config)

	if a.QueueManager != nil {
		a.QueueManager.OnDeadLetter(a.JobManager.HandleDeadLetter)

		a.WorkerPool = queue.NewWorkerPool(
			a.QueueManager,
			a.Config.Queue.Concurrency,
			common.Duration(a.Config.Queue.PollInterval, 0),
			a.Logger,
		)
		for _, jobType := range models.AllJobTypes() {
			a.WorkerPool.RegisterHandler(string(jobType), func(ctx context.Context, task *interfaces.Task) error {
				return a.JobManager.ProcessJob(ctx, task.JobID)
			})
		}
	}
}

func (a *App) initHandlers() {
	a.JobHandler = handlers.NewJobHandler(a.JobManager, a.Logger)
	a.MetricsHandler = handlers.NewMetricsHandler(a.MetricsService, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.JobManager, a.MetricsService, a.AuthService, a.Config, a.Logger)
	a.EventSubscriber = handlers.NewEventSubscriber(a.WSHandler, a.EventService, a.Logger)
}

func (a *App) initScheduler() error {
	a.scheduler = cron.New()

	sweep := func() {
		a.JobManager.SweepArchive()
		if a.ArchiveStorage == nil {
			return
		}
		pruned, err := a.ArchiveStorage.Prune(a.Config.Jobs.ArchiveSize)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Durable archive prune failed")
		} else if pruned > 0 {
			a.Logger.Debug().Int("pruned", pruned).Msg("Durable archive trimmed to cap")
		}
	}
	if _, err := a.scheduler.AddFunc(a.Config.Jobs.SweepSchedule, sweep); err != nil {
		return fmt.Errorf("invalid sweep schedule: %w", err)
	}
	if _, err := a.scheduler.AddFunc(a.Config.Metrics.PurgeSchedule, func() {
		a.MetricsService.Purge(time.Now())
	}); err != nil {
		return fmt.Errorf("invalid purge schedule: %w", err)
	}

	return nil
}

// Start launches the background components
func (a *App) Start() error {
	if a.WorkerPool != nil {
		if err := a.WorkerPool.Start(); err != nil {
			return fmt.Errorf("failed to start worker pool: %w", err)
		}
	}

	a.MetricsService.Start()
	a.WSHandler.StartMetricsLoop()
	a.scheduler.Start()

	a.Logger.Info().
		Bool("queue_enabled", a.QueueManager != nil).
		Int("workers", a.Config.Queue.Concurrency).
		Msg("Application started")
	return nil
}

// Shutdown stops background components in reverse dependency order
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info().Msg("Shutting down application...")

	a.scheduler.Stop()
	a.WSHandler.Shutdown()
	a.EventSubscriber.Close()
	a.MetricsService.Stop()

	if a.WorkerPool != nil {
		if err := a.WorkerPool.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Worker pool stop failed")
		}
	}
	if a.QueueManager != nil {
		if err := a.QueueManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Queue close failed")
		}
	}
	if err := a.EventService.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Event service close failed")
	}
	if a.BadgerDB != nil {
		if err := a.BadgerDB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Badger close failed")
		}
	}

	a.Logger.Info().Msg("Application stopped")
	return nil
}
