package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"ucm-sync/internal/api"
	"ucm-sync/internal/axl"
	"ucm-sync/internal/config"
	"ucm-sync/internal/metrics"
	repo "ucm-sync/internal/repository"
	"ucm-sync/internal/repository/memory"
	psqlRepo "ucm-sync/internal/repository/postgres"
	"ucm-sync/internal/service/batch"
	"ucm-sync/internal/service/fanout"
	"ucm-sync/internal/service/history"
	"ucm-sync/internal/service/job"
	"ucm-sync/internal/service/orchestrator"
	"ucm-sync/internal/service/scheduler"
	"ucm-sync/internal/target"
	"ucm-sync/pkg/db"
	"ucm-sync/pkg/db/migrations"
	"ucm-sync/pkg/log"
)

// Wiring builds the long-lived components of the service from the
// configuration. Every Init method returns the same instance on repeated
// calls.
type Wiring struct {
	config *config.Config
	logger zerolog.Logger

	mu          sync.Mutex
	datastore   *db.PostgresDatastore
	memoryStore *memory.Store
	axlClient   *axl.SOAPClient
	coordinator *batch.Coordinator
	sequencer   *orchestrator.Sequencer
}

func NewWiring(cfg *config.Config) *Wiring {
	return &Wiring{
		config: cfg,
		logger: log.Logger.With().Str("component", "wiring").Logger(),
	}
}

func (w *Wiring) GetConfig() *config.Config {
	return w.config
}

func (w *Wiring) usesMemory() bool {
	return w.config.Storage.Driver == "memory"
}

func (w *Wiring) InitPostgresDataStore() (*db.PostgresDatastore, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.datastore != nil {
		return w.datastore, nil
	}

	datastore, err := db.NewPostgresDatastore(&w.config.Postgres, migrations.NewPostgresMigration())
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to create Postgres datastore")
		return nil, err
	}
	w.datastore = datastore
	return datastore, nil
}

func (w *Wiring) initMemoryStore() *memory.Store {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.memoryStore == nil {
		w.logger.Warn().Msg("Using in-memory storage, synced records are lost on exit")
		w.memoryStore = memory.New()
	}
	return w.memoryStore
}

func (w *Wiring) InitEntityRecordRepository() (repo.EntityRecordRepository, error) {
	if w.usesMemory() {
		return w.initMemoryStore(), nil
	}
	datastore, err := w.InitPostgresDataStore()
	if err != nil {
		return nil, err
	}
	return psqlRepo.NewEntityRecordRepository(datastore), nil
}

func (w *Wiring) InitSyncHistoryRepository() (repo.SyncHistoryRepository, error) {
	if w.usesMemory() {
		return w.initMemoryStore(), nil
	}
	datastore, err := w.InitPostgresDataStore()
	if err != nil {
		return nil, err
	}
	return psqlRepo.NewSyncHistoryRepository(datastore), nil
}

func (w *Wiring) InitAXLClient() *axl.SOAPClient {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.axlClient == nil {
		w.axlClient = axl.NewSOAPClient(axl.Options{RequestTimeout: w.config.Sync.RequestTimeout})
	}
	return w.axlClient
}

func (w *Wiring) InitResolver() *target.Resolver {
	return target.NewResolver(w.config)
}

// InitSequencer builds the whole sync pipeline and starts the infra worker
// pool. The pool stops when ctx is cancelled or on Close.
func (w *Wiring) InitSequencer(ctx context.Context) (*orchestrator.Sequencer, error) {
	if existing := w.getSequencer(); existing != nil {
		return existing, nil
	}

	records, err := w.InitEntityRecordRepository()
	if err != nil {
		return nil, err
	}
	histories, err := w.InitSyncHistoryRepository()
	if err != nil {
		return nil, err
	}

	client := w.InitAXLClient()
	executor := job.NewExecutor(client, records, job.OptionsFromConfig(w.config.Sync))
	coordinator := batch.NewCoordinator(executor, w.config.Concurrency)
	if err := coordinator.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start batch coordinator: %w", err)
	}

	sequencer := orchestrator.NewSequencer(
		w.InitResolver(),
		client,
		coordinator,
		fanout.NewRunner(client, records, fanout.OptionsFromConfig(w.config)),
		history.NewRecorder(histories),
		orchestrator.Options{
			PollInterval:   w.config.Sync.PollInterval,
			PreflightRetry: job.RetryPolicyFromConfig(w.config.Sync.Retry),
		},
	)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.coordinator = coordinator
	w.sequencer = sequencer
	return sequencer, nil
}

func (w *Wiring) getSequencer() *orchestrator.Sequencer {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sequencer
}

func (w *Wiring) InitScheduler(ctx context.Context) (*scheduler.Scheduler, error) {
	sequencer, err := w.InitSequencer(ctx)
	if err != nil {
		return nil, err
	}
	return scheduler.NewScheduler(sequencer, w.InitResolver(), w.config.Sync.Interval), nil
}

// InitRouter returns the HTTP API with metrics registered and, for postgres
// storage, a database health check.
func (w *Wiring) InitRouter(ctx context.Context) (http.Handler, error) {
	sequencer, err := w.InitSequencer(ctx)
	if err != nil {
		return nil, err
	}
	metrics.Register()

	var opts []api.Option
	if !w.usesMemory() {
		datastore, err := w.InitPostgresDataStore()
		if err != nil {
			return nil, err
		}
		opts = append(opts, api.WithHealthCheck(datastore.Ping))
	}
	return api.NewRouter(sequencer, opts...), nil
}

// Close interrupts in-flight runs, stops the worker pool and closes the
// datastore.
func (w *Wiring) Close(ctx context.Context) error {
	w.mu.Lock()
	sequencer, coordinator, datastore := w.sequencer, w.coordinator, w.datastore
	w.mu.Unlock()

	var shutdownErr error
	if sequencer != nil {
		if err := sequencer.Shutdown(ctx); err != nil {
			w.logger.Error().Err(err).Msg("Sync runs did not stop in time")
			shutdownErr = err
		}
	}
	if coordinator != nil {
		coordinator.Stop()
	}
	if datastore != nil {
		if err := datastore.Close(); err != nil {
			w.logger.Error().Err(err).Msg("Failed to close Postgres datastore")
			return err
		}
	}
	return shutdownErr
}
