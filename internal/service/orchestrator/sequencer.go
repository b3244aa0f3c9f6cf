// Package orchestrator sequences a sync run through its phases: the infra
// batch, the wait for it to resolve and the services fan-out.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ucm-sync/internal/axl"
	"ucm-sync/internal/entity"
	"ucm-sync/internal/metrics"
	"ucm-sync/internal/models"
	"ucm-sync/internal/service/batch"
	"ucm-sync/internal/service/fanout"
	"ucm-sync/internal/service/history"
	"ucm-sync/internal/service/job"
	"ucm-sync/internal/target"
	"ucm-sync/pkg/log"
)

var (
	ErrTargetNotFound    = target.ErrTargetNotFound
	ErrRunFailed         = errors.New("sync run failed before dispatch")
	ErrRunNotFound       = errors.New("sync run not found")
	ErrMissingCredential = errors.New("target has no AXL credentials")
	ErrShuttingDown      = errors.New("sequencer is shutting down")
)

//nolint:mnd
const (
	defaultPollInterval = 2 * time.Second
	closeTimeout        = 30 * time.Second
)

type TargetResolver interface {
	Resolve(id string) (models.SyncTarget, error)
}

type BatchCoordinator interface {
	Dispatch(ctx context.Context, units []models.SyncUnit, name string) (*batch.BatchHandle, error)
	Status(id string) (*batch.BatchStatus, error)
	Done(id string) (<-chan struct{}, error)
	Release(id string)
}

type ServiceRunner interface {
	Run(ctx context.Context, target models.SyncTarget, entityTypes []models.EntityType) *fanout.PhaseResult
}

type HistoryRecorder interface {
	Open(ctx context.Context, target models.SyncTarget) (*history.Handle, error)
	Close(ctx context.Context, handle *history.Handle, status models.SyncHistoryStatus, cause error, warnings []models.UnitWarning) error
	Latest(ctx context.Context, target models.SyncTarget) (*models.SyncHistory, error)
	Abandon(ctx context.Context, target models.SyncTarget, reason string) error
}

type Options struct {
	PollInterval time.Duration
	// PreflightRetry bounds the ping sent before anything is dispatched.
	PreflightRetry job.RetryPolicy
}

type RunHandle struct {
	RunID     string
	BatchID   string
	HistoryID int64
}

// RunStatus is what an operator sees for a target: the latest run started by
// this process, if any, and the latest ledger entry.
type RunStatus struct {
	TargetID string
	Run      *models.SyncRun
	Latest   *models.SyncHistory
	Outcome  models.SyncOutcome
}

type runState struct {
	mu     sync.RWMutex // Protects run
	run    *models.SyncRun
	handle *history.Handle
	done   chan struct{}
}

func (rs *runState) update(fn func(run *models.SyncRun)) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	fn(rs.run)
}

func (rs *runState) snapshot() *models.SyncRun {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	run := *rs.run
	run.Target = rs.run.Target.Clone()
	run.Warnings = append([]models.UnitWarning(nil), rs.run.Warnings...)
	if rs.run.FinishedAt != nil {
		finished := *rs.run.FinishedAt
		run.FinishedAt = &finished
	}
	return &run
}

type Sequencer struct {
	resolver    TargetResolver
	client      axl.Client
	coordinator BatchCoordinator
	services    ServiceRunner
	history     HistoryRecorder
	options     Options
	logger      zerolog.Logger

	baseCtx   context.Context
	cancel    context.CancelFunc
	lifecycle sync.Mutex // Serializes wg.Add in Start with cancel in Shutdown
	wg        sync.WaitGroup

	mu     sync.RWMutex // Protects runs, latest
	runs   map[string]*runState
	latest map[string]string
}

func NewSequencer(
	resolver TargetResolver,
	client axl.Client,
	coordinator BatchCoordinator,
	services ServiceRunner,
	recorder HistoryRecorder,
	options Options,
) *Sequencer {
	if options.PollInterval <= 0 {
		options.PollInterval = defaultPollInterval
	}
	if options.PreflightRetry.MaxAttempts == 0 {
		options.PreflightRetry.MaxAttempts = 1
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Sequencer{
		resolver:    resolver,
		client:      client,
		coordinator: coordinator,
		services:    services,
		history:     recorder,
		options:     options,
		logger:      log.Logger.With().Str("component", "phase_sequencer").Logger(),
		baseCtx:     baseCtx,
		cancel:      cancel,
		runs:        make(map[string]*runState),
		latest:      make(map[string]string),
	}
}

// Start opens the ledger entry of a new run, checks the target answers and
// dispatches the infra batch. It returns once the batch is dispatched; the
// rest of the run advances in the background.
func (s *Sequencer) Start(ctx context.Context, targetID string) (*RunHandle, error) {
	if s.baseCtx.Err() != nil {
		return nil, ErrShuttingDown
	}

	resolved, err := s.resolver.Resolve(targetID)
	if err != nil {
		return nil, err
	}
	snapshot := resolved.Clone()

	handle, err := s.history.Open(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	run := &models.SyncRun{
		ID:        uuid.NewString(),
		Target:    snapshot,
		Phase:     models.RunPhaseInfraRunning,
		HistoryID: handle.HistoryID,
		StartedAt: handle.StartedAt,
	}
	state := &runState{run: run, handle: handle, done: make(chan struct{})}
	s.register(state)
	metrics.RecordRunStarted()

	logger := s.logger.With().
		Str("run_id", run.ID).
		Str("target", snapshot.String()).
		Int64("history_id", handle.HistoryID).
		Logger()
	logger.Info().Msg("Sync run started")

	if err := s.preflight(ctx, snapshot, logger); err != nil {
		s.fail(state, logger, err)
		return nil, fmt.Errorf("%w: %w", ErrRunFailed, err)
	}

	units := make([]models.SyncUnit, 0, len(entity.InfraTypes()))
	for _, entityType := range entity.InfraTypes() {
		units = append(units, models.NewSyncUnit(entityType, snapshot))
	}
	dispatched, err := s.coordinator.Dispatch(ctx, units, "infra:"+snapshot.ID)
	if err != nil {
		s.fail(state, logger, err)
		return nil, fmt.Errorf("%w: %w", ErrRunFailed, err)
	}

	state.update(func(run *models.SyncRun) {
		run.InfraBatchID = dispatched.ID
		run.InfraState = models.BatchStatePending
		run.Phase = models.RunPhaseAwaitingInfra
	})
	metrics.RecordPhaseTransition(string(models.RunPhaseAwaitingInfra))
	logger.Info().Str("batch_id", dispatched.ID).Int("units", dispatched.Size).Msg("Infra batch dispatched")

	// Shutdown may have started during preflight. The check and wg.Add share
	// a lock with the cancel in Shutdown.
	s.lifecycle.Lock()
	if s.baseCtx.Err() != nil {
		s.lifecycle.Unlock()
		s.coordinator.Release(dispatched.ID)
		s.fail(state, logger, ErrShuttingDown)
		return nil, fmt.Errorf("%w: %w", ErrRunFailed, ErrShuttingDown)
	}
	s.wg.Add(1)
	s.lifecycle.Unlock()
	go s.advance(state, logger.With().Str("batch_id", dispatched.ID).Logger())

	return &RunHandle{RunID: run.ID, BatchID: dispatched.ID, HistoryID: handle.HistoryID}, nil
}

func (s *Sequencer) register(state *runState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	targetID := state.run.Target.ID
	if previous, ok := s.latest[targetID]; ok {
		delete(s.runs, previous)
	}
	s.runs[state.run.ID] = state
	s.latest[targetID] = state.run.ID
}

func (s *Sequencer) preflight(ctx context.Context, snapshot models.SyncTarget, logger zerolog.Logger) error {
	if !snapshot.Credentials.Valid() {
		return fmt.Errorf("%w: %s", ErrMissingCredential, snapshot)
	}
	_, _, err := job.Retry(ctx, s.options.PreflightRetry, "getCCMVersion", logger, func() (struct{}, error) {
		return struct{}{}, s.client.Ping(ctx, snapshot)
	})
	if err != nil {
		return fmt.Errorf("preflight against %s failed: %w", snapshot, err)
	}
	return nil
}

// fail closes the run before anything was dispatched.
func (s *Sequencer) fail(state *runState, logger zerolog.Logger, cause error) {
	logger.Error().Err(cause).Msg("Sync run failed")

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := s.history.Close(ctx, state.handle, models.SyncHistoryStatusFailed, cause, nil); err != nil {
		logger.Error().Err(err).Msg("Failed to close sync history")
	}

	now := time.Now().UTC()
	state.update(func(run *models.SyncRun) {
		run.Phase = models.RunPhaseFailed
		run.Error = cause.Error()
		run.FinishedAt = &now
	})
	metrics.RecordPhaseTransition(string(models.RunPhaseFailed))
	metrics.RecordRunFinished(string(models.SyncOutcomeFailed))
	close(state.done)
}

// advance waits for the infra batch, runs the services phase and closes the
// ledger entry. The wait is driven by the batch completion hook and a status
// poll, so no worker of the pool is held while waiting.
func (s *Sequencer) advance(state *runState, logger zerolog.Logger) {
	defer s.wg.Done()
	ctx := s.baseCtx
	batchID := state.snapshot().InfraBatchID
	defer s.coordinator.Release(batchID)

	infra, err := s.awaitInfra(ctx, batchID, logger)
	if err != nil {
		s.interrupt(state, logger, err)
		return
	}

	warnings := make([]models.UnitWarning, 0)
	for _, result := range infra.Results {
		if warning := result.Warning(); warning != nil {
			warnings = append(warnings, *warning)
		}
	}
	if infra.State == models.BatchStateFailed {
		logger.Warn().Msg("Every infra unit failed, continuing with services in degraded mode")
	}
	state.update(func(run *models.SyncRun) {
		run.InfraState = infra.State
		run.ServicesState = models.BatchStatePending
		run.Phase = models.RunPhaseServicesRunning
		run.Warnings = append(run.Warnings, warnings...)
	})
	metrics.RecordPhaseTransition(string(models.RunPhaseServicesRunning))
	logger.Info().
		Str("infra_state", infra.State.String()).
		Int("infra_failed", infra.Failed).
		Msg("Infra phase resolved, starting services")

	snapshot := state.snapshot()
	services := s.services.Run(ctx, snapshot.Target, entity.ServiceTypes())
	if ctx.Err() != nil {
		s.interrupt(state, logger, ctx.Err())
		return
	}
	warnings = append(warnings, services.Warnings()...)

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	closeErr := s.history.Close(closeCtx, state.handle, models.SyncHistoryStatusCompleted, nil, warnings)
	if closeErr != nil {
		logger.Error().Err(closeErr).Msg("Failed to close sync history")
	}

	now := time.Now().UTC()
	state.update(func(run *models.SyncRun) {
		run.ServicesState = services.State
		run.Warnings = append(run.Warnings, services.Warnings()...)
		run.Phase = models.RunPhaseDone
		run.FinishedAt = &now
		if closeErr != nil {
			run.Error = closeErr.Error()
		}
	})
	outcome := models.SyncOutcomeCompleted
	if len(warnings) > 0 {
		outcome = models.SyncOutcomeCompletedWithErrors
	}
	metrics.RecordPhaseTransition(string(models.RunPhaseDone))
	metrics.RecordRunFinished(string(outcome))
	s.logSummary(logger, state.snapshot(), len(warnings))
	close(state.done)
}

func (s *Sequencer) awaitInfra(ctx context.Context, batchID string, logger zerolog.Logger) (*batch.BatchStatus, error) {
	done, err := s.coordinator.Done(batchID)
	if err != nil {
		return nil, err
	}
	ticker := time.NewTicker(s.options.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return s.coordinator.Status(batchID)
		case <-ticker.C:
			status, err := s.coordinator.Status(batchID)
			if err != nil {
				return nil, err
			}
			if status.State.IsTerminal() {
				return status, nil
			}
			logger.Debug().
				Int("pending", status.Pending).
				Int("succeeded", status.Succeeded).
				Int("failed", status.Failed).
				Msg("Waiting for infra batch")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// interrupt ends a run that could not finish, e.g. on shutdown, so its
// ledger entry does not keep the target busy.
func (s *Sequencer) interrupt(state *runState, logger zerolog.Logger, cause error) {
	logger.Warn().Err(cause).Msg("Sync run interrupted")

	snapshot := state.snapshot()
	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	err := fmt.Errorf("interrupted during %s: %w", snapshot.Phase, cause)
	if closeErr := s.history.Close(closeCtx, state.handle, models.SyncHistoryStatusFailed, err, snapshot.Warnings); closeErr != nil {
		logger.Error().Err(closeErr).Msg("Failed to close sync history")
	}

	now := time.Now().UTC()
	state.update(func(run *models.SyncRun) {
		run.Phase = models.RunPhaseFailed
		run.Error = err.Error()
		run.FinishedAt = &now
	})
	metrics.RecordRunFinished(string(models.SyncOutcomeFailed))
	close(state.done)
}

// Status reports the latest run of target and its ledger outcome.
func (s *Sequencer) Status(ctx context.Context, targetID string) (*RunStatus, error) {
	resolved, err := s.resolver.Resolve(targetID)
	if err != nil {
		return nil, err
	}

	latest, err := s.history.Latest(ctx, resolved)
	if err != nil {
		return nil, err
	}
	outcome, err := models.OutcomeOf(latest)
	if err != nil {
		return nil, err
	}

	status := &RunStatus{TargetID: targetID, Latest: latest, Outcome: outcome}

	s.mu.RLock()
	state, ok := s.runs[s.latest[targetID]]
	s.mu.RUnlock()
	if ok {
		status.Run = state.snapshot()
		if status.Run.Phase == models.RunPhaseAwaitingInfra {
			if infra, err := s.coordinator.Status(status.Run.InfraBatchID); err == nil {
				status.Run.InfraState = infra.State
			}
		}
	}
	return status, nil
}

// Abandon closes the open ledger entry of target as failed. It is the only
// way to release a target whose run died without closing its entry.
func (s *Sequencer) Abandon(ctx context.Context, targetID, reason string) error {
	resolved, err := s.resolver.Resolve(targetID)
	if err != nil {
		return err
	}
	return s.history.Abandon(ctx, resolved, reason)
}

// Wait blocks until the run is done or failed.
func (s *Sequencer) Wait(ctx context.Context, runID string) (*models.SyncRun, error) {
	s.mu.RLock()
	state, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	select {
	case <-state.done:
		return state.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown interrupts every run still in flight and waits for them to close
// their ledger entries.
func (s *Sequencer) Shutdown(ctx context.Context) error {
	s.lifecycle.Lock()
	s.cancel()
	s.lifecycle.Unlock()
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sequencer) logSummary(logger zerolog.Logger, run *models.SyncRun, warnings int) {
	logger.Info().
		Str("infra_state", run.InfraState.String()).
		Str("services_state", run.ServicesState.String()).
		Int("warnings", warnings).
		Dur("duration", run.FinishedAt.Sub(run.StartedAt)).
		Msg("Sync run completed")
}
