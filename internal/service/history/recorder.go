// Package history records sync attempts in the ledger and guards each target
// against overlapping runs.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ucm-sync/internal/models"
	"ucm-sync/internal/repository"
	"ucm-sync/pkg/log"
)

var (
	ErrSyncInProgress   = errors.New("a sync is already in progress for this target")
	ErrNothingToAbandon = errors.New("no sync in progress for this target")
	ErrInvalidStatus    = errors.New("history can only be closed as completed or failed")
)

// Handle identifies the open entry of a run.
type Handle struct {
	HistoryID int64
	Kind      models.TargetKind
	TargetID  string
	StartedAt time.Time
}

type Recorder struct {
	repo   repository.SyncHistoryRepository
	now    func() time.Time
	logger zerolog.Logger
}

func NewRecorder(repo repository.SyncHistoryRepository) *Recorder {
	return &Recorder{
		repo:   repo,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.Logger.With().Str("component", "sync_history_recorder").Logger(),
	}
}

// Open starts a ledger entry for target. It fails with ErrSyncInProgress,
// without writing anything, when the target already has an open entry.
func (r *Recorder) Open(ctx context.Context, target models.SyncTarget) (*Handle, error) {
	entry := &models.SyncHistory{
		SyncableType:  target.Kind,
		SyncableID:    target.ID,
		SyncStartTime: r.now(),
		Status:        models.SyncHistoryStatusSyncing,
	}

	if err := r.repo.OpenSyncHistory(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrSyncHistoryOpen) {
			return nil, fmt.Errorf("%w: %s", ErrSyncInProgress, target)
		}
		return nil, fmt.Errorf("failed to open sync history for %s: %w", target, err)
	}

	r.logger.Info().
		Int64("history_id", entry.ID).
		Str("target", target.String()).
		Msg("Sync history opened")
	return &Handle{
		HistoryID: entry.ID,
		Kind:      target.Kind,
		TargetID:  target.ID,
		StartedAt: entry.SyncStartTime,
	}, nil
}

// Close finalizes the entry of handle with an end time, the run error if any
// and the per-unit warnings.
func (r *Recorder) Close(
	ctx context.Context,
	handle *Handle,
	status models.SyncHistoryStatus,
	cause error,
	warnings []models.UnitWarning,
) error {
	if status != models.SyncHistoryStatusCompleted && status != models.SyncHistoryStatusFailed {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	end := r.now()
	entry := &models.SyncHistory{
		ID:            handle.HistoryID,
		SyncableType:  handle.Kind,
		SyncableID:    handle.TargetID,
		SyncStartTime: handle.StartedAt,
		SyncEndTime:   &end,
		Status:        status,
		Warnings:      models.UnitWarnings(warnings),
	}
	if cause != nil {
		message := cause.Error()
		entry.Error = &message
	}

	if err := r.repo.CloseSyncHistory(ctx, entry); err != nil {
		return fmt.Errorf("failed to close sync history %d: %w", handle.HistoryID, err)
	}

	r.logger.Info().
		Int64("history_id", handle.HistoryID).
		Str("target_id", handle.TargetID).
		Str("status", status.String()).
		Int("warnings", len(warnings)).
		Dur("duration", end.Sub(handle.StartedAt)).
		Msg("Sync history closed")
	return nil
}

// Latest returns the most recent entry of target, or nil when the target was
// never synced.
func (r *Recorder) Latest(ctx context.Context, target models.SyncTarget) (*models.SyncHistory, error) {
	entry, err := r.repo.GetLatestSyncHistory(ctx, target.Kind, target.ID)
	if errors.Is(err, repository.ErrHistoryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sync history for %s: %w", target, err)
	}
	return entry, nil
}

// Abandon closes a stuck open entry as failed so the target can be synced
// again. The run owning the entry, if still alive, is not stopped.
func (r *Recorder) Abandon(ctx context.Context, target models.SyncTarget, reason string) error {
	entry, err := r.repo.GetOpenSyncHistory(ctx, target.Kind, target.ID)
	if errors.Is(err, repository.ErrHistoryNotFound) {
		return fmt.Errorf("%w: %s", ErrNothingToAbandon, target)
	}
	if err != nil {
		return fmt.Errorf("failed to read open sync history for %s: %w", target, err)
	}

	r.logger.Warn().
		Int64("history_id", entry.ID).
		Str("target", target.String()).
		Str("reason", reason).
		Msg("Abandoning open sync history")

	handle := &Handle{
		HistoryID: entry.ID,
		Kind:      entry.SyncableType,
		TargetID:  entry.SyncableID,
		StartedAt: entry.SyncStartTime,
	}
	return r.Close(ctx, handle, models.SyncHistoryStatusFailed, fmt.Errorf("abandoned: %s", reason), entry.Warnings)
}
