package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"ucm-sync/internal/models"
	"ucm-sync/internal/repository"
	"ucm-sync/pkg/db"
	"ucm-sync/pkg/log"
)

const syncHistoryColumns = `id, syncable_type, syncable_id, sync_start_time, sync_end_time, status, error, warnings`

type SyncHistoryRepository struct {
	psql           *db.PostgresDatastore
	circuitBreaker *gobreaker.CircuitBreaker
	retryOptFunc   func() []backoff.RetryOption
	logger         zerolog.Logger
}

var _ repository.SyncHistoryRepository = (*SyncHistoryRepository)(nil)

func NewSyncHistoryRepository(psql *db.PostgresDatastore) *SyncHistoryRepository {
	return &SyncHistoryRepository{
		psql:           psql,
		circuitBreaker: newCircuitBreaker("sync_histories"),
		retryOptFunc:   newBackoffStrategy,
		logger:         log.Logger.With().Str("component", "sync_history_repository").Logger(),
	}
}

// OpenSyncHistory relies on the partial unique index over open entries, so
// two concurrent opens for one target cannot both succeed.
func (repo *SyncHistoryRepository) OpenSyncHistory(ctx context.Context, history *models.SyncHistory) error {
	query := `
		INSERT INTO sync_histories (syncable_type, syncable_id, sync_start_time, status, warnings)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	id, err := resilient(ctx, repo.circuitBreaker, repo.retryOptFunc(), func() (int64, error) {
		var id int64
		err := repo.psql.DB.QueryRowxContext(ctx, query,
			history.SyncableType, history.SyncableID, history.SyncStartTime, models.SyncHistoryStatusSyncing, history.Warnings,
		).Scan(&id)
		if isUniqueViolation(err) {
			return 0, backoff.Permanent(fmt.Errorf("%w: %s %s", repository.ErrSyncHistoryOpen, history.SyncableType, history.SyncableID))
		}
		return id, err
	})
	if err != nil {
		repo.decorateLog(repo.logger.Warn, history).Err(err).Msg("Failed to open sync history")
		return err
	}

	history.ID = id
	history.Status = models.SyncHistoryStatusSyncing
	history.SyncEndTime = nil
	repo.decorateLog(repo.logger.Debug, history).Msg("Opened sync history")
	return nil
}

func (repo *SyncHistoryRepository) CloseSyncHistory(ctx context.Context, history *models.SyncHistory) error {
	query := `
		UPDATE sync_histories
		SET status = $1, sync_end_time = $2, error = $3, warnings = $4
		WHERE id = $5 AND status = 'syncing'`

	_, err := resilient(ctx, repo.circuitBreaker, repo.retryOptFunc(), func() (struct{}, error) {
		result, err := repo.psql.DB.ExecContext(ctx, query,
			history.Status, history.SyncEndTime, history.Error, history.Warnings, history.ID)
		if err != nil {
			return struct{}{}, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return struct{}{}, err
		}
		if affected == 0 {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: open entry %d", repository.ErrHistoryNotFound, history.ID))
		}
		return struct{}{}, nil
	})
	if err != nil {
		repo.decorateLog(repo.logger.Error, history).Err(err).Msg("Failed to close sync history")
		return err
	}

	repo.decorateLog(repo.logger.Debug, history).Msg("Closed sync history")
	return nil
}

func (repo *SyncHistoryRepository) GetLatestSyncHistory(ctx context.Context, kind models.TargetKind, targetID string) (*models.SyncHistory, error) {
	query := `SELECT ` + syncHistoryColumns + `
		FROM sync_histories
		WHERE syncable_type = $1 AND syncable_id = $2
		ORDER BY sync_start_time DESC, id DESC
		LIMIT 1`
	return repo.getOne(ctx, query, kind, targetID)
}

func (repo *SyncHistoryRepository) GetOpenSyncHistory(ctx context.Context, kind models.TargetKind, targetID string) (*models.SyncHistory, error) {
	query := `SELECT ` + syncHistoryColumns + `
		FROM sync_histories
		WHERE syncable_type = $1 AND syncable_id = $2 AND status = 'syncing' AND sync_end_time IS NULL`
	return repo.getOne(ctx, query, kind, targetID)
}

func (repo *SyncHistoryRepository) getOne(ctx context.Context, query string, kind models.TargetKind, targetID string) (*models.SyncHistory, error) {
	return resilient(ctx, repo.circuitBreaker, repo.retryOptFunc(), func() (*models.SyncHistory, error) {
		var history models.SyncHistory
		err := repo.psql.DB.GetContext(ctx, &history, query, kind, targetID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backoff.Permanent(fmt.Errorf("%w: %s %s", repository.ErrHistoryNotFound, kind, targetID))
		}
		if err != nil {
			return nil, err
		}
		return &history, nil
	})
}

func (repo *SyncHistoryRepository) decorateLog(eventFactory func() *zerolog.Event, history *models.SyncHistory) *zerolog.Event {
	return eventFactory().
		Int64("history_id", history.ID).
		Str("syncable_type", string(history.SyncableType)).
		Str("syncable_id", history.SyncableID).
		Str("status", history.Status.String())
}
