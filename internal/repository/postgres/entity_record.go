package postgres

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"ucm-sync/internal/models"
	"ucm-sync/internal/repository"
	"ucm-sync/pkg/db"
	"ucm-sync/pkg/log"
)

const upsertEntityRecordsQuery = `
	INSERT INTO entity_records (entity_type, scope_id, natural_key, name, uuid, payload)
	VALUES (:entity_type, :scope_id, :natural_key, :name, :uuid, :payload)
	ON CONFLICT (entity_type, scope_id, natural_key) DO UPDATE SET
		name = EXCLUDED.name,
		uuid = EXCLUDED.uuid,
		payload = EXCLUDED.payload,
		updated_at = now()`

type EntityRecordRepository struct {
	psql           *db.PostgresDatastore
	circuitBreaker *gobreaker.CircuitBreaker
	retryOptFunc   func() []backoff.RetryOption
	logger         zerolog.Logger
}

var _ repository.EntityRecordRepository = (*EntityRecordRepository)(nil)

func NewEntityRecordRepository(psql *db.PostgresDatastore) *EntityRecordRepository {
	return &EntityRecordRepository{
		psql:           psql,
		circuitBreaker: newCircuitBreaker("entity_records"),
		retryOptFunc:   newBackoffStrategy,
		logger:         log.Logger.With().Str("component", "entity_record_repository").Logger(),
	}
}

// UpsertRecords writes the chunk as a single multi-row statement, so it is
// applied entirely or not at all.
func (repo *EntityRecordRepository) UpsertRecords(ctx context.Context, records []models.EntityRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	for _, record := range records {
		if record.EntityType == "" || record.ScopeID == "" || record.NaturalKey == "" {
			return 0, fmt.Errorf("%w: %s/%s/%q", repository.ErrInvalidRecords, record.EntityType, record.ScopeID, record.NaturalKey)
		}
	}

	deduped := repository.DedupeRecords(records)
	written, err := resilient(ctx, repo.circuitBreaker, repo.retryOptFunc(), func() (int, error) {
		if _, err := repo.psql.DB.NamedExecContext(ctx, upsertEntityRecordsQuery, deduped); err != nil {
			return 0, err
		}
		return len(deduped), nil
	})
	if err != nil {
		repo.logger.Error().Err(err).
			Str("entity_type", records[0].EntityType.String()).
			Str("scope_id", records[0].ScopeID).
			Int("records", len(deduped)).
			Msg("Failed to upsert entity records")
		return 0, err
	}

	repo.logger.Debug().
		Str("entity_type", records[0].EntityType.String()).
		Str("scope_id", records[0].ScopeID).
		Int("records", written).
		Msg("Upserted entity records")
	return written, nil
}

func (repo *EntityRecordRepository) CountRecords(ctx context.Context, entityType models.EntityType, scopeID string) (int, error) {
	query := `SELECT COUNT(*) FROM entity_records WHERE entity_type = $1 AND scope_id = $2`
	return resilient(ctx, repo.circuitBreaker, repo.retryOptFunc(), func() (int, error) {
		var count int
		err := repo.psql.DB.GetContext(ctx, &count, query, entityType, scopeID)
		return count, err
	})
}

func (repo *EntityRecordRepository) ListRecords(ctx context.Context, entityType models.EntityType, scopeID string) ([]models.EntityRecord, error) {
	query := `
		SELECT entity_type, scope_id, natural_key, name, uuid, payload, created_at, updated_at
		FROM entity_records
		WHERE entity_type = $1 AND scope_id = $2
		ORDER BY natural_key`
	return resilient(ctx, repo.circuitBreaker, repo.retryOptFunc(), func() ([]models.EntityRecord, error) {
		records := make([]models.EntityRecord, 0)
		err := repo.psql.DB.SelectContext(ctx, &records, query, entityType, scopeID)
		return records, err
	})
}
