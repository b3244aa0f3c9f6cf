package repository

import (
	"context"

	"ucm-sync/internal/models"
)

// EntityRecordRepository stores normalized entity records keyed by
// (entity type, scope, natural key).
type EntityRecordRepository interface {
	// UpsertRecords writes one chunk atomically and returns the number of
	// distinct records written. Rows missing from the chunk are left alone.
	UpsertRecords(ctx context.Context, records []models.EntityRecord) (int, error)
	CountRecords(ctx context.Context, entityType models.EntityType, scopeID string) (int, error)
	ListRecords(ctx context.Context, entityType models.EntityType, scopeID string) ([]models.EntityRecord, error)
}

// SyncHistoryRepository is the sync ledger. At most one open entry may exist
// per target.
type SyncHistoryRepository interface {
	// OpenSyncHistory inserts a syncing entry and sets its ID. It returns
	// ErrSyncHistoryOpen when the target already has an open entry.
	OpenSyncHistory(ctx context.Context, history *models.SyncHistory) error
	// CloseSyncHistory finalizes an open entry with its status, end time,
	// error and warnings. It returns ErrHistoryNotFound when no open entry
	// has the given ID.
	CloseSyncHistory(ctx context.Context, history *models.SyncHistory) error
	GetLatestSyncHistory(ctx context.Context, kind models.TargetKind, targetID string) (*models.SyncHistory, error)
	GetOpenSyncHistory(ctx context.Context, kind models.TargetKind, targetID string) (*models.SyncHistory, error)
}

// DedupeRecords keeps the last record for every natural key, preserving the
// order of first appearance. Postgres rejects an upsert that touches the same
// row twice.
func DedupeRecords(records []models.EntityRecord) []models.EntityRecord {
	type key struct {
		entityType models.EntityType
		scopeID    string
		naturalKey string
	}
	index := make(map[key]int, len(records))
	deduped := make([]models.EntityRecord, 0, len(records))
	for _, record := range records {
		k := key{record.EntityType, record.ScopeID, record.NaturalKey}
		if i, ok := index[k]; ok {
			deduped[i] = record
			continue
		}
		index[k] = len(deduped)
		deduped = append(deduped, record)
	}
	return deduped
}
