// Package memory provides an in-memory implementation of the entity record
// and sync history repositories with the same semantics as the Postgres
// backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ucm-sync/internal/models"
	"ucm-sync/internal/repository"
	"ucm-sync/pkg/converter"
)

type recordKey struct {
	entityType models.EntityType
	scopeID    string
	naturalKey string
}

type targetKey struct {
	kind models.TargetKind
	id   string
}

// Store keeps records and histories in maps guarded by one mutex.
type Store struct {
	mu sync.RWMutex // Protects records, histories, open, nextID

	records   map[recordKey]models.EntityRecord
	histories []*models.SyncHistory
	open      map[targetKey]int64
	nextID    int64

	now func() time.Time
}

var (
	_ repository.EntityRecordRepository = (*Store)(nil)
	_ repository.SyncHistoryRepository  = (*Store)(nil)
)

type Option func(*Store)

// WithClock replaces time.Now for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[recordKey]models.EntityRecord),
		open:    make(map[targetKey]int64),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) UpsertRecords(_ context.Context, records []models.EntityRecord) (int, error) {
	for _, record := range records {
		if record.EntityType == "" || record.ScopeID == "" || record.NaturalKey == "" {
			return 0, fmt.Errorf("%w: %s/%s/%q", repository.ErrInvalidRecords, record.EntityType, record.ScopeID, record.NaturalKey)
		}
	}

	deduped := repository.DedupeRecords(records)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range deduped {
		key := recordKey{record.EntityType, record.ScopeID, record.NaturalKey}
		record.Payload = copyPayload(record.Payload)
		record.UpdatedAt = now
		if existing, ok := s.records[key]; ok {
			record.CreatedAt = existing.CreatedAt
		} else {
			record.CreatedAt = now
		}
		s.records[key] = record
	}
	return len(deduped), nil
}

func (s *Store) CountRecords(_ context.Context, entityType models.EntityType, scopeID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for key := range s.records {
		if key.entityType == entityType && key.scopeID == scopeID {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListRecords(_ context.Context, entityType models.EntityType, scopeID string) ([]models.EntityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]models.EntityRecord, 0)
	for key, record := range s.records {
		if key.entityType == entityType && key.scopeID == scopeID {
			record.Payload = copyPayload(record.Payload)
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].NaturalKey < records[j].NaturalKey
	})
	return records, nil
}

func (s *Store) OpenSyncHistory(_ context.Context, history *models.SyncHistory) error {
	key := targetKey{history.SyncableType, history.SyncableID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.open[key]; busy {
		return fmt.Errorf("%w: %s %s", repository.ErrSyncHistoryOpen, history.SyncableType, history.SyncableID)
	}

	s.nextID++
	history.ID = s.nextID
	history.Status = models.SyncHistoryStatusSyncing
	history.SyncEndTime = nil

	stored := copyHistory(history)
	s.histories = append(s.histories, stored)
	s.open[key] = stored.ID
	return nil
}

func (s *Store) CloseSyncHistory(_ context.Context, history *models.SyncHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stored := range s.histories {
		if stored.ID != history.ID || stored.Status != models.SyncHistoryStatusSyncing {
			continue
		}
		stored.Status = history.Status
		stored.SyncEndTime = copyTime(history.SyncEndTime)
		stored.Error = copyString(history.Error)
		stored.Warnings = append(models.UnitWarnings(nil), history.Warnings...)
		delete(s.open, targetKey{stored.SyncableType, stored.SyncableID})
		return nil
	}
	return fmt.Errorf("%w: open entry %d", repository.ErrHistoryNotFound, history.ID)
}

func (s *Store) GetLatestSyncHistory(_ context.Context, kind models.TargetKind, targetID string) (*models.SyncHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.SyncHistory
	for _, stored := range s.histories {
		if stored.SyncableType != kind || stored.SyncableID != targetID {
			continue
		}
		if latest == nil || !stored.SyncStartTime.Before(latest.SyncStartTime) {
			latest = stored
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: %s %s", repository.ErrHistoryNotFound, kind, targetID)
	}
	return copyHistory(latest), nil
}

func (s *Store) GetOpenSyncHistory(_ context.Context, kind models.TargetKind, targetID string) (*models.SyncHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.open[targetKey{kind, targetID}]
	if ok {
		for _, stored := range s.histories {
			if stored.ID == id {
				return copyHistory(stored), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s %s", repository.ErrHistoryNotFound, kind, targetID)
}

// Histories returns a copy of every entry of a target, oldest first.
func (s *Store) Histories(kind models.TargetKind, targetID string) []*models.SyncHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var histories []*models.SyncHistory
	for _, stored := range s.histories {
		if stored.SyncableType == kind && stored.SyncableID == targetID {
			histories = append(histories, copyHistory(stored))
		}
	}
	return histories
}

// copyPayload keeps callers from mutating stored rows.
func copyPayload(payload models.JSONMap) models.JSONMap {
	if payload == nil {
		return nil
	}
	return converter.DeepCopy(payload)
}

func copyHistory(h *models.SyncHistory) *models.SyncHistory {
	c := *h
	c.SyncEndTime = copyTime(h.SyncEndTime)
	c.Error = copyString(h.Error)
	c.Warnings = append(models.UnitWarnings(nil), h.Warnings...)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
