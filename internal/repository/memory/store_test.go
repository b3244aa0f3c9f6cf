package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ucm-sync/internal/models"
	"ucm-sync/internal/repository"
)

func record(key, name string) models.EntityRecord {
	return models.EntityRecord{
		EntityType: models.EntityUcmUsers,
		ScopeID:    "cluster-1",
		NaturalKey: key,
		Name:       name,
		Payload:    models.JSONMap{"userid": name},
	}
}

func TestUpsertRecords(t *testing.T) {
	t.Run("is idempotent", func(t *testing.T) {
		store := New()
		ctx := context.Background()
		chunk := []models.EntityRecord{record("u1", "alice"), record("u2", "bob")}

		first, err := store.UpsertRecords(ctx, chunk)
		require.NoError(t, err)
		second, err := store.UpsertRecords(ctx, chunk)
		require.NoError(t, err)

		assert.Equal(t, 2, first)
		assert.Equal(t, 2, second)
		count, err := store.CountRecords(ctx, models.EntityUcmUsers, "cluster-1")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("updates payload and keeps created_at", func(t *testing.T) {
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		store := New(WithClock(func() time.Time { return now }))
		ctx := context.Background()

		_, err := store.UpsertRecords(ctx, []models.EntityRecord{record("u1", "alice")})
		require.NoError(t, err)
		created := now
		now = now.Add(time.Hour)
		_, err = store.UpsertRecords(ctx, []models.EntityRecord{record("u1", "alice2")})
		require.NoError(t, err)

		records, err := store.ListRecords(ctx, models.EntityUcmUsers, "cluster-1")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "alice2", records[0].Name)
		assert.Equal(t, created, records[0].CreatedAt)
		assert.Equal(t, now, records[0].UpdatedAt)
	})

	t.Run("keeps the last duplicate of a chunk", func(t *testing.T) {
		store := New()

		written, err := store.UpsertRecords(context.Background(), []models.EntityRecord{
			record("u1", "first"), record("u2", "bob"), record("u1", "last"),
		})

		require.NoError(t, err)
		assert.Equal(t, 2, written)
		records, err := store.ListRecords(context.Background(), models.EntityUcmUsers, "cluster-1")
		require.NoError(t, err)
		assert.Equal(t, "last", records[0].Name)
	})

	t.Run("scopes records per target", func(t *testing.T) {
		store := New()
		other := record("u1", "alice")
		other.ScopeID = "cluster-2"

		_, err := store.UpsertRecords(context.Background(), []models.EntityRecord{record("u1", "alice"), other})
		require.NoError(t, err)

		count, err := store.CountRecords(context.Background(), models.EntityUcmUsers, "cluster-2")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("rejects records without natural key", func(t *testing.T) {
		_, err := New().UpsertRecords(context.Background(), []models.EntityRecord{record("", "nobody")})

		assert.ErrorIs(t, err, repository.ErrInvalidRecords)
	})
}

func newHistory(targetID string, start time.Time) *models.SyncHistory {
	return &models.SyncHistory{
		SyncableType:  models.TargetKindCluster,
		SyncableID:    targetID,
		SyncStartTime: start,
	}
}

func TestSyncHistory(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	t.Run("rejects a second open entry for the same target", func(t *testing.T) {
		store := New()
		require.NoError(t, store.OpenSyncHistory(ctx, newHistory("cluster-1", start)))

		err := store.OpenSyncHistory(ctx, newHistory("cluster-1", start.Add(time.Minute)))

		assert.ErrorIs(t, err, repository.ErrSyncHistoryOpen)
		assert.Len(t, store.Histories(models.TargetKindCluster, "cluster-1"), 1)
		assert.NoError(t, store.OpenSyncHistory(ctx, newHistory("cluster-2", start)))
	})

	t.Run("allows a new entry once the open one is closed", func(t *testing.T) {
		store := New()
		history := newHistory("cluster-1", start)
		require.NoError(t, store.OpenSyncHistory(ctx, history))

		end := start.Add(time.Minute)
		history.Status = models.SyncHistoryStatusCompleted
		history.SyncEndTime = &end
		history.Warnings = models.UnitWarnings{{Phase: models.PhaseInfra, EntityType: models.EntityPhoneModels, Error: "boom"}}
		require.NoError(t, store.CloseSyncHistory(ctx, history))

		_, err := store.GetOpenSyncHistory(ctx, models.TargetKindCluster, "cluster-1")
		assert.ErrorIs(t, err, repository.ErrHistoryNotFound)

		next := newHistory("cluster-1", end)
		require.NoError(t, store.OpenSyncHistory(ctx, next))

		latest, err := store.GetLatestSyncHistory(ctx, models.TargetKindCluster, "cluster-1")
		require.NoError(t, err)
		assert.Equal(t, next.ID, latest.ID)
		assert.True(t, latest.IsOpen())
	})

	t.Run("close of an already closed entry fails", func(t *testing.T) {
		store := New()
		history := newHistory("cluster-1", start)
		require.NoError(t, store.OpenSyncHistory(ctx, history))
		end := start.Add(time.Minute)
		history.Status = models.SyncHistoryStatusFailed
		history.SyncEndTime = &end
		require.NoError(t, store.CloseSyncHistory(ctx, history))

		err := store.CloseSyncHistory(ctx, history)

		assert.ErrorIs(t, err, repository.ErrHistoryNotFound)
	})

	t.Run("latest of an unknown target is not found", func(t *testing.T) {
		_, err := New().GetLatestSyncHistory(ctx, models.TargetKindNode, "node-1")

		assert.ErrorIs(t, err, repository.ErrHistoryNotFound)
	})

	t.Run("concurrent opens leave exactly one open entry", func(t *testing.T) {
		store := New()
		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := store.OpenSyncHistory(ctx, newHistory("cluster-1", start)); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		assert.Len(t, store.Histories(models.TargetKindCluster, "cluster-1"), 1)
	})
}
