package postgres

import (
	"context"
	"sync"
	"time"

	"ucm-sync/internal/models"
	"ucm-sync/internal/repository"
)

func newHistory(targetID string, start time.Time) *models.SyncHistory {
	return &models.SyncHistory{
		SyncableType:  models.TargetKindCluster,
		SyncableID:    targetID,
		SyncStartTime: start,
	}
}

func (suite *RepositoryTestSuite) TestOpenSyncHistory() {
	start := time.Now().UTC().Truncate(time.Millisecond)

	suite.Run("opens an entry and assigns an id", func() {
		repo := NewSyncHistoryRepository(suite.db)
		history := newHistory("cluster-1", start)

		err := repo.OpenSyncHistory(suite.ctx, history)

		suite.Require().NoError(err)
		suite.NotZero(history.ID)
		open, err := repo.GetOpenSyncHistory(suite.ctx, models.TargetKindCluster, "cluster-1")
		suite.Require().NoError(err)
		suite.Equal(history.ID, open.ID)
		suite.True(open.IsOpen())
		suite.Empty(open.Warnings)
	})

	suite.Run("rejects a second open entry without inserting a row", func() {
		repo := NewSyncHistoryRepository(suite.db)
		suite.Require().NoError(repo.OpenSyncHistory(suite.ctx, newHistory("cluster-1", start)))

		err := repo.OpenSyncHistory(suite.ctx, newHistory("cluster-1", start.Add(time.Second)))

		suite.ErrorIs(err, repository.ErrSyncHistoryOpen)
		var rows int
		suite.Require().NoError(suite.db.DB.Get(&rows, `SELECT COUNT(*) FROM sync_histories WHERE syncable_id = 'cluster-1'`))
		suite.Equal(1, rows)
	})

	suite.Run("concurrent opens produce exactly one entry", func() {
		repo := NewSyncHistoryRepository(suite.db)
		var wg sync.WaitGroup
		var mu sync.Mutex
		var opened, busy int
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := repo.OpenSyncHistory(context.Background(), newHistory("cluster-1", start))
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					opened++
				} else if suite.ErrorIs(err, repository.ErrSyncHistoryOpen) {
					busy++
				}
			}()
		}
		wg.Wait()

		suite.Equal(1, opened)
		suite.Equal(9, busy)
	})
}

func (suite *RepositoryTestSuite) TestCloseSyncHistory() {
	start := time.Now().UTC().Truncate(time.Millisecond)

	suite.Run("closes with warnings and frees the target", func() {
		repo := NewSyncHistoryRepository(suite.db)
		history := newHistory("cluster-1", start)
		suite.Require().NoError(repo.OpenSyncHistory(suite.ctx, history))

		end := start.Add(time.Minute)
		history.Status = models.SyncHistoryStatusCompleted
		history.SyncEndTime = &end
		history.Warnings = models.UnitWarnings{
			{Phase: models.PhaseInfra, EntityType: models.EntityPhoneModels, Error: "soap fault"},
		}
		suite.Require().NoError(repo.CloseSyncHistory(suite.ctx, history))

		latest, err := repo.GetLatestSyncHistory(suite.ctx, models.TargetKindCluster, "cluster-1")
		suite.Require().NoError(err)
		suite.Equal(models.SyncHistoryStatusCompleted, latest.Status)
		suite.Require().NotNil(latest.SyncEndTime)
		suite.WithinDuration(end, *latest.SyncEndTime, time.Millisecond)
		suite.Equal(history.Warnings, latest.Warnings)

		_, err = repo.GetOpenSyncHistory(suite.ctx, models.TargetKindCluster, "cluster-1")
		suite.ErrorIs(err, repository.ErrHistoryNotFound)
		suite.NoError(repo.OpenSyncHistory(suite.ctx, newHistory("cluster-1", end)))
	})

	suite.Run("failed entries keep their error", func() {
		repo := NewSyncHistoryRepository(suite.db)
		history := newHistory("cluster-1", start)
		suite.Require().NoError(repo.OpenSyncHistory(suite.ctx, history))

		end := start.Add(time.Second)
		message := "axl: unauthorized"
		history.Status = models.SyncHistoryStatusFailed
		history.SyncEndTime = &end
		history.Error = &message
		suite.Require().NoError(repo.CloseSyncHistory(suite.ctx, history))

		latest, err := repo.GetLatestSyncHistory(suite.ctx, models.TargetKindCluster, "cluster-1")
		suite.Require().NoError(err)
		suite.Require().NotNil(latest.Error)
		suite.Equal(message, *latest.Error)
	})

	suite.Run("closing twice reports not found", func() {
		repo := NewSyncHistoryRepository(suite.db)
		history := newHistory("cluster-1", start)
		suite.Require().NoError(repo.OpenSyncHistory(suite.ctx, history))
		end := start.Add(time.Second)
		history.Status = models.SyncHistoryStatusCompleted
		history.SyncEndTime = &end
		suite.Require().NoError(repo.CloseSyncHistory(suite.ctx, history))

		err := repo.CloseSyncHistory(suite.ctx, history)

		suite.ErrorIs(err, repository.ErrHistoryNotFound)
	})

	suite.Run("latest of an unknown target is not found", func() {
		repo := NewSyncHistoryRepository(suite.db)

		_, err := repo.GetLatestSyncHistory(suite.ctx, models.TargetKindNode, "node-9")

		suite.ErrorIs(err, repository.ErrHistoryNotFound)
	})

	suite.Run("domain errors do not open the circuit breaker", func() {
		repo := NewSyncHistoryRepository(suite.db)
		repo.circuitBreaker = newTestCircuitBreaker()
		repo.retryOptFunc = singleTryStrategy

		for i := 0; i < 3; i++ {
			_, err := repo.GetLatestSyncHistory(suite.ctx, models.TargetKindNode, "node-9")
			suite.ErrorIs(err, repository.ErrHistoryNotFound)
		}
	})
}
