package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"ucm-sync/internal/models"
	"ucm-sync/internal/repository"
)

func userRecord(key, name string) models.EntityRecord {
	return models.EntityRecord{
		EntityType: models.EntityUcmUsers,
		ScopeID:    "cluster-1",
		NaturalKey: key,
		Name:       name,
		UUID:       key,
		Payload:    models.JSONMap{"userid": name, "department": "ops"},
	}
}

func (suite *RepositoryTestSuite) TestUpsertRecords() {
	suite.Run("re-running the same chunk leaves one row per key", func() {
		repo := NewEntityRecordRepository(suite.db)
		chunk := []models.EntityRecord{userRecord("u1", "alice"), userRecord("u2", "bob"), userRecord("u3", "carol")}

		first, err := repo.UpsertRecords(suite.ctx, chunk)
		suite.Require().NoError(err)
		second, err := repo.UpsertRecords(suite.ctx, chunk)
		suite.Require().NoError(err)

		suite.Equal(3, first)
		suite.Equal(3, second)
		count, err := repo.CountRecords(suite.ctx, models.EntityUcmUsers, "cluster-1")
		suite.Require().NoError(err)
		suite.Equal(3, count)
	})

	suite.Run("updates payload and keeps created_at", func() {
		repo := NewEntityRecordRepository(suite.db)
		_, err := repo.UpsertRecords(suite.ctx, []models.EntityRecord{userRecord("u1", "alice")})
		suite.Require().NoError(err)
		before, err := repo.ListRecords(suite.ctx, models.EntityUcmUsers, "cluster-1")
		suite.Require().NoError(err)

		time.Sleep(10 * time.Millisecond)
		updated := userRecord("u1", "alice.smith")
		updated.Payload["department"] = "sales"
		_, err = repo.UpsertRecords(suite.ctx, []models.EntityRecord{updated})
		suite.Require().NoError(err)

		after, err := repo.ListRecords(suite.ctx, models.EntityUcmUsers, "cluster-1")
		suite.Require().NoError(err)
		suite.Require().Len(after, 1)
		suite.Equal("alice.smith", after[0].Name)
		suite.Equal("sales", after[0].Payload["department"])
		suite.True(before[0].CreatedAt.Equal(after[0].CreatedAt))
		suite.True(after[0].UpdatedAt.After(before[0].UpdatedAt))
	})

	suite.Run("duplicate keys inside one chunk do not fail the statement", func() {
		repo := NewEntityRecordRepository(suite.db)

		written, err := repo.UpsertRecords(suite.ctx, []models.EntityRecord{
			userRecord("u1", "first"), userRecord("u1", "last"),
		})

		suite.Require().NoError(err)
		suite.Equal(1, written)
		records, err := repo.ListRecords(suite.ctx, models.EntityUcmUsers, "cluster-1")
		suite.Require().NoError(err)
		suite.Equal("last", records[0].Name)
	})

	suite.Run("rejects records without natural key", func() {
		repo := NewEntityRecordRepository(suite.db)

		_, err := repo.UpsertRecords(suite.ctx, []models.EntityRecord{userRecord("", "nobody")})

		suite.ErrorIs(err, repository.ErrInvalidRecords)
	})

	suite.Run("a large chunk is written in one statement", func() {
		repo := NewEntityRecordRepository(suite.db)
		chunk := make([]models.EntityRecord, 0, 1000)
		for i := 0; i < 1000; i++ {
			chunk = append(chunk, userRecord(fmt.Sprintf("u%04d", i), fmt.Sprintf("user%d", i)))
		}

		written, err := repo.UpsertRecords(suite.ctx, chunk)

		suite.Require().NoError(err)
		suite.Equal(1000, written)
	})
}

func (suite *RepositoryTestSuite) TestEntityRecordFailureWithCircuitBreakerAndRetry() {
	suite.Run("it automatically retries the upsert", func() {
		repo := NewEntityRecordRepository(suite.db)
		repo.circuitBreaker = newTestCircuitBreaker()
		repo.retryOptFunc = func() []backoff.RetryOption {
			return []backoff.RetryOption{
				backoff.WithBackOff(&backoff.ConstantBackOff{Interval: 500 * time.Millisecond}),
				backoff.WithMaxTries(40),
			}
		}

		suite.Require().NoError(suite.pgHelper.Stop(context.Background(), nil))
		go func() {
			time.Sleep(1 * time.Second)
			_ = suite.pgHelper.Start(context.Background())
		}()

		written, err := repo.UpsertRecords(suite.ctx, []models.EntityRecord{userRecord("u1", "alice")})

		suite.NoError(err, "Expected to retry and succeed after connection is restored")
		suite.Equal(1, written)
	})

	suite.Run("it returns unavailable once the circuit breaker is open", func() {
		repo := &EntityRecordRepository{
			psql:           suite.db,
			circuitBreaker: newTestCircuitBreaker(),
			retryOptFunc:   singleTryStrategy,
			logger:         NewEntityRecordRepository(suite.db).logger,
		}
		suite.Require().NoError(suite.pgHelper.Stop(context.Background(), nil))

		_, retryError := repo.UpsertRecords(suite.ctx, []models.EntityRecord{userRecord("u1", "alice")})
		_, retryError2 := repo.CountRecords(suite.ctx, models.EntityUcmUsers, "cluster-1")
		_, circuitError := repo.ListRecords(suite.ctx, models.EntityUcmUsers, "cluster-1")

		suite.ErrorIs(retryError, repository.ErrDatabaseGeneric)
		suite.ErrorIs(retryError2, repository.ErrDatabaseGeneric)
		suite.ErrorIs(circuitError, repository.ErrDatabaseUnavailable)
	})
}
