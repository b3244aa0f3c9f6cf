package job

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"ucm-sync/internal/axl"
	"ucm-sync/internal/models"
	"ucm-sync/internal/repository"
	"ucm-sync/internal/repository/memory"
	"ucm-sync/testutil/testbuilder"
)

type ExecutorTestSuite struct {
	suite.Suite
	ctx     context.Context
	target  models.SyncTarget
	store   *memory.Store
	options Options
}

func (s *ExecutorTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.target = testbuilder.NewClusterTarget("cluster-a")
	s.store = memory.New()
	s.options = Options{
		PageSize:  2,
		ChunkSize: 2,
		Retry: RetryPolicy{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
		},
	}
}

func (s *ExecutorTestSuite) SetupSubTest() {
	s.SetupTest()
}

func TestExecutorSuite(t *testing.T) {
	suite.Run(t, new(ExecutorTestSuite))
}

func users(n int) []models.RawRecord {
	records := make([]models.RawRecord, 0, n)
	for i := 1; i <= n; i++ {
		records = append(records, testbuilder.UserRecord(fmt.Sprintf("0000-%04d", i), fmt.Sprintf("user%d", i)))
	}
	return records
}

func (s *ExecutorTestSuite) count(entityType models.EntityType) int {
	n, err := s.store.CountRecords(s.ctx, entityType, s.target.ID)
	s.Require().NoError(err)
	return n
}

func (s *ExecutorTestSuite) TestExecute() {
	s.Run("walks every page and writes every record", func() {
		all := users(5)
		client := testbuilder.NewAXLMockBuilder().
			WithPages(models.EntityUcmUsers, all[:2], all[2:4], all[4:]).
			Build()
		executor := NewExecutor(client, s.store, s.options)

		result := executor.Execute(s.ctx, models.NewSyncUnit(models.EntityUcmUsers, s.target))

		s.Require().NoError(result.Err)
		s.Equal(models.UnitOutcomeSucceeded, result.Outcome())
		s.Equal(3, result.Pages)
		s.Equal(uint(3), result.Attempts)
		s.Equal(5, result.RecordsWritten)
		s.Equal(5, s.count(models.EntityUcmUsers))
		s.Nil(result.Warning())
	})

	s.Run("running the same unit twice keeps one row per record", func() {
		client := testbuilder.NewAXLMockBuilder().
			WithRecords(models.EntityUcmUsers, users(3)...).
			Build()
		executor := NewExecutor(client, s.store, s.options)
		unit := models.NewSyncUnit(models.EntityUcmUsers, s.target)

		first := executor.Execute(s.ctx, unit)
		second := executor.Execute(s.ctx, unit)

		s.Require().NoError(first.Err)
		s.Require().NoError(second.Err)
		s.Equal(3, s.count(models.EntityUcmUsers))

		records, err := s.store.ListRecords(s.ctx, models.EntityUcmUsers, s.target.ID)
		s.Require().NoError(err)
		s.Equal("0000-0001", records[0].NaturalKey)
		s.Equal("user1", records[0].Name)
	})

	s.Run("an empty listing succeeds without writes", func() {
		client := testbuilder.NewAXLMockBuilder().Build()
		executor := NewExecutor(client, s.store, s.options)

		result := executor.Execute(s.ctx, models.NewSyncUnit(models.EntityLocations, s.target))

		s.Require().NoError(result.Err)
		s.Equal(1, result.Pages)
		s.Zero(result.RecordsWritten)
	})

	s.Run("records without a natural key are skipped", func() {
		client := testbuilder.NewAXLMockBuilder().
			WithRecords(models.EntityRoutePartitions,
				testbuilder.NamedRecord("aaaa", "PT_INTERNAL"),
				models.RawRecord{"name": "no-uuid"},
			).
			Build()
		executor := NewExecutor(client, s.store, s.options)

		result := executor.Execute(s.ctx, models.NewSyncUnit(models.EntityRoutePartitions, s.target))

		s.Require().NoError(result.Err)
		s.Equal(1, result.Skipped)
		s.Equal(1, result.RecordsWritten)
	})

	s.Run("unknown entity type fails the unit", func() {
		client := testbuilder.NewAXLMockBuilder().Build()
		executor := NewExecutor(client, s.store, s.options)

		result := executor.Execute(s.ctx, models.NewSyncUnit("not_a_type", s.target))

		s.Require().Error(result.Err)
		s.Equal(models.UnitOutcomeFailed, result.Outcome())
		client.AssertNotCalled(s.T(), testbuilder.AXLList, mock.Anything, mock.Anything)
	})
}

func (s *ExecutorTestSuite) TestRetries() {
	s.Run("transient failures are retried with the same page request", func() {
		client := testbuilder.NewAXLMockBuilder().
			WithRecords(models.EntityUcmUsers, users(3)...).
			WithTransientListFailures(models.EntityUcmUsers, 2).
			Build()
		executor := NewExecutor(client, s.store, s.options)

		result := executor.Execute(s.ctx, models.NewSyncUnit(models.EntityUcmUsers, s.target))

		s.Require().NoError(result.Err)
		s.Equal(uint(3), result.Attempts)
		s.Equal(3, result.RecordsWritten)
		for _, call := range client.Calls {
			if call.Method == testbuilder.AXLList {
				s.Empty(call.Arguments.Get(1).(axl.ListRequest).PageToken)
			}
		}
	})

	s.Run("a call that keeps failing is attempted exactly max attempts times", func() {
		client := testbuilder.NewAXLMockBuilder().
			WithListError(models.EntityPhoneModels, testbuilder.ErrTransientAXL).
			Build()
		executor := NewExecutor(client, s.store, s.options)

		result := executor.Execute(s.ctx, models.NewSyncUnit(models.EntityPhoneModels, s.target))

		s.Require().Error(result.Err)
		s.True(axl.IsTransient(result.Err))
		s.Equal(uint(3), result.Attempts)
		client.AssertNumberOfCalls(s.T(), testbuilder.AXLList, 3)
		s.Require().NotNil(result.Warning())
		s.Equal(models.EntityPhoneModels, result.Warning().EntityType)
		s.Equal(models.PhaseInfra, result.Warning().Phase)
	})

	s.Run("fatal errors are not retried", func() {
		client := testbuilder.NewAXLMockBuilder().
			WithListError(models.EntityUcmUsers, axl.ErrUnauthorized).
			Build()
		executor := NewExecutor(client, s.store, s.options)

		result := executor.Execute(s.ctx, models.NewSyncUnit(models.EntityUcmUsers, s.target))

		s.Require().ErrorIs(result.Err, axl.ErrUnauthorized)
		s.Equal(uint(1), result.Attempts)
		client.AssertNumberOfCalls(s.T(), testbuilder.AXLList, 1)
	})

	s.Run("a page token seen before stops the walk", func() {
		client := new(testbuilder.MockAXLClient)
		client.On(testbuilder.AXLList, mock.Anything, mock.Anything).
			Return(&axl.Page{Records: users(1), NextPageToken: "1"}, nil)
		executor := NewExecutor(client, s.store, s.options)

		result := executor.Execute(s.ctx, models.NewSyncUnit(models.EntityUcmUsers, s.target))

		s.Require().ErrorIs(result.Err, ErrPaginationLoop)
		s.Equal(2, result.Pages)
	})
}

func (s *ExecutorTestSuite) TestChunkedWrites() {
	s.Run("chunks written before a failing chunk stay written", func() {
		client := testbuilder.NewAXLMockBuilder().
			WithRecords(models.EntityUcmUsers, users(5)...).
			Build()
		repo := new(testbuilder.MockEntityRecordRepository)
		writeErr := fmt.Errorf("write: %w", repository.ErrDatabaseUnavailable)
		repo.On(testbuilder.RepoUpsertRecords, mock.Anything, mock.Anything).Return(2, nil).Once()
		repo.On(testbuilder.RepoUpsertRecords, mock.Anything, mock.Anything).Return(0, writeErr).Once()
		executor := NewExecutor(client, repo, s.options)

		result := executor.Execute(s.ctx, models.NewSyncUnit(models.EntityUcmUsers, s.target))

		s.Require().ErrorIs(result.Err, repository.ErrDatabaseUnavailable)
		s.Equal(2, result.RecordsWritten)
		repo.AssertNumberOfCalls(s.T(), testbuilder.RepoUpsertRecords, 2)
	})

	s.Run("chunks never exceed the chunk size", func() {
		client := testbuilder.NewAXLMockBuilder().
			WithRecords(models.EntityUcmUsers, users(5)...).
			Build()
		repo := new(testbuilder.MockEntityRecordRepository)
		var sizes []int
		repo.On(testbuilder.RepoUpsertRecords, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				sizes = append(sizes, len(args.Get(1).([]models.EntityRecord)))
			}).
			Return(0, nil)
		executor := NewExecutor(client, repo, s.options)

		result := executor.Execute(s.ctx, models.NewSyncUnit(models.EntityUcmUsers, s.target))

		s.Require().NoError(result.Err)
		s.Equal([]int{2, 2, 1}, sizes)
	})

	s.Run("a panicking store fails the unit instead of the caller", func() {
		client := testbuilder.NewAXLMockBuilder().
			WithRecords(models.EntityUcmUsers, users(2)...).
			Build()
		repo := new(testbuilder.MockEntityRecordRepository)
		repo.On(testbuilder.RepoUpsertRecords, mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { panic("boom") }).
			Return(0, nil)
		executor := NewExecutor(client, repo, s.options)

		var result *UnitResult
		s.NotPanics(func() {
			result = executor.Execute(s.ctx, models.NewSyncUnit(models.EntityUcmUsers, s.target))
		})

		s.Require().ErrorIs(result.Err, ErrUnitPanicked)
		s.Equal(models.UnitOutcomeFailed, result.Outcome())
	})
}

func (s *ExecutorTestSuite) TestCancelledContext() {
	client := testbuilder.NewAXLMockBuilder().
		WithListError(models.EntityUcmUsers, testbuilder.ErrTransientAXL).
		Build()
	executor := NewExecutor(client, s.store, s.options)
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	result := executor.Execute(ctx, models.NewSyncUnit(models.EntityUcmUsers, s.target))

	s.Require().Error(result.Err)
	s.True(errors.Is(result.Err, context.Canceled) || axl.IsTransient(result.Err))
}
