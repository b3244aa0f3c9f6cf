package batch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"ucm-sync/internal/entity"
	"ucm-sync/internal/models"
	"ucm-sync/internal/service/job"
	"ucm-sync/testutil/testbuilder"
)

var errUnit = errors.New("unit failed")

// executorFunc adapts a function to UnitExecutor.
type executorFunc func(ctx context.Context, unit models.SyncUnit) *job.UnitResult

func (f executorFunc) Execute(ctx context.Context, unit models.SyncUnit) *job.UnitResult {
	return f(ctx, unit)
}

func succeed(_ context.Context, unit models.SyncUnit) *job.UnitResult {
	return &job.UnitResult{Unit: unit, RecordsWritten: 1}
}

type CoordinatorTestSuite struct {
	suite.Suite
	ctx    context.Context
	cancel context.CancelFunc
	target models.SyncTarget
	units  []models.SyncUnit
}

func (s *CoordinatorTestSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 10*time.Second)
	s.target = testbuilder.NewClusterTarget("cluster-a")
	s.units = make([]models.SyncUnit, 0)
	for _, entityType := range entity.InfraTypes() {
		s.units = append(s.units, models.NewSyncUnit(entityType, s.target))
	}
}

func (s *CoordinatorTestSuite) TearDownTest() {
	s.cancel()
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorTestSuite))
}

func (s *CoordinatorTestSuite) start(executor UnitExecutor, workers int) *Coordinator {
	coordinator := NewCoordinator(executor, workers)
	s.Require().NoError(coordinator.Start(s.ctx))
	s.T().Cleanup(coordinator.Stop)
	return coordinator
}

func (s *CoordinatorTestSuite) TestAggregateStates() {
	s.Run("all members succeed", func() {
		coordinator := s.start(executorFunc(succeed), 4)

		handle, err := coordinator.Dispatch(s.ctx, s.units, "infra")
		s.Require().NoError(err)
		s.Equal(16, handle.Size)

		status, err := coordinator.Wait(s.ctx, handle.ID)
		s.Require().NoError(err)
		s.Equal(models.BatchStateSucceeded, status.State)
		s.Equal(16, status.Succeeded)
		s.Zero(status.Pending)
		s.Len(status.Results, 16)
		s.Equal(s.units[0].ID(), status.Results[0].Unit.ID())
	})

	s.Run("one failing member makes the batch partially failed", func() {
		coordinator := s.start(executorFunc(func(ctx context.Context, unit models.SyncUnit) *job.UnitResult {
			if unit.EntityType == models.EntityPhoneModels {
				return &job.UnitResult{Unit: unit, Err: errUnit}
			}
			return succeed(ctx, unit)
		}), 6)

		handle, err := coordinator.Dispatch(s.ctx, s.units, "infra")
		s.Require().NoError(err)

		status, err := coordinator.Wait(s.ctx, handle.ID)
		s.Require().NoError(err)
		s.Equal(models.BatchStatePartiallyFailed, status.State)
		s.Equal(15, status.Succeeded)
		s.Equal(1, status.Failed)
	})

	s.Run("every member failing fails the batch", func() {
		coordinator := s.start(executorFunc(func(_ context.Context, unit models.SyncUnit) *job.UnitResult {
			return &job.UnitResult{Unit: unit, Err: errUnit}
		}), 6)

		handle, err := coordinator.Dispatch(s.ctx, s.units, "infra")
		s.Require().NoError(err)

		status, err := coordinator.Wait(s.ctx, handle.ID)
		s.Require().NoError(err)
		s.Equal(models.BatchStateFailed, status.State)
	})

	s.Run("an empty batch is resolved at once", func() {
		coordinator := s.start(executorFunc(succeed), 1)

		handle, err := coordinator.Dispatch(s.ctx, nil, "empty")
		s.Require().NoError(err)

		done, err := coordinator.Done(handle.ID)
		s.Require().NoError(err)
		s.Require().Eventually(func() bool {
			select {
			case <-done:
				return true
			default:
				return false
			}
		}, time.Second, time.Millisecond)
		status, err := coordinator.Status(handle.ID)
		s.Require().NoError(err)
		s.Equal(models.BatchStateSucceeded, status.State)
	})
}

func (s *CoordinatorTestSuite) TestConcurrencyBound() {
	var inFlight, peak atomic.Int32
	coordinator := s.start(executorFunc(func(ctx context.Context, unit models.SyncUnit) *job.UnitResult {
		current := inFlight.Add(1)
		for {
			old := peak.Load()
			if current <= old || peak.CompareAndSwap(old, current) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return succeed(ctx, unit)
	}), 3)

	handle, err := coordinator.Dispatch(s.ctx, s.units, "infra")
	s.Require().NoError(err)
	_, err = coordinator.Wait(s.ctx, handle.ID)
	s.Require().NoError(err)

	s.LessOrEqual(peak.Load(), int32(3))
	s.Positive(peak.Load())
}

func (s *CoordinatorTestSuite) TestIsolation() {
	release := make(chan struct{})
	coordinator := s.start(executorFunc(func(ctx context.Context, unit models.SyncUnit) *job.UnitResult {
		if unit.EntityType == models.EntityPhoneModels {
			return &job.UnitResult{Unit: unit, Err: errUnit}
		}
		<-release
		return succeed(ctx, unit)
	}), 16)

	handle, err := coordinator.Dispatch(s.ctx, s.units, "infra")
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		status, err := coordinator.Status(handle.ID)
		return err == nil && status.Failed == 1
	}, 2*time.Second, time.Millisecond)

	status, err := coordinator.Status(handle.ID)
	s.Require().NoError(err)
	s.Equal(models.BatchStatePending, status.State)
	s.Equal(15, status.Pending)

	close(release)
	status, err = coordinator.Wait(s.ctx, handle.ID)
	s.Require().NoError(err)
	s.Equal(15, status.Succeeded)
	s.Equal(models.BatchStatePartiallyFailed, status.State)
}

func (s *CoordinatorTestSuite) TestLifecycle() {
	s.Run("dispatch before start is rejected", func() {
		coordinator := NewCoordinator(executorFunc(succeed), 1)

		_, err := coordinator.Dispatch(s.ctx, s.units, "infra")

		s.Require().ErrorIs(err, ErrCoordinatorStopped)
	})

	s.Run("dispatch after stop is rejected", func() {
		coordinator := NewCoordinator(executorFunc(succeed), 1)
		s.Require().NoError(coordinator.Start(s.ctx))
		coordinator.Stop()

		_, err := coordinator.Dispatch(s.ctx, s.units, "infra")

		s.Require().ErrorIs(err, ErrCoordinatorStopped)
		s.Require().ErrorIs(coordinator.Start(s.ctx), ErrCoordinatorStopped)
	})

	s.Run("starting twice is rejected", func() {
		coordinator := s.start(executorFunc(succeed), 1)

		s.Require().ErrorIs(coordinator.Start(s.ctx), ErrCoordinatorStarted)
	})

	s.Run("stop resolves every member", func() {
		release := make(chan struct{})
		coordinator := NewCoordinator(executorFunc(func(ctx context.Context, unit models.SyncUnit) *job.UnitResult {
			<-release
			return succeed(ctx, unit)
		}), 1)
		s.Require().NoError(coordinator.Start(s.ctx))

		handle, err := coordinator.Dispatch(s.ctx, s.units[:3], "infra")
		s.Require().NoError(err)

		stopped := make(chan struct{})
		go func() {
			coordinator.Stop()
			close(stopped)
		}()
		time.Sleep(10 * time.Millisecond)
		close(release)
		<-stopped

		status, err := coordinator.Status(handle.ID)
		s.Require().NoError(err)
		s.Zero(status.Pending)
		s.True(status.State.IsTerminal())
	})

	s.Run("unknown batch ids are reported", func() {
		coordinator := s.start(executorFunc(succeed), 1)

		_, err := coordinator.Status("missing")
		s.Require().ErrorIs(err, ErrBatchNotFound)
		_, err = coordinator.Done("missing")
		s.Require().ErrorIs(err, ErrBatchNotFound)
		_, err = coordinator.Wait(s.ctx, "missing")
		s.Require().ErrorIs(err, ErrBatchNotFound)
	})

	s.Run("released batches are forgotten", func() {
		coordinator := s.start(executorFunc(succeed), 1)
		handle, err := coordinator.Dispatch(s.ctx, s.units[:1], "infra")
		s.Require().NoError(err)
		_, err = coordinator.Wait(s.ctx, handle.ID)
		s.Require().NoError(err)

		coordinator.Release(handle.ID)

		_, err = coordinator.Status(handle.ID)
		s.Require().ErrorIs(err, ErrBatchNotFound)
	})

	s.Run("wait gives up with its context", func() {
		release := make(chan struct{})
		defer close(release)
		coordinator := s.start(executorFunc(func(ctx context.Context, unit models.SyncUnit) *job.UnitResult {
			<-release
			return succeed(ctx, unit)
		}), 1)
		handle, err := coordinator.Dispatch(s.ctx, s.units[:1], "infra")
		s.Require().NoError(err)

		ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
		defer cancel()
		_, err = coordinator.Wait(ctx, handle.ID)

		s.Require().ErrorIs(err, context.DeadlineExceeded)
	})
}

func TestLedger(t *testing.T) {
	target := testbuilder.NewClusterTarget("cluster-a")
	unit := models.NewSyncUnit(models.EntityLocations, target)

	l := newLedger("b1", "infra", []models.SyncUnit{unit, unit})
	require.Equal(t, 1, l.status().Total)

	require.True(t, l.record(&job.UnitResult{Unit: unit, Err: errUnit}))
	require.Equal(t, models.BatchStateFailed, l.status().State)

	// a later result for the same unit replaces the earlier one
	require.False(t, l.record(&job.UnitResult{Unit: unit}))
	require.Equal(t, models.BatchStateSucceeded, l.status().State)

	other := models.NewSyncUnit(models.EntityLineGroups, target)
	require.False(t, l.record(&job.UnitResult{Unit: other}))
	require.Equal(t, 1, l.status().Total)
}
