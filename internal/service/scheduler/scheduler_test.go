package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ucm-sync/internal/models"
	"ucm-sync/internal/service/history"
	"ucm-sync/internal/service/orchestrator"
	"ucm-sync/testutil/testbuilder"
)

type staticTargets []models.SyncTarget

func (t staticTargets) Clusters() []models.SyncTarget {
	return t
}

type starterFunc func(ctx context.Context, targetID string) (*orchestrator.RunHandle, error)

func (f starterFunc) Start(ctx context.Context, targetID string) (*orchestrator.RunHandle, error) {
	return f(ctx, targetID)
}

func TestTriggerAll(t *testing.T) {
	targets := staticTargets{
		testbuilder.NewClusterTarget("a"),
		testbuilder.NewClusterTarget("busy"),
		testbuilder.NewClusterTarget("broken"),
	}
	starter := starterFunc(func(_ context.Context, targetID string) (*orchestrator.RunHandle, error) {
		switch targetID {
		case "busy":
			return nil, fmt.Errorf("%w: cluster:busy", history.ErrSyncInProgress)
		case "broken":
			return nil, errors.New("unauthorized")
		default:
			return &orchestrator.RunHandle{RunID: "run-" + targetID}, nil
		}
	})

	triggers := NewScheduler(starter, targets, time.Hour).TriggerAll(context.Background())

	require.Len(t, triggers, 3)
	require.Equal(t, "run-a", triggers[0].Handle.RunID)
	require.True(t, triggers[1].Skipped)
	require.NoError(t, triggers[1].Err)
	require.EqualError(t, triggers[2].Err, "unauthorized")
}

func TestRun(t *testing.T) {
	var starts atomic.Int32
	starter := starterFunc(func(context.Context, string) (*orchestrator.RunHandle, error) {
		starts.Add(1)
		return &orchestrator.RunHandle{RunID: "run"}, nil
	})
	scheduler := NewScheduler(starter, staticTargets{testbuilder.NewClusterTarget("a")}, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- scheduler.Run(ctx)
	}()

	require.Eventually(t, func() bool { return starts.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestNextIntervalStaysWithinJitter(t *testing.T) {
	scheduler := NewScheduler(nil, staticTargets{}, time.Minute)

	for i := 0; i < 100; i++ {
		interval := scheduler.nextInterval()
		require.GreaterOrEqual(t, interval, 54*time.Second)
		require.Less(t, interval, 66*time.Second)
	}
}
