// Package scheduler starts a sync run for every configured cluster on a
// fixed interval.
package scheduler

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"ucm-sync/internal/models"
	"ucm-sync/internal/service/history"
	"ucm-sync/internal/service/orchestrator"
	"ucm-sync/pkg/log"
)

type RunStarter interface {
	Start(ctx context.Context, targetID string) (*orchestrator.RunHandle, error)
}

type TargetLister interface {
	Clusters() []models.SyncTarget
}

// Trigger is the outcome of one start attempt.
type Trigger struct {
	TargetID string
	Handle   *orchestrator.RunHandle
	Skipped  bool
	Err      error
}

type Scheduler struct {
	starter  RunStarter
	targets  TargetLister
	interval time.Duration
	jitter   time.Duration
	logger   zerolog.Logger
}

func NewScheduler(starter RunStarter, targets TargetLister, interval time.Duration) *Scheduler {
	return &Scheduler{
		starter:  starter,
		targets:  targets,
		interval: interval,
		jitter:   interval / 10,
		logger:   log.Logger.With().Str("component", "scheduler").Logger(),
	}
}

// nextInterval spreads ticks of several instances by up to ±10% of the
// interval.
func (s *Scheduler) nextInterval() time.Duration {
	if s.jitter <= 0 {
		return s.interval
	}
	//nolint:gosec // jitter does not need a cryptographic source
	offset := time.Duration(rand.Int64N(int64(2*s.jitter))) - s.jitter
	return s.interval + offset
}

// Run triggers every cluster at once, then again on every tick, until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("Starting scheduler")

	ticker := time.NewTicker(s.nextInterval())
	defer ticker.Stop()

	s.TriggerAll(ctx)
	for {
		select {
		case <-ticker.C:
			s.TriggerAll(ctx)
			ticker.Reset(s.nextInterval())
		case <-ctx.Done():
			s.logger.Info().Msg("Scheduler stopping")
			return nil
		}
	}
}

// TriggerAll starts a run for every cluster. Busy clusters are skipped.
func (s *Scheduler) TriggerAll(ctx context.Context) []Trigger {
	targets := s.targets.Clusters()
	triggers := make([]Trigger, 0, len(targets))
	for _, target := range targets {
		trigger := Trigger{TargetID: target.ID}
		trigger.Handle, trigger.Err = s.starter.Start(ctx, target.ID)

		logger := s.logger.With().Str("target", target.String()).Logger()
		switch {
		case trigger.Err == nil:
			logger.Info().Str("run_id", trigger.Handle.RunID).Msg("Scheduled sync started")
		case errors.Is(trigger.Err, history.ErrSyncInProgress):
			trigger.Skipped = true
			trigger.Err = nil
			logger.Info().Msg("Sync already in progress, skipping")
		default:
			logger.Error().Err(trigger.Err).Msg("Scheduled sync failed to start")
		}
		triggers = append(triggers, trigger)
	}
	return triggers
}
