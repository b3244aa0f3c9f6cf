// Package batch runs groups of sync units on a fixed pool of workers and
// tracks the outcome of every member in a ledger.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ucm-sync/internal/models"
	"ucm-sync/internal/service/job"
	"ucm-sync/pkg/log"
)

var (
	ErrBatchNotFound      = errors.New("batch not found")
	ErrCoordinatorStopped = errors.New("batch coordinator is not running")
	ErrCoordinatorStarted = errors.New("batch coordinator already started")
)

// UnitExecutor runs one unit to completion and reports every failure in the
// result.
type UnitExecutor interface {
	Execute(ctx context.Context, unit models.SyncUnit) *job.UnitResult
}

type BatchHandle struct {
	ID   string
	Name string
	Size int
}

type BatchStatus struct {
	ID        string
	Name      string
	State     models.BatchState
	Total     int
	Succeeded int
	Failed    int
	Pending   int
	CreatedAt time.Time
	// Results of resolved members, in dispatch order.
	Results []*job.UnitResult
}

type task struct {
	batchID string
	unit    models.SyncUnit
}

type Coordinator struct {
	executor UnitExecutor
	workers  int
	logger   zerolog.Logger

	tasks   chan task
	quit    chan struct{}
	feeders sync.WaitGroup
	pool    sync.WaitGroup

	mu      sync.RWMutex // Protects batches, running, stopped
	batches map[string]*ledger
	running bool
	stopped bool
}

func NewCoordinator(executor UnitExecutor, workers int) *Coordinator {
	if workers < 1 {
		workers = 1
	}
	return &Coordinator{
		executor: executor,
		workers:  workers,
		logger:   log.Logger.With().Str("component", "batch_coordinator").Logger(),
		tasks:    make(chan task),
		quit:     make(chan struct{}),
		batches:  make(map[string]*ledger),
	}
}

// Start launches the worker pool. Units run with ctx, so cancelling it aborts
// in-flight units, which then resolve as failed.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrCoordinatorStopped
	}
	if c.running {
		return ErrCoordinatorStarted
	}
	c.running = true

	for i := 0; i < c.workers; i++ {
		c.pool.Add(1)
		go c.work(ctx, i)
	}
	c.logger.Info().Int("workers", c.workers).Msg("Batch coordinator started")
	return nil
}

// Stop refuses new batches, resolves members that were never picked up as
// failed and waits for in-flight units to return.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.running = false
	c.mu.Unlock()

	close(c.quit)
	c.feeders.Wait()
	close(c.tasks)
	c.pool.Wait()
	c.logger.Info().Msg("Batch coordinator stopped")
}

// Dispatch registers a batch and queues its units. It returns once the batch
// is registered; the units run on the pool.
func (c *Coordinator) Dispatch(ctx context.Context, units []models.SyncUnit, name string) (*BatchHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil, ErrCoordinatorStopped
	}
	l := newLedger(uuid.NewString(), name, units)
	c.batches[l.id] = l
	c.feeders.Add(1)
	c.mu.Unlock()

	c.logger.Info().
		Str("batch_id", l.id).
		Str("batch_name", name).
		Int("units", len(l.order)).
		Msg("Batch dispatched")

	go c.feed(l.id, units)
	return &BatchHandle{ID: l.id, Name: name, Size: len(l.order)}, nil
}

func (c *Coordinator) feed(batchID string, units []models.SyncUnit) {
	defer c.feeders.Done()
	for i, unit := range units {
		select {
		case c.tasks <- task{batchID: batchID, unit: unit}:
		case <-c.quit:
			for _, skipped := range units[i:] {
				c.resolve(batchID, &job.UnitResult{Unit: skipped, Err: ErrCoordinatorStopped})
			}
			return
		}
	}
}

func (c *Coordinator) work(ctx context.Context, worker int) {
	defer c.pool.Done()
	logger := c.logger.With().Int("worker", worker).Logger()
	for t := range c.tasks {
		logger.Debug().Str("batch_id", t.batchID).Str("unit_id", t.unit.ID()).Msg("Picked up unit")
		result := c.executor.Execute(ctx, t.unit)
		if result == nil {
			result = &job.UnitResult{Unit: t.unit, Err: fmt.Errorf("unit %s returned no result", t.unit.ID())}
		}
		c.resolve(t.batchID, result)
	}
}

func (c *Coordinator) resolve(batchID string, result *job.UnitResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.batches[batchID]
	if !ok {
		return
	}
	if l.record(result) {
		c.logger.Info().Str("batch_id", batchID).Str("batch_name", l.name).Msg("Batch resolved")
	}
}

// Status aggregates the ledger as it is now.
func (c *Coordinator) Status(id string) (*BatchStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	return l.status(), nil
}

// Done returns a channel closed once every member of the batch resolved.
func (c *Coordinator) Done(id string) (<-chan struct{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	return l.done, nil
}

// Wait blocks until the batch resolved or ctx ends.
func (c *Coordinator) Wait(ctx context.Context, id string) (*BatchStatus, error) {
	done, err := c.Done(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-done:
		return c.Status(id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release forgets a batch. Members still running resolve into nothing.
func (c *Coordinator) Release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.batches, id)
}
