// Package fanout runs the services phase: for each service entity type a
// paginated list, a bounded get per listed record and a chunked upsert of
// the detailed and derived records.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ucm-sync/internal/axl"
	"ucm-sync/internal/config"
	"ucm-sync/internal/entity"
	"ucm-sync/internal/metrics"
	"ucm-sync/internal/models"
	"ucm-sync/internal/repository"
	"ucm-sync/internal/service/job"
	"ucm-sync/pkg/log"
)

var ErrTypePanicked = errors.New("service type sync panicked")

type Options struct {
	// Concurrency bounds how many entity types run at once.
	Concurrency int
	// GetConcurrency bounds the get calls in flight for one type.
	GetConcurrency int
	Job            job.Options
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Concurrency:    cfg.Concurrency,
		GetConcurrency: cfg.Sync.GetConcurrency,
		Job:            job.OptionsFromConfig(cfg.Sync),
	}
}

type TypeResult struct {
	EntityType     models.EntityType
	Listed         int
	Fetched        int
	RecordsWritten int
	Skipped        int
	// Derived counts records written per derived entity type.
	Derived  map[models.EntityType]int
	Attempts uint
	Elapsed  time.Duration
	Err      error
}

func (r *TypeResult) Outcome() models.UnitOutcome {
	if r.Err != nil {
		return models.UnitOutcomeFailed
	}
	return models.UnitOutcomeSucceeded
}

type PhaseResult struct {
	Results map[models.EntityType]*TypeResult
	State   models.BatchState
	Elapsed time.Duration
	order   []models.EntityType
}

// Warnings lists the failed types in the order they were requested.
func (p *PhaseResult) Warnings() []models.UnitWarning {
	var warnings []models.UnitWarning
	for _, entityType := range p.order {
		result := p.Results[entityType]
		if result == nil || result.Err == nil {
			continue
		}
		warnings = append(warnings, models.UnitWarning{
			Phase:      models.PhaseServices,
			EntityType: entityType,
			Error:      result.Err.Error(),
		})
	}
	return warnings
}

type Runner struct {
	client  axl.Client
	records repository.EntityRecordRepository
	options Options
	logger  zerolog.Logger
}

func NewRunner(client axl.Client, records repository.EntityRecordRepository, options Options) *Runner {
	if options.Concurrency < 1 {
		options.Concurrency = 1
	}
	if options.GetConcurrency < 1 {
		options.GetConcurrency = 1
	}
	options.Job = options.Job.WithDefaults()
	return &Runner{
		client:  client,
		records: records,
		options: options,
		logger:  log.Logger.With().Str("component", "service_fanout_runner").Logger(),
	}
}

// Run syncs every entity type against target. A failing type is reported in
// its TypeResult and never stops the others.
func (r *Runner) Run(ctx context.Context, target models.SyncTarget, entityTypes []models.EntityType) *PhaseResult {
	start := time.Now()
	phase := &PhaseResult{
		Results: make(map[models.EntityType]*TypeResult, len(entityTypes)),
		order:   entityTypes,
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.options.Concurrency)
	for _, entityType := range entityTypes {
		g.Go(func() error {
			result := r.runType(ctx, target, entityType)
			mu.Lock()
			phase.Results[entityType] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	outcomes := make([]models.UnitOutcome, 0, len(entityTypes))
	for _, entityType := range entityTypes {
		outcomes = append(outcomes, phase.Results[entityType].Outcome())
	}
	phase.State = models.AggregateState(outcomes)
	phase.Elapsed = time.Since(start)

	r.logger.Info().
		Str("target_id", target.ID).
		Str("state", phase.State.String()).
		Int("types", len(entityTypes)).
		Dur("elapsed", phase.Elapsed).
		Msg("Services phase finished")
	return phase
}

func (r *Runner) runType(ctx context.Context, target models.SyncTarget, entityType models.EntityType) (result *TypeResult) {
	logger := r.logger.With().
		Str("entity_type", entityType.String()).
		Str("target_id", target.ID).
		Logger()
	start := time.Now()
	result = &TypeResult{EntityType: entityType, Derived: make(map[models.EntityType]int)}

	defer func() {
		if p := recover(); p != nil {
			result.Err = fmt.Errorf("%w: %v", ErrTypePanicked, p)
		}
		result.Elapsed = time.Since(start)
		r.report(logger, result)
	}()

	result.Err = r.syncType(ctx, logger, target, entityType, result)
	return result
}

func (r *Runner) syncType(
	ctx context.Context,
	logger zerolog.Logger,
	target models.SyncTarget,
	entityType models.EntityType,
	result *TypeResult,
) error {
	d, err := entity.Lookup(entityType)
	if err != nil {
		return err
	}

	var listed []models.RawRecord
	pager := job.NewPager(r.client, r.options.Job.PageSize, r.options.Job.Retry, logger)
	stats, err := pager.Walk(ctx, target, d, func(page []models.RawRecord) error {
		listed = append(listed, page...)
		return nil
	})
	result.Listed = len(listed)
	result.Attempts += stats.Attempts
	if err != nil {
		return err
	}

	detailed := listed
	if d.HasDetail() {
		detailed, err = r.fetchDetails(ctx, logger, target, d, listed, result)
		if err != nil {
			return err
		}
	}

	return r.write(ctx, logger, target, d, detailed, result)
}

// fetchDetails issues one get per listed record, at most GetConcurrency at a
// time, and returns the details in list order. The first get that fails
// after its retries fails the whole type.
func (r *Runner) fetchDetails(
	ctx context.Context,
	logger zerolog.Logger,
	target models.SyncTarget,
	d *entity.Descriptor,
	listed []models.RawRecord,
	result *TypeResult,
) ([]models.RawRecord, error) {
	detailed := make([]models.RawRecord, len(listed))
	var attempts atomic.Uint64
	var fetched atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.options.GetConcurrency)
	for i, raw := range listed {
		id, _ := raw["uuid"].(string)
		if id == "" {
			// keyed by uuid, so it is skipped when written
			detailed[i] = raw
			continue
		}
		g.Go(func() (err error) {
			// a panic on an errgroup goroutine is out of reach of runType
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("%w: %s %s: %v", ErrTypePanicked, d.GetOperation, id, p)
				}
			}()
			detail, tries, err := job.Retry(gctx, r.options.Job.Retry, d.GetOperation, logger, func() (models.RawRecord, error) {
				return r.client.Get(gctx, target, d.Type, id)
			})
			attempts.Add(uint64(tries))
			if err != nil {
				return fmt.Errorf("%s %s: %w", d.GetOperation, id, err)
			}
			detailed[i] = detail
			fetched.Add(1)
			return nil
		})
	}
	err := g.Wait()
	result.Attempts += uint(attempts.Load())
	result.Fetched = int(fetched.Load())
	if err != nil {
		return nil, err
	}
	return detailed, nil
}

func (r *Runner) write(
	ctx context.Context,
	logger zerolog.Logger,
	target models.SyncTarget,
	d *entity.Descriptor,
	detailed []models.RawRecord,
	result *TypeResult,
) error {
	writer := job.NewChunkWriter(r.records, r.options.Job.ChunkSize)

	var derivedDescriptor *entity.Descriptor
	var derivedWriter *job.ChunkWriter
	if d.Derived != nil {
		var err error
		if derivedDescriptor, err = entity.Lookup(d.Derived.Type); err != nil {
			return err
		}
		derivedWriter = job.NewChunkWriter(r.records, r.options.Job.ChunkSize)
	}

	defer func() {
		result.RecordsWritten = writer.Written()
		if derivedWriter != nil {
			result.Derived[derivedDescriptor.Type] = derivedWriter.Written()
		}
	}()

	for _, raw := range detailed {
		record, err := entity.ToEntityRecord(d, target.ID, raw)
		if errors.Is(err, entity.ErrMissingKey) {
			logger.Warn().Err(err).Msg("Skipping record without natural key")
			result.Skipped++
			continue
		}
		if err != nil {
			return err
		}
		if err := writer.Add(ctx, record); err != nil {
			return err
		}

		if derivedWriter == nil {
			continue
		}
		for _, child := range d.Derived.Derive(raw) {
			derived, err := entity.ToEntityRecord(derivedDescriptor, target.ID, child)
			if errors.Is(err, entity.ErrMissingKey) {
				result.Skipped++
				continue
			}
			if err != nil {
				return err
			}
			if err := derivedWriter.Add(ctx, derived); err != nil {
				return fmt.Errorf("%s: %w", derivedDescriptor.Type, err)
			}
		}
	}

	if err := writer.Flush(ctx); err != nil {
		return err
	}
	if derivedWriter != nil {
		if err := derivedWriter.Flush(ctx); err != nil {
			return fmt.Errorf("%s: %w", derivedDescriptor.Type, err)
		}
	}
	return nil
}

func (r *Runner) report(logger zerolog.Logger, result *TypeResult) {
	metrics.RecordUnitOutcome(string(models.PhaseServices), result.EntityType.String(), string(result.Outcome()), result.Elapsed)
	metrics.RecordRecordsUpserted(result.EntityType.String(), result.RecordsWritten)
	for derivedType, written := range result.Derived {
		metrics.RecordRecordsUpserted(derivedType.String(), written)
	}

	event := logger.Info()
	if result.Err != nil {
		event = logger.Warn().Err(result.Err)
	}
	event.
		Int("listed", result.Listed).
		Int("fetched", result.Fetched).
		Int("records_written", result.RecordsWritten).
		Int("records_skipped", result.Skipped).
		Uint("attempts", result.Attempts).
		Dur("elapsed", result.Elapsed).
		Msg("Service type finished")
}
