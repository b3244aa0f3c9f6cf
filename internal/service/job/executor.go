// Package job runs one sync unit: every page of one entity type pulled from
// AXL, normalized and upserted in chunks.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ucm-sync/internal/axl"
	"ucm-sync/internal/entity"
	"ucm-sync/internal/metrics"
	"ucm-sync/internal/models"
	"ucm-sync/internal/repository"
	"ucm-sync/pkg/log"
)

var ErrUnitPanicked = errors.New("sync unit panicked")

type UnitResult struct {
	Unit           models.SyncUnit
	RecordsWritten int
	Skipped        int
	Pages          int
	Attempts       uint
	Elapsed        time.Duration
	Err            error
}

func (r *UnitResult) Outcome() models.UnitOutcome {
	if r.Err != nil {
		return models.UnitOutcomeFailed
	}
	return models.UnitOutcomeSucceeded
}

// Warning summarizes a failed unit for the history ledger. It returns nil for
// a successful unit.
func (r *UnitResult) Warning() *models.UnitWarning {
	if r.Err == nil {
		return nil
	}
	phase := models.PhaseInfra
	if d, err := entity.Lookup(r.Unit.EntityType); err == nil {
		phase = d.Phase
	}
	return &models.UnitWarning{
		Phase:      phase,
		EntityType: r.Unit.EntityType,
		Error:      r.Err.Error(),
	}
}

type Executor struct {
	client  axl.Client
	records repository.EntityRecordRepository
	options Options
	logger  zerolog.Logger
}

func NewExecutor(client axl.Client, records repository.EntityRecordRepository, options Options) *Executor {
	return &Executor{
		client:  client,
		records: records,
		options: options.WithDefaults(),
		logger:  log.Logger.With().Str("component", "sync_unit_executor").Logger(),
	}
}

// Execute syncs one unit. It never returns an error nor panics: every failure
// is reported in UnitResult.Err. Records written before a failure stay
// written.
func (e *Executor) Execute(ctx context.Context, unit models.SyncUnit) (result *UnitResult) {
	logger := e.logger.With().
		Str("unit_id", unit.ID()).
		Str("entity_type", unit.EntityType.String()).
		Str("target_id", unit.Target.ID).
		Logger()

	start := time.Now()
	result = &UnitResult{Unit: unit}

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("%w: %v", ErrUnitPanicked, r)
		}
		result.Elapsed = time.Since(start)
		e.report(logger, result)
	}()

	logger.Debug().Msg("Starting sync unit")
	result.Err = e.execute(ctx, logger, unit, result)
	return result
}

func (e *Executor) execute(ctx context.Context, logger zerolog.Logger, unit models.SyncUnit, result *UnitResult) error {
	d, err := entity.Lookup(unit.EntityType)
	if err != nil {
		return err
	}

	writer := NewChunkWriter(e.records, e.options.ChunkSize)
	defer func() {
		result.RecordsWritten = writer.Written()
	}()

	pager := NewPager(e.client, e.options.PageSize, e.options.Retry, logger)
	stats, err := pager.Walk(ctx, unit.Target, d, func(page []models.RawRecord) error {
		records := make([]models.EntityRecord, 0, len(page))
		for _, raw := range page {
			record, err := entity.ToEntityRecord(d, unit.Target.ID, raw)
			if errors.Is(err, entity.ErrMissingKey) {
				logger.Warn().Err(err).Msg("Skipping record without natural key")
				result.Skipped++
				continue
			}
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return writer.Add(ctx, records...)
	})
	result.Pages = stats.Pages
	result.Attempts = stats.Attempts
	if err != nil {
		return err
	}

	return writer.Flush(ctx)
}

func (e *Executor) report(logger zerolog.Logger, result *UnitResult) {
	d, err := entity.Lookup(result.Unit.EntityType)
	phase := models.PhaseInfra
	if err == nil {
		phase = d.Phase
	}
	metrics.RecordUnitOutcome(string(phase), result.Unit.EntityType.String(), string(result.Outcome()), result.Elapsed)
	metrics.RecordRecordsUpserted(result.Unit.EntityType.String(), result.RecordsWritten)

	event := logger.Info()
	if result.Err != nil {
		event = logger.Warn().Err(result.Err)
	}
	event.
		Int("records_written", result.RecordsWritten).
		Int("records_skipped", result.Skipped).
		Int("pages", result.Pages).
		Uint("attempts", result.Attempts).
		Dur("elapsed", result.Elapsed).
		Msg("Sync unit finished")
}
