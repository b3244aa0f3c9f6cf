package batch

import (
	"time"

	"ucm-sync/internal/models"
	"ucm-sync/internal/service/job"
)

// ledger tracks the members of one batch by unit id. Callers hold the
// coordinator lock.
type ledger struct {
	id        string
	name      string
	createdAt time.Time
	order     []string
	outcomes  map[string]models.UnitOutcome
	results   map[string]*job.UnitResult
	pending   int
	done      chan struct{}
}

func newLedger(id, name string, units []models.SyncUnit) *ledger {
	l := &ledger{
		id:        id,
		name:      name,
		createdAt: time.Now().UTC(),
		outcomes:  make(map[string]models.UnitOutcome, len(units)),
		results:   make(map[string]*job.UnitResult, len(units)),
		done:      make(chan struct{}),
	}
	for _, unit := range units {
		unitID := unit.ID()
		if _, seen := l.outcomes[unitID]; seen {
			continue
		}
		l.order = append(l.order, unitID)
		l.outcomes[unitID] = models.UnitOutcomePending
	}
	l.pending = len(l.order)
	if l.pending == 0 {
		close(l.done)
	}
	return l
}

// record stores the result of a member; a later result for the same unit
// replaces the earlier one. It reports whether this resolved the batch.
func (l *ledger) record(result *job.UnitResult) bool {
	unitID := result.Unit.ID()
	previous, ok := l.outcomes[unitID]
	if !ok {
		return false
	}
	l.outcomes[unitID] = result.Outcome()
	l.results[unitID] = result
	if previous != models.UnitOutcomePending {
		return false
	}
	l.pending--
	if l.pending == 0 {
		close(l.done)
		return true
	}
	return false
}

func (l *ledger) status() *BatchStatus {
	status := &BatchStatus{
		ID:        l.id,
		Name:      l.name,
		Total:     len(l.order),
		CreatedAt: l.createdAt,
		Results:   make([]*job.UnitResult, 0, len(l.results)),
	}
	outcomes := make([]models.UnitOutcome, 0, len(l.order))
	for _, unitID := range l.order {
		outcome := l.outcomes[unitID]
		outcomes = append(outcomes, outcome)
		switch outcome {
		case models.UnitOutcomeSucceeded:
			status.Succeeded++
		case models.UnitOutcomeFailed:
			status.Failed++
		default:
			status.Pending++
		}
		if result, ok := l.results[unitID]; ok {
			status.Results = append(status.Results, result)
		}
	}
	status.State = models.AggregateState(outcomes)
	return status
}
