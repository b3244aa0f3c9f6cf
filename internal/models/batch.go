package models

// BatchState is the aggregate state of a group of units.
type BatchState string

const (
	BatchStatePending         BatchState = "pending"
	BatchStateSucceeded       BatchState = "succeeded"
	BatchStatePartiallyFailed BatchState = "partially_failed"
	BatchStateFailed          BatchState = "failed"
)

func (s BatchState) String() string {
	return string(s)
}

// IsTerminal reports whether no member of the batch is still unresolved.
func (s BatchState) IsTerminal() bool {
	return s == BatchStateSucceeded || s == BatchStatePartiallyFailed || s == BatchStateFailed
}

type UnitOutcome string

const (
	UnitOutcomePending   UnitOutcome = "pending"
	UnitOutcomeSucceeded UnitOutcome = "succeeded"
	UnitOutcomeFailed    UnitOutcome = "failed"
)

// AggregateState derives the batch state from member outcomes. A batch
// without members has nothing left to do and is reported as succeeded.
func AggregateState(outcomes []UnitOutcome) BatchState {
	succeeded, failed := 0, 0
	for _, outcome := range outcomes {
		switch outcome {
		case UnitOutcomeSucceeded:
			succeeded++
		case UnitOutcomeFailed:
			failed++
		default:
			return BatchStatePending
		}
	}

	switch {
	case failed == 0:
		return BatchStateSucceeded
	case succeeded == 0:
		return BatchStateFailed
	default:
		return BatchStatePartiallyFailed
	}
}
