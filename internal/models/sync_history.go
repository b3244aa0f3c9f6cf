package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type SyncHistoryStatus string

const (
	SyncHistoryStatusSyncing   SyncHistoryStatus = "syncing"
	SyncHistoryStatusCompleted SyncHistoryStatus = "completed"
	SyncHistoryStatusFailed    SyncHistoryStatus = "failed"
)

func (s SyncHistoryStatus) String() string {
	return string(s)
}

// SyncHistory is one ledger entry for a sync attempt against a cluster or node.
type SyncHistory struct {
	ID            int64             `db:"id" json:"id"`
	SyncableType  TargetKind        `db:"syncable_type" json:"syncable_type"`
	SyncableID    string            `db:"syncable_id" json:"syncable_id"`
	SyncStartTime time.Time         `db:"sync_start_time" json:"sync_start_time"`
	SyncEndTime   *time.Time        `db:"sync_end_time" json:"sync_end_time"`
	Status        SyncHistoryStatus `db:"status" json:"status"`
	Error         *string           `db:"error" json:"error"`
	Warnings      UnitWarnings      `db:"warnings" json:"warnings"`
}

// IsOpen reports whether the entry still guards its target against new runs.
func (h *SyncHistory) IsOpen() bool {
	return h.Status == SyncHistoryStatusSyncing && h.SyncEndTime == nil
}

// UnitWarnings is stored as a jsonb array.
type UnitWarnings []UnitWarning

func (w UnitWarnings) Value() (driver.Value, error) {
	if w == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(w)
}

func (w *UnitWarnings) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*w = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into UnitWarnings", src)
	}
	return json.Unmarshal(data, w)
}

// SyncOutcome is what an operator sees for a target.
type SyncOutcome string

const (
	SyncOutcomeNeverSynced         SyncOutcome = "never_synced"
	SyncOutcomeSyncing             SyncOutcome = "syncing"
	SyncOutcomeCompleted           SyncOutcome = "completed"
	SyncOutcomeCompletedWithErrors SyncOutcome = "completed_with_errors"
	SyncOutcomeFailed              SyncOutcome = "failed"
)

var ErrUnknownHistoryStatus = errors.New("unknown sync history status")

// OutcomeOf maps the latest history entry of a target to an outcome. A nil
// entry means the target was never synced.
func OutcomeOf(h *SyncHistory) (SyncOutcome, error) {
	if h == nil {
		return SyncOutcomeNeverSynced, nil
	}
	switch h.Status {
	case SyncHistoryStatusSyncing:
		return SyncOutcomeSyncing, nil
	case SyncHistoryStatusFailed:
		return SyncOutcomeFailed, nil
	case SyncHistoryStatusCompleted:
		if len(h.Warnings) > 0 {
			return SyncOutcomeCompletedWithErrors, nil
		}
		return SyncOutcomeCompleted, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownHistoryStatus, h.Status)
	}
}
