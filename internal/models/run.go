package models

import "time"

type RunPhase string

const (
	RunPhaseInfraRunning    RunPhase = "infra_running"
	RunPhaseAwaitingInfra   RunPhase = "awaiting_infra_completion"
	RunPhaseServicesRunning RunPhase = "services_running"
	RunPhaseDone            RunPhase = "done"
	RunPhaseFailed          RunPhase = "failed"
)

func (p RunPhase) IsTerminal() bool {
	return p == RunPhaseDone || p == RunPhaseFailed
}

// UnitWarning summarizes one failed unit for the history ledger.
type UnitWarning struct {
	Phase      Phase      `json:"phase"`
	EntityType EntityType `json:"entity_type"`
	Error      string     `json:"error"`
}

// SyncRun is the top-level run for one target.
type SyncRun struct {
	ID            string
	Target        SyncTarget
	Phase         RunPhase
	InfraBatchID  string
	InfraState    BatchState
	ServicesState BatchState
	HistoryID     int64
	Warnings      []UnitWarning
	Error         string
	StartedAt     time.Time
	FinishedAt    *time.Time
}
