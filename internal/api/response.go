package api

import (
	"encoding/json"
	"net/http"
	"time"

	"ucm-sync/internal/models"
	"ucm-sync/internal/service/orchestrator"
)

func writeJSONResponse(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, map[string]string{"error": message}, statusCode)
}

type StartResponse struct {
	TargetID  string `json:"target_id"`
	RunID     string `json:"run_id"`
	BatchID   string `json:"batch_id"`
	HistoryID int64  `json:"history_id"`
}

type RunResponse struct {
	RunID         string               `json:"run_id"`
	Phase         models.RunPhase      `json:"phase"`
	InfraBatchID  string               `json:"infra_batch_id,omitempty"`
	InfraState    models.BatchState    `json:"infra_state,omitempty"`
	ServicesState models.BatchState    `json:"services_state,omitempty"`
	HistoryID     int64                `json:"history_id"`
	Warnings      []models.UnitWarning `json:"warnings"`
	Error         string               `json:"error,omitempty"`
	StartedAt     time.Time            `json:"started_at"`
	FinishedAt    *time.Time           `json:"finished_at,omitempty"`
}

type StatusResponse struct {
	TargetID string              `json:"target_id"`
	Outcome  models.SyncOutcome  `json:"outcome"`
	Run      *RunResponse        `json:"run,omitempty"`
	Latest   *models.SyncHistory `json:"latest,omitempty"`
}

// NewStatusResponse converts a run status to its wire form, leaving out target
// credentials.
func NewStatusResponse(status *orchestrator.RunStatus) StatusResponse {
	resp := StatusResponse{
		TargetID: status.TargetID,
		Outcome:  status.Outcome,
		Latest:   status.Latest,
	}
	if run := status.Run; run != nil {
		warnings := run.Warnings
		if warnings == nil {
			warnings = []models.UnitWarning{}
		}
		resp.Run = &RunResponse{
			RunID:         run.ID,
			Phase:         run.Phase,
			InfraBatchID:  run.InfraBatchID,
			InfraState:    run.InfraState,
			ServicesState: run.ServicesState,
			HistoryID:     run.HistoryID,
			Warnings:      warnings,
			Error:         run.Error,
			StartedAt:     run.StartedAt,
			FinishedAt:    run.FinishedAt,
		}
	}
	return resp
}
