package domain

import "time"

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// IsTerminal reports whether the status admits no further transition.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed
}

// CanTransitionTo enforces the run state machine:
// pending -> running -> {completed, failed}, terminal set exactly once.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	switch s {
	case RunPending:
		return next == RunRunning || next == RunFailed
	case RunRunning:
		return next == RunCompleted || next == RunFailed
	default:
		return false
	}
}

// ConsolidationRun is one execution of the pipeline for an (org,
// period) pair.
type ConsolidationRun struct {
	ID           string     `json:"id"`
	OrgID        string     `json:"org_id"`
	Period       string     `json:"period"`
	BaseCurrency string     `json:"base_currency"`
	Status       RunStatus  `json:"status"`
	CreatedBy    string     `json:"created_by"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// ConsolidationConfig is the external trigger's input for a run.
type ConsolidationConfig struct {
	OrgID        string `json:"org_id"`
	Period       string `json:"period"`
	BaseCurrency string `json:"base_currency"`
}
