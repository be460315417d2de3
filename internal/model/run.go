package model

import "time"

// RunStatus is the external system's view of a workflow run. Runs are
// read-only from this side: we mirror status, we never mutate it.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
)

// Valid reports whether s is a recognised run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusQueued, RunStatusInProgress, RunStatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further status transition will occur.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted
}

// RunConclusion is the outcome of a completed run. Empty until the run
// reaches a terminal status.
type RunConclusion string

const (
	ConclusionSuccess   RunConclusion = "success"
	ConclusionFailure   RunConclusion = "failure"
	ConclusionCancelled RunConclusion = "cancelled"
)

// WorkflowRun mirrors one run in the external CI/CD system.
type WorkflowRun struct {
	ID           int64         `json:"id"`
	WorkflowName string        `json:"workflow_name"`
	RunName      string        `json:"run_name"`
	URL          string        `json:"url"`
	Status       RunStatus     `json:"status"`
	Conclusion   RunConclusion `json:"conclusion,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Duration returns the run's observed duration, zero when UpdatedAt
// precedes StartedAt (clock skew in the external system).
func (r WorkflowRun) Duration() time.Duration {
	if r.UpdatedAt.Before(r.StartedAt) {
		return 0
	}
	return r.UpdatedAt.Sub(r.StartedAt)
}
