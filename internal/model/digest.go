package model

import "time"

// WorkflowDigest is the per-workflow slice of a status digest.
type WorkflowDigest struct {
	WorkflowName  string       `json:"workflow_name"`
	TotalRuns     int          `json:"total_runs"`
	SuccessCount  int          `json:"success_count"`
	FailureCount  int          `json:"failure_count"`
	AvgDurationMs int64        `json:"avg_duration_ms"`
	HasAvg        bool         `json:"has_avg"`
	LatestRun     *WorkflowRun `json:"latest_run,omitempty"`
	LatestRunAgo  string       `json:"latest_run_ago,omitempty"`
}

// StatusDigest is a time-windowed success/failure summary across workflows.
// Computed on demand, never stored.
type StatusDigest struct {
	PeriodStart time.Time        `json:"period_start"`
	PeriodEnd   time.Time        `json:"period_end"`
	Workflows   []WorkflowDigest `json:"workflows"`
}
