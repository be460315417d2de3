package model

import "time"

// StepStatus is the outcome of one recorded execution step.
type StepStatus string

const (
	StepStatusOK      StepStatus = "ok"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// TraceStep is one timed step inside an execution trace. Steps are strictly
// time-ordered within a trace.
type TraceStep struct {
	Name       string     `json:"name"`
	StartedAt  time.Time  `json:"started_at"`
	DurationMs int64      `json:"duration_ms"`
	Status     StepStatus `json:"status"`
	Detail     string     `json:"detail,omitempty"`
}

// TraceOutcome is the terminal result of a traced command.
type TraceOutcome string

const (
	TraceOutcomeSuccess TraceOutcome = "success"
	TraceOutcomeFailure TraceOutcome = "failure"
	TraceOutcomeTimeout TraceOutcome = "timeout"
)

// ExecutionTrace is the per-invocation debug timeline retained by the trace
// store. Detail fields are redacted before they ever reach a trace.
type ExecutionTrace struct {
	TraceID     string       `json:"trace_id"`
	UserID      string       `json:"user_id"`
	Command     string       `json:"command"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Steps       []TraceStep  `json:"steps"`
	Outcome     TraceOutcome `json:"outcome,omitempty"`
	Error       string       `json:"error,omitempty"`
}
