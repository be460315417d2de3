package model

import "time"

// AlertSeverity tags a notification for presentation. Severity never
// participates in dedupe suppression.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Valid reports whether s is a recognised severity.
func (s AlertSeverity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// AlertEvent is one notification submitted to the alert manager.
type AlertEvent struct {
	Severity         AlertSeverity `json:"severity"`
	Message          string        `json:"message"`
	CorrelationToken string        `json:"correlation_token,omitempty"`
	Links            []string      `json:"links,omitempty"`
	DedupeKey        string        `json:"dedupe_key"`
	LastSentAt       time.Time     `json:"last_sent_at"`
}
