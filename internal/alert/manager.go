// Package alert delivers deduplicated, severity-tagged notifications.
package alert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/gcolon75/valine-orchestrator/internal/model"
	"github.com/gcolon75/valine-orchestrator/internal/telemetry"
)

// Notifier is the downstream delivery channel. Implementations must be safe
// for concurrent use.
type Notifier interface {
	PostMessage(ctx context.Context, channelID, content string) error
}

// Manager suppresses duplicate alerts inside a rolling window and hands the
// rest to the notifier. Suppression looks only at the dedupe key; severity
// affects presentation, never suppression.
type Manager struct {
	notifier  Notifier
	channelID string
	window    time.Duration
	enabled   bool
	logger    *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	nowFunc  func() time.Time

	delivered  metric.Int64Counter
	suppressed metric.Int64Counter

	stopOnce sync.Once
	done     chan struct{}
}

// New creates an alert manager. When enabled is false, Send is a recorded
// no-op (delivered=false) so callers need no feature-flag branches.
// A background goroutine evicts expired dedupe records; call Close to stop it.
func New(notifier Notifier, channelID string, window time.Duration, enabled bool, logger *slog.Logger) *Manager {
	meter := telemetry.Meter("valine/alert")
	delivered, _ := meter.Int64Counter("valine.alerts.delivered",
		metric.WithDescription("Alerts handed to the downstream notifier"))
	suppressed, _ := meter.Int64Counter("valine.alerts.suppressed",
		metric.WithDescription("Alerts suppressed by the dedupe window"))

	m := &Manager{
		notifier:   notifier,
		channelID:  channelID,
		window:     window,
		enabled:    enabled,
		logger:     logger,
		lastSent:   make(map[string]time.Time),
		nowFunc:    time.Now,
		delivered:  delivered,
		suppressed: suppressed,
		done:       make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// SetNowFunc overrides the clock, for tests.
func (m *Manager) SetNowFunc(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowFunc = now
}

// DedupeKey derives the suppression key for an alert. The correlation token
// participates so the same message about two different runs is two alerts.
func DedupeKey(severity model.AlertSeverity, message, correlationToken string) string {
	h := sha256.Sum256([]byte(string(severity) + "|" + message + "|" + correlationToken))
	return hex.EncodeToString(h[:])
}

// Send delivers one alert unless an identical one was delivered inside the
// dedupe window. Returns true when the alert was handed to the notifier.
// Downstream delivery failures are logged and reported as delivered=false,
// never propagated to the caller.
func (m *Manager) Send(ctx context.Context, severity model.AlertSeverity, message, correlationToken string, links []string) bool {
	if !m.enabled {
		return false
	}

	key := DedupeKey(severity, message, correlationToken)

	m.mu.Lock()
	now := m.nowFunc()
	if sentAt, ok := m.lastSent[key]; ok && now.Sub(sentAt) < m.window {
		m.mu.Unlock()
		m.suppressed.Add(ctx, 1)
		m.logger.Debug("alert: suppressed duplicate",
			"dedupe_key", key,
			"severity", string(severity),
			"correlation_token", correlationToken,
		)
		return false
	}
	// Record before delivering: suppression history survives delivery
	// failures, so a flapping notifier cannot amplify an alert storm.
	m.lastSent[key] = now
	m.mu.Unlock()

	content := render(severity, message, correlationToken, links)
	if err := m.notifier.PostMessage(ctx, m.channelID, content); err != nil {
		m.logger.Error("alert: delivery failed",
			"error", err,
			"severity", string(severity),
			"correlation_token", correlationToken,
		)
		return false
	}

	m.delivered.Add(ctx, 1)
	m.logger.Info("alert: delivered",
		"severity", string(severity),
		"correlation_token", correlationToken,
	)
	return true
}

// Close stops the dedupe eviction goroutine. Safe to call multiple times.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func render(severity model.AlertSeverity, message, correlationToken string, links []string) string {
	var b strings.Builder
	switch severity {
	case model.SeverityCritical:
		b.WriteString("🔴 **CRITICAL** ")
	case model.SeverityWarning:
		b.WriteString("🟡 **WARNING** ")
	default:
		b.WriteString("🔵 **INFO** ")
	}
	b.WriteString(message)
	if correlationToken != "" {
		b.WriteString(fmt.Sprintf("\ncorrelation: `%s`", correlationToken))
	}
	for _, l := range links {
		b.WriteString("\n" + l)
	}
	return b.String()
}

// cleanup evicts dedupe records older than the window. Expiry makes a later
// identical alert deliverable again; it never deletes alert history early.
func (m *Manager) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *Manager) evictExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.nowFunc().Add(-m.window)
	for key, sentAt := range m.lastSent {
		if sentAt.Before(cutoff) {
			delete(m.lastSent, key)
		}
	}
}
