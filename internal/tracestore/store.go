// Package tracestore keeps bounded per-user execution traces in memory for
// later debug retrieval.
//
// The store enforces a per-user cap and a global cap with oldest-first
// eviction. Eviction is silent and never an error. All step detail passes
// through redaction before storage, and retrieval is scoped strictly to the
// owning user.
package tracestore

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gcolon75/valine-orchestrator/internal/logging"
	"github.com/gcolon75/valine-orchestrator/internal/model"
)

// Store is the bounded in-memory trace store. One mutex guards both the
// global order and the per-user indexes; operations are short and
// allocation-light, so a single lock is sufficient at this scale.
type Store struct {
	userCap   int
	globalCap int
	logger    *slog.Logger

	mu      sync.Mutex
	order   []string // trace IDs, oldest first
	traces  map[string]*model.ExecutionTrace
	byUser  map[string][]string // trace IDs per user, oldest first
	nowFunc func() time.Time
}

// New creates a store with the given per-user and global capacities.
func New(userCap, globalCap int, logger *slog.Logger) *Store {
	return &Store{
		userCap:   userCap,
		globalCap: globalCap,
		logger:    logger,
		traces:    make(map[string]*model.ExecutionTrace),
		byUser:    make(map[string][]string),
		nowFunc:   time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.nowFunc = now
}

// StartTrace opens a new trace for the user's command and returns its ID.
// Capacity limits are enforced here: the oldest trace (per user, then
// globally) is evicted silently when a cap would be exceeded.
func (s *Store) StartTrace(userID, command string) string {
	traceID := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.traces[traceID] = &model.ExecutionTrace{
		TraceID:   traceID,
		UserID:    userID,
		Command:   command,
		StartedAt: s.nowFunc().UTC(),
	}
	s.order = append(s.order, traceID)
	s.byUser[userID] = append(s.byUser[userID], traceID)

	if len(s.byUser[userID]) > s.userCap {
		s.evictLocked(s.byUser[userID][0])
	}
	for len(s.order) > s.globalCap {
		s.evictLocked(s.order[0])
	}
	return traceID
}

// AddStep appends a timed step to an open trace. Detail is redacted before
// storage. Unknown trace IDs (already evicted) are a silent no-op.
func (s *Store) AddStep(traceID, name string, status model.StepStatus, detail string) {
	now := s.nowFunc().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	tr, ok := s.traces[traceID]
	if !ok {
		return
	}
	step := model.TraceStep{
		Name:      name,
		StartedAt: now,
		Status:    status,
		Detail:    logging.RedactString(detail),
	}
	if n := len(tr.Steps); n > 0 {
		prev := &tr.Steps[n-1]
		if prev.DurationMs == 0 {
			prev.DurationMs = now.Sub(prev.StartedAt).Milliseconds()
		}
		// Steps are strictly time-ordered within one trace.
		if step.StartedAt.Before(prev.StartedAt) {
			step.StartedAt = prev.StartedAt
		}
	}
	tr.Steps = append(tr.Steps, step)
}

// CompleteTrace closes a trace with its terminal outcome. The errDetail is
// redacted; pass "" when the command succeeded.
func (s *Store) CompleteTrace(traceID string, outcome model.TraceOutcome, errDetail string) {
	now := s.nowFunc().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	tr, ok := s.traces[traceID]
	if !ok {
		return
	}
	if n := len(tr.Steps); n > 0 && tr.Steps[n-1].DurationMs == 0 {
		tr.Steps[n-1].DurationMs = now.Sub(tr.Steps[n-1].StartedAt).Milliseconds()
	}
	tr.CompletedAt = &now
	tr.Outcome = outcome
	tr.Error = logging.RedactString(errDetail)
}

// LatestTraceForUser returns a copy of the user's most recent trace, or
// (nil, false). A different user's traces are invisible: ownership is the
// only lookup key.
func (s *Store) LatestTraceForUser(userID string) (*model.ExecutionTrace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byUser[userID]
	if len(ids) == 0 {
		return nil, false
	}
	tr := s.traces[ids[len(ids)-1]]
	cp := *tr
	cp.Steps = make([]model.TraceStep, len(tr.Steps))
	copy(cp.Steps, tr.Steps)
	return &cp, true
}

// TraceForUser returns a copy of one trace if and only if it belongs to
// userID. Any other combination is "not found".
func (s *Store) TraceForUser(userID, traceID string) (*model.ExecutionTrace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr, ok := s.traces[traceID]
	if !ok || tr.UserID != userID {
		return nil, false
	}
	cp := *tr
	cp.Steps = make([]model.TraceStep, len(tr.Steps))
	copy(cp.Steps, tr.Steps)
	return &cp, true
}

// Len returns the number of retained traces.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

func (s *Store) evictLocked(traceID string) {
	tr, ok := s.traces[traceID]
	if !ok {
		return
	}
	delete(s.traces, traceID)
	s.order = removeID(s.order, traceID)
	s.byUser[tr.UserID] = removeID(s.byUser[tr.UserID], traceID)
	if len(s.byUser[tr.UserID]) == 0 {
		delete(s.byUser, tr.UserID)
	}
	if s.logger != nil {
		s.logger.Debug("tracestore: evicted trace", "trace_id", traceID, "user_id", tr.UserID)
	}
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
