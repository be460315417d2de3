// Package status computes time-windowed success/failure digests across
// workflow runs.
//
// A digest is a pure function of the fetched run list and the supplied
// "now": identical inputs always produce identical output.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gcolon75/valine-orchestrator/internal/model"
)

// historyLimit bounds how much history is fetched per workflow.
const historyLimit = 50

// Window selects the digest period.
type Window string

const (
	WindowDaily  Window = "daily"  // last 24 hours
	WindowWeekly Window = "weekly" // last 7 days
)

// Valid reports whether w is a recognised window.
func (w Window) Valid() bool {
	return w == WindowDaily || w == WindowWeekly
}

// Duration returns the window's span.
func (w Window) Duration() time.Duration {
	if w == WindowWeekly {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// HistoryAPI is the slice of the control plane the aggregator consumes.
type HistoryAPI interface {
	ListRuns(ctx context.Context, workflowFile string, limit int) ([]model.WorkflowRun, error)
}

// Aggregator builds status digests from recent run history.
type Aggregator struct {
	api       HistoryAPI
	workflows []string
	logger    *slog.Logger
	nowFunc   func() time.Time
}

// New creates an aggregator over the given workflow files.
func New(api HistoryAPI, workflows []string, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		api:       api,
		workflows: workflows,
		logger:    logger,
		nowFunc:   func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the clock, for tests.
func (a *Aggregator) SetNowFunc(now func() time.Time) { a.nowFunc = now }

// Digest fetches bounded recent history for every configured workflow and
// computes the windowed digest. Zero runs in the window is a valid digest,
// not an error; fetch failures for one workflow degrade to an empty slice
// for that workflow so the rest still report.
func (a *Aggregator) Digest(ctx context.Context, window Window) (model.StatusDigest, error) {
	if !window.Valid() {
		return model.StatusDigest{}, fmt.Errorf("status: unknown window %q", window)
	}
	now := a.nowFunc()

	digest := model.StatusDigest{
		PeriodStart: now.Add(-window.Duration()),
		PeriodEnd:   now,
	}
	for _, wf := range a.workflows {
		runs, err := a.api.ListRuns(ctx, wf, historyLimit)
		if err != nil {
			a.logger.WarnContext(ctx, "status: history fetch failed", "workflow", wf, "error", err)
			runs = nil
		}
		digest.Workflows = append(digest.Workflows, Compute(wf, runs, digest.PeriodStart, now))
	}
	return digest, nil
}

// Compute builds one workflow's digest slice from its run list. Runs
// outside [periodStart, now] are ignored. Average duration covers
// completed runs only; HasAvg is false when none completed.
func Compute(workflowName string, runs []model.WorkflowRun, periodStart, now time.Time) model.WorkflowDigest {
	d := model.WorkflowDigest{WorkflowName: workflowName}

	var inWindow []model.WorkflowRun
	for _, r := range runs {
		if r.StartedAt.Before(periodStart) || r.StartedAt.After(now) {
			continue
		}
		inWindow = append(inWindow, r)
	}
	sort.Slice(inWindow, func(i, j int) bool {
		return inWindow[i].StartedAt.After(inWindow[j].StartedAt)
	})

	var totalDuration time.Duration
	var completedCount int
	for i, r := range inWindow {
		d.TotalRuns++
		switch {
		case r.Conclusion == model.ConclusionSuccess:
			d.SuccessCount++
		case r.Status == model.RunStatusCompleted:
			// Cancelled counts as a failure for reporting purposes.
			d.FailureCount++
		}
		if r.Status == model.RunStatusCompleted {
			totalDuration += r.Duration()
			completedCount++
		}
		if i == 0 {
			run := r
			d.LatestRun = &run
			d.LatestRunAgo = RelativeTime(r.StartedAt, now)
		}
	}
	if completedCount > 0 {
		d.AvgDurationMs = (totalDuration / time.Duration(completedCount)).Milliseconds()
		d.HasAvg = true
	}
	return d
}

// RelativeTime renders t against now in coarse human units ("3m ago").
func RelativeTime(t, now time.Time) string {
	if t.After(now) {
		return "just now"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
