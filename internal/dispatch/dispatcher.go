// Package dispatch triggers external workflow runs, discovers the concrete
// run via its embedded correlation token, and polls it to a terminal state
// under strict timeouts.
//
// Timeouts here are observational, never destructive: when a poll or
// discovery deadline passes, the external run is left running and the
// caller is handed its link for manual follow-up.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/gcolon75/valine-orchestrator/internal/github"
	"github.com/gcolon75/valine-orchestrator/internal/model"
	"github.com/gcolon75/valine-orchestrator/internal/retry"
	"github.com/gcolon75/valine-orchestrator/internal/telemetry"
)

// listLimit bounds how many recent runs one discovery attempt inspects.
const listLimit = 50

// pollRetryBudget is how many rate-limited responses a poll loop absorbs
// (with a doubled interval) before the error surfaces.
const pollRetryBudget = 2

// RunsAPI is the slice of the CI/CD control plane the dispatcher consumes.
// *github.Client satisfies it.
type RunsAPI interface {
	DispatchWorkflow(ctx context.Context, workflowFile, ref string, inputs map[string]string) error
	ListRuns(ctx context.Context, workflowFile string, limit int) ([]model.WorkflowRun, error)
	GetRun(ctx context.Context, runID int64) (model.WorkflowRun, error)
}

// Config holds the dispatcher's timing parameters.
type Config struct {
	DiscoveryDeadline time.Duration // overall budget for locating the run
	DiscoveryMaxAge   time.Duration // age bound for the fallback strategy
	PollTimeout       time.Duration
	PollInterval      time.Duration
}

// Dispatcher owns dispatch → discover → poll for one repository.
type Dispatcher struct {
	api     RunsAPI
	cfg     Config
	logger  *slog.Logger
	sleep   retry.SleepFunc
	nowFunc func() time.Time

	dispatches   metric.Int64Counter
	pollAttempts metric.Int64Counter
}

// New creates a dispatcher.
func New(api RunsAPI, cfg Config, logger *slog.Logger) *Dispatcher {
	meter := telemetry.Meter("valine/dispatch")
	dispatches, _ := meter.Int64Counter("valine.dispatch.total",
		metric.WithDescription("Workflow dispatch attempts"))
	pollAttempts, _ := meter.Int64Counter("valine.poll.attempts",
		metric.WithDescription("Run status poll attempts"))

	return &Dispatcher{
		api:          api,
		cfg:          cfg,
		logger:       logger,
		sleep:        retry.Sleep,
		nowFunc:      time.Now,
		dispatches:   dispatches,
		pollAttempts: pollAttempts,
	}
}

// SetSleepFunc overrides the poll/discovery sleep, for tests.
func (d *Dispatcher) SetSleepFunc(sleep retry.SleepFunc) { d.sleep = sleep }

// SetNowFunc overrides the clock, for tests.
func (d *Dispatcher) SetNowFunc(now func() time.Time) { d.nowFunc = now }

// Dispatch triggers the workflow with the correlation token embedded in its
// inputs. The underlying client retries 429/5xx up to twice; when the
// budget is exhausted the failure surfaces here and is terminal for the
// invocation; there is no auto-retry above this call.
func (d *Dispatcher) Dispatch(ctx context.Context, workflowFile, ref string, inputs map[string]string, token string) error {
	merged := make(map[string]string, len(inputs)+1)
	for k, v := range inputs {
		merged[k] = v
	}
	merged["correlation_id"] = token

	d.dispatches.Add(ctx, 1)
	if err := d.api.DispatchWorkflow(ctx, workflowFile, ref, merged); err != nil {
		return fmt.Errorf("dispatch: trigger %s: %w", workflowFile, err)
	}
	d.logger.InfoContext(ctx, "dispatch: workflow triggered",
		"workflow", workflowFile, "ref", ref, "correlation_token", token)
	return nil
}

// FindRun performs one discovery attempt using the single ordered strategy:
// first the run whose name embeds the token exactly, then, only if no
// embedding match exists, the newest run of the workflow started within
// maxAge as a best-effort fallback, else nil.
//
// The fallback can misattribute a concurrently triggered run from another
// invocation around the same time; that imprecision is accepted in exchange
// for availability when the external system has not yet propagated the run
// name.
func (d *Dispatcher) FindRun(ctx context.Context, workflowFile, token string) (*model.WorkflowRun, error) {
	runs, err := d.api.ListRuns(ctx, workflowFile, listLimit)
	if err != nil {
		return nil, fmt.Errorf("dispatch: list runs for %s: %w", workflowFile, err)
	}

	for i := range runs {
		if strings.Contains(runs[i].RunName, token) {
			return &runs[i], nil
		}
	}

	cutoff := d.nowFunc().Add(-d.cfg.DiscoveryMaxAge)
	var newest *model.WorkflowRun
	for i := range runs {
		if runs[i].StartedAt.Before(cutoff) {
			continue
		}
		if newest == nil || runs[i].StartedAt.After(newest.StartedAt) {
			newest = &runs[i]
		}
	}
	return newest, nil
}

// DiscoverRun repeats FindRun at the poll interval until a run surfaces or
// the discovery deadline passes. Returns nil (no error) on deadline.
func (d *Dispatcher) DiscoverRun(ctx context.Context, workflowFile, token string) (*model.WorkflowRun, error) {
	start := d.nowFunc()
	for {
		run, err := d.FindRun(ctx, workflowFile, token)
		if err != nil {
			// Discovery tolerates transient API failures; the deadline is
			// the only thing that ends the loop early.
			d.logger.WarnContext(ctx, "dispatch: discovery attempt failed", "error", err)
		}
		if run != nil {
			return run, nil
		}
		if d.nowFunc().Sub(start) >= d.cfg.DiscoveryDeadline {
			return nil, nil
		}
		if err := d.sleep(ctx, d.cfg.PollInterval); err != nil {
			return nil, err
		}
	}
}

// PollResult is the outcome of polling one run to (or past) its deadline.
type PollResult struct {
	Completed  bool
	Conclusion model.RunConclusion
	TimedOut   bool
	Run        model.WorkflowRun
}

// PollUntilTerminal re-fetches the run at the poll interval until it
// reaches a terminal status or the poll timeout elapses. A rate-limited
// response consumes one of the allowed retries and doubles the interval
// instead of aborting. Polling reads only; it never cancels the run.
func (d *Dispatcher) PollUntilTerminal(ctx context.Context, run model.WorkflowRun) (PollResult, error) {
	if run.Status.Terminal() {
		return PollResult{Completed: true, Conclusion: run.Conclusion, Run: run}, nil
	}

	start := d.nowFunc()
	interval := d.cfg.PollInterval
	retriesLeft := pollRetryBudget
	current := run

	for {
		if d.nowFunc().Sub(start) >= d.cfg.PollTimeout {
			d.logger.InfoContext(ctx, "dispatch: poll deadline reached, run left running",
				"run_id", current.ID, "status", string(current.Status))
			return PollResult{TimedOut: true, Run: current}, nil
		}
		if err := d.sleep(ctx, interval); err != nil {
			return PollResult{TimedOut: true, Run: current}, err
		}

		d.pollAttempts.Add(ctx, 1)
		updated, err := d.api.GetRun(ctx, current.ID)
		if err != nil {
			if retriesLeft > 0 && github.Retriable(err) {
				retriesLeft--
				if github.IsRateLimited(err) {
					interval *= 2
				}
				d.logger.WarnContext(ctx, "dispatch: poll retrying",
					"run_id", current.ID, "retries_left", retriesLeft, "interval", interval.String(), "error", err)
				continue
			}
			return PollResult{Run: current}, fmt.Errorf("dispatch: poll run %d: %w", current.ID, err)
		}
		// GetRun has no workflow context; keep the name we discovered with.
		updated.WorkflowName = current.WorkflowName
		if updated.RunName == "" {
			updated.RunName = current.RunName
		}
		if updated.URL == "" {
			updated.URL = current.URL
		}
		current = updated

		if current.Status.Terminal() {
			return PollResult{Completed: true, Conclusion: current.Conclusion, Run: current}, nil
		}
	}
}
