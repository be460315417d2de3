package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/gcolon75/valine-orchestrator/internal/alert"
	"github.com/gcolon75/valine-orchestrator/internal/dispatch"
	"github.com/gcolon75/valine-orchestrator/internal/logging"
	"github.com/gcolon75/valine-orchestrator/internal/model"
	"github.com/gcolon75/valine-orchestrator/internal/registry"
	"github.com/gcolon75/valine-orchestrator/internal/status"
	"github.com/gcolon75/valine-orchestrator/internal/tracestore"
)

// Deps carries the services the built-in command handlers operate on.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Traces     *tracestore.Store
	Agents     *registry.Registry
	Status     *status.Aggregator
	Alerts     *alert.Manager

	// Workflows maps the user-facing workflow option value to the workflow
	// file dispatched for it.
	Workflows  map[string]string
	DefaultRef string

	EnableDebugQuery bool
	Logger           *slog.Logger
}

// DefaultHandlers returns the bot's built-in command set: trigger, status,
// agents and debug-last.
func DefaultHandlers(d Deps) []Handler {
	return []Handler{
		{
			Command: "trigger",
			Options: []OptionSpec{
				{Name: "workflow", Required: true, Enum: workflowNames(d.Workflows)},
				{Name: "ref"},
				{Name: "wait", Enum: []string{"true", "false"}},
			},
			Deferred: d.handleTrigger,
		},
		{
			Command: "status",
			Options: []OptionSpec{
				{Name: "window", Enum: []string{string(status.WindowDaily), string(status.WindowWeekly)}},
			},
			Deferred: d.handleStatus,
		},
		{
			Command:   "agents",
			Immediate: d.handleAgents,
		},
		{
			Command:   "debug-last",
			Immediate: d.handleDebugLast,
		},
	}
}

func workflowNames(workflows map[string]string) []string {
	names := make([]string, 0, len(workflows))
	for name := range workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// handleTrigger drives one workflow invocation end to end: trace open,
// dispatch, discovery, polling, trace close, alerting. The dispatcher owns
// the lifecycle machine; this handler owns rendering and notification.
func (d Deps) handleTrigger(ctx context.Context, inv model.CommandInvocation, progress func(string)) (string, error) {
	workflow, _ := inv.Option("workflow")
	workflowFile := d.Workflows[workflow]
	ref := inv.OptionOr("ref", d.DefaultRef)
	wait := inv.OptionOr("wait", "true") == "true"

	token := dispatch.NewCorrelationToken(inv.Command + "-" + workflow)
	traceID := d.Traces.StartTrace(inv.InvokerID, inv.Command)
	ctx = logging.WithInvocation(ctx, logging.Invocation{
		TraceID:          traceID,
		CorrelationToken: token,
		UserID:           inv.InvokerID,
	})

	outcome := d.Dispatcher.Execute(ctx, d.Traces, dispatch.Request{
		Command:      inv.Command,
		WorkflowFile: workflowFile,
		Ref:          ref,
		Inputs:       map[string]string{"requested_by": inv.InvokerID},
		Token:        token,
		Wait:         wait,
		TraceID:      traceID,
		OnRunDiscovered: func(run model.WorkflowRun) {
			progress(fmt.Sprintf("🏃 **%s** is running.\n%s", workflow, run.URL))
		},
	})

	d.closeTrace(traceID, outcome)
	d.notify(ctx, workflow, token, outcome)
	return renderOutcome(workflow, outcome), nil
}

func (d Deps) closeTrace(traceID string, outcome dispatch.Outcome) {
	errDetail := ""
	if outcome.Err != nil {
		errDetail = outcome.Err.Error()
	}
	switch outcome.State {
	case dispatch.StateSucceeded, dispatch.StateDispatched:
		d.Traces.CompleteTrace(traceID, model.TraceOutcomeSuccess, "")
	case dispatch.StateTimedOut:
		d.Traces.CompleteTrace(traceID, model.TraceOutcomeTimeout, errDetail)
	default:
		d.Traces.CompleteTrace(traceID, model.TraceOutcomeFailure, errDetail)
	}
}

func (d Deps) notify(ctx context.Context, workflow, token string, outcome dispatch.Outcome) {
	var links []string
	if outcome.Run != nil && outcome.Run.URL != "" {
		links = append(links, outcome.Run.URL)
	}
	switch outcome.State {
	case dispatch.StateDispatchFailed:
		d.Alerts.Send(ctx, model.SeverityCritical,
			fmt.Sprintf("workflow %s could not be triggered", workflow), token, links)
	case dispatch.StateFailed:
		d.Alerts.Send(ctx, model.SeverityCritical,
			fmt.Sprintf("workflow %s concluded %s", workflow, outcome.Conclusion), token, links)
	case dispatch.StateTimedOut:
		d.Alerts.Send(ctx, model.SeverityWarning,
			fmt.Sprintf("workflow %s did not finish before the deadline", workflow), token, links)
	}
}

func (d Deps) handleStatus(ctx context.Context, inv model.CommandInvocation, _ func(string)) (string, error) {
	window := status.Window(inv.OptionOr("window", string(status.WindowDaily)))
	digest, err := d.Status.Digest(ctx, window)
	if err != nil {
		d.Logger.ErrorContext(ctx, "router: digest failed", "window", string(window), "error", err)
		return "", err
	}
	return renderDigest(window, digest), nil
}

func (d Deps) handleAgents(_ context.Context, _ model.CommandInvocation) (string, error) {
	agents := d.Agents.Agents()
	var b strings.Builder
	b.WriteString("**Available agents**\n")
	for _, a := range agents {
		fmt.Fprintf(&b, "• **%s** (`%s`): %s\n", a.DisplayName, a.EntryCommand, a.Description)
	}
	return b.String(), nil
}

func (d Deps) handleDebugLast(_ context.Context, inv model.CommandInvocation) (string, error) {
	if !d.EnableDebugQuery {
		return "", &ValidationError{Msg: "debug queries are disabled"}
	}
	tr, ok := d.Traces.LatestTraceForUser(inv.InvokerID)
	if !ok {
		return "🔍 No recent execution trace found for you.", nil
	}
	return renderTrace(tr), nil
}
