package router

import (
	"fmt"
	"strings"
	"time"

	"github.com/gcolon75/valine-orchestrator/internal/dispatch"
	"github.com/gcolon75/valine-orchestrator/internal/model"
	"github.com/gcolon75/valine-orchestrator/internal/status"
)

// renderOutcome turns a terminal dispatch outcome into the user's final
// message. Exactly one of these is posted per deferred trigger invocation.
func renderOutcome(workflow string, o dispatch.Outcome) string {
	switch o.State {
	case dispatch.StateDispatched:
		return fmt.Sprintf("🚀 **%s** dispatched. Tracking token: `%s`", workflow, o.Token)
	case dispatch.StateDispatchFailed:
		return fmt.Sprintf("❌ Could not trigger **%s**. No retry will be made; see the bot logs for details.", workflow)
	case dispatch.StateSucceeded:
		return withRunLink(fmt.Sprintf("✅ **%s** completed successfully.", workflow), o.Run)
	case dispatch.StateFailed:
		if o.Conclusion != "" {
			return withRunLink(fmt.Sprintf("❌ **%s** concluded **%s**.", workflow, o.Conclusion), o.Run)
		}
		return withRunLink(fmt.Sprintf("❌ **%s** failed.", workflow), o.Run)
	case dispatch.StateTimedOut:
		if o.Run != nil {
			return withRunLink(fmt.Sprintf("⏱️ Timed out waiting for **%s**. The run is still going; follow it here:", workflow), o.Run)
		}
		return fmt.Sprintf("⏱️ **%s** was dispatched but no run could be located before the deadline. Please check the workflow list manually. Tracking token: `%s`", workflow, o.Token)
	default:
		return fmt.Sprintf("⚠️ **%s** ended in an unexpected state (%s).", workflow, o.State)
	}
}

func withRunLink(msg string, run *model.WorkflowRun) string {
	if run == nil || run.URL == "" {
		return msg
	}
	return msg + "\n" + run.URL
}

// renderDigest formats a status digest for chat.
func renderDigest(window status.Window, d model.StatusDigest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 **Workflow status** (%s, %s → %s UTC)\n",
		window,
		d.PeriodStart.UTC().Format("Jan 2 15:04"),
		d.PeriodEnd.UTC().Format("Jan 2 15:04"),
	)
	for _, wf := range d.Workflows {
		if wf.TotalRuns == 0 {
			fmt.Fprintf(&b, "• **%s**: no runs in window\n", wf.WorkflowName)
			continue
		}
		avg := "n/a"
		if wf.HasAvg {
			avg = (time.Duration(wf.AvgDurationMs) * time.Millisecond).String()
		}
		fmt.Fprintf(&b, "• **%s**: %d runs, %d ✅ / %d ❌, avg %s",
			wf.WorkflowName, wf.TotalRuns, wf.SuccessCount, wf.FailureCount, avg)
		if wf.LatestRun != nil {
			fmt.Fprintf(&b, ", latest %s", wf.LatestRunAgo)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// renderTrace formats the caller's latest execution trace. Step detail is
// already redacted by the trace store.
func renderTrace(tr *model.ExecutionTrace) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 **Last execution** `/%s` started %s UTC\n",
		tr.Command, tr.StartedAt.UTC().Format("2006-01-02 15:04:05"))
	for _, s := range tr.Steps {
		mark := "✅"
		switch s.Status {
		case model.StepStatusFailed:
			mark = "❌"
		case model.StepStatusSkipped:
			mark = "⏭️"
		}
		fmt.Fprintf(&b, "%s %s (%dms)", mark, s.Name, s.DurationMs)
		if s.Detail != "" {
			fmt.Fprintf(&b, ": %s", s.Detail)
		}
		b.WriteString("\n")
	}
	if tr.Outcome != "" {
		fmt.Fprintf(&b, "Outcome: **%s**", tr.Outcome)
		if tr.Error != "" {
			fmt.Fprintf(&b, " (%s)", tr.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}
