package dispatch

import (
	"context"
	"fmt"

	"github.com/gcolon75/valine-orchestrator/internal/model"
)

// StepRecorder receives the timeline of one execution. *tracestore.Store
// satisfies it.
type StepRecorder interface {
	AddStep(traceID, name string, status model.StepStatus, detail string)
}

// Request describes one deferred workflow invocation to drive to a
// terminal state.
type Request struct {
	Command      string
	WorkflowFile string
	Ref          string
	Inputs       map[string]string
	Token        string
	Wait         bool
	TraceID      string

	// OnRunDiscovered fires once when discovery locates the concrete run,
	// before polling starts. Optional.
	OnRunDiscovered func(run model.WorkflowRun)
}

// Outcome is the terminal result of one invocation. Err carries the
// underlying failure for logging; rendering user-visible text from an
// Outcome is the command router's job, never this package's.
type Outcome struct {
	State      State
	Token      string
	Run        *model.WorkflowRun
	Conclusion model.RunConclusion
	Err        error
}

// Execute drives the lifecycle state machine for one already-acknowledged
// invocation: dispatch, then in wait mode discovery and polling. Every
// state change is recorded as a trace step. Exactly one Outcome is
// returned; it is terminal except in no-wait mode, where the machine stops
// at dispatched.
func (d *Dispatcher) Execute(ctx context.Context, steps StepRecorder, req Request) Outcome {
	e := &execution{d: d, steps: steps, req: req, state: StateAcknowledged}

	if err := d.Dispatch(ctx, req.WorkflowFile, req.Ref, req.Inputs, req.Token); err != nil {
		e.to(ctx, StateDispatchFailed, model.StepStatusFailed, err.Error())
		return Outcome{State: StateDispatchFailed, Token: req.Token, Err: err}
	}
	e.to(ctx, StateDispatched, model.StepStatusOK,
		fmt.Sprintf("workflow %s accepted on %s", req.WorkflowFile, req.Ref))

	if !req.Wait {
		return Outcome{State: StateDispatched, Token: req.Token}
	}

	e.to(ctx, StateDiscovering, model.StepStatusOK, "")
	run, err := d.DiscoverRun(ctx, req.WorkflowFile, req.Token)
	if err != nil {
		e.to(ctx, StateTimedOut, model.StepStatusFailed, err.Error())
		return Outcome{State: StateTimedOut, Token: req.Token, Err: err}
	}
	if run == nil {
		e.to(ctx, StateTimedOut, model.StepStatusFailed, "no run located before the discovery deadline")
		return Outcome{State: StateTimedOut, Token: req.Token}
	}

	e.to(ctx, StateRunning, model.StepStatusOK, fmt.Sprintf("run %d: %s", run.ID, run.URL))
	if req.OnRunDiscovered != nil {
		req.OnRunDiscovered(*run)
	}

	res, err := d.PollUntilTerminal(ctx, *run)
	if err != nil && !res.TimedOut {
		e.to(ctx, StateFailed, model.StepStatusFailed, err.Error())
		return Outcome{State: StateFailed, Token: req.Token, Run: &res.Run, Err: err}
	}
	if res.TimedOut {
		e.to(ctx, StateTimedOut, model.StepStatusFailed,
			fmt.Sprintf("run %d still %s at deadline", res.Run.ID, res.Run.Status))
		return Outcome{State: StateTimedOut, Token: req.Token, Run: &res.Run}
	}

	final := StateSucceeded
	status := model.StepStatusOK
	if res.Conclusion != model.ConclusionSuccess {
		final = StateFailed
		status = model.StepStatusFailed
	}
	e.to(ctx, final, status, fmt.Sprintf("run %d concluded %s", res.Run.ID, res.Conclusion))
	return Outcome{State: final, Token: req.Token, Run: &res.Run, Conclusion: res.Conclusion}
}

type execution struct {
	d     *Dispatcher
	steps StepRecorder
	req   Request
	state State
}

// to moves the machine to next, recording the step. Illegal transitions
// cannot happen from Execute's straight-line flow; the guard is kept hot so
// a future edit that breaks the machine shows up loudly in logs.
func (e *execution) to(ctx context.Context, next State, status model.StepStatus, detail string) {
	if !CanTransition(e.state, next) {
		e.d.logger.ErrorContext(ctx, "dispatch: illegal lifecycle transition",
			"from", string(e.state), "to", string(next))
	}
	e.state = next
	if e.steps != nil {
		e.steps.AddStep(e.req.TraceID, string(next), status, detail)
	}
}
