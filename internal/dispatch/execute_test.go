package dispatch_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gcolon75/valine-orchestrator/internal/dispatch"
	"github.com/gcolon75/valine-orchestrator/internal/github"
	"github.com/gcolon75/valine-orchestrator/internal/model"
)

type recordedStep struct {
	name   string
	status model.StepStatus
	detail string
}

type fakeRecorder struct {
	mu    sync.Mutex
	steps []recordedStep
}

func (r *fakeRecorder) AddStep(_, name string, status model.StepStatus, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, recordedStep{name, status, detail})
}

func (r *fakeRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.steps))
	for i, s := range r.steps {
		out[i] = s.name
	}
	return out
}

func testConfig() dispatch.Config {
	return dispatch.Config{
		DiscoveryDeadline: 60 * time.Second,
		DiscoveryMaxAge:   5 * time.Minute,
		PollTimeout:       180 * time.Second,
		PollInterval:      3 * time.Second,
	}
}

func TestExecuteHappyPath(t *testing.T) {
	clock := newFakeClock()
	token := "trigger-1722513600000-xyz"
	found := inProgress(42, clock.Now())
	found.RunName = "deploy [" + token + "]"
	api := &fakeAPI{
		runs: []model.WorkflowRun{found},
		getSequence: []getResponse{
			{run: inProgress(42, clock.Now())},
			{run: inProgress(42, clock.Now())},
			{run: completed(42, model.ConclusionSuccess)},
		},
	}
	d := newDispatcher(t, api, clock, testConfig())
	rec := &fakeRecorder{}

	var discovered *model.WorkflowRun
	out := d.Execute(context.Background(), rec, dispatch.Request{
		Command:      "trigger",
		WorkflowFile: "deploy.yml",
		Ref:          "main",
		Token:        token,
		Wait:         true,
		TraceID:      "trace-1",
		OnRunDiscovered: func(r model.WorkflowRun) {
			discovered = &r
		},
	})

	assert.Equal(t, dispatch.StateSucceeded, out.State)
	assert.Equal(t, model.ConclusionSuccess, out.Conclusion)
	require.NotNil(t, out.Run)
	assert.Contains(t, out.Run.URL, "/actions/runs/42")
	require.NotNil(t, discovered)
	assert.Equal(t, int64(42), discovered.ID)
	assert.Equal(t,
		[]string{"dispatched", "discovering", "running", "succeeded"},
		rec.names())
}

func TestExecuteNoWaitStopsAtDispatched(t *testing.T) {
	clock := newFakeClock()
	api := &fakeAPI{}
	d := newDispatcher(t, api, clock, testConfig())
	rec := &fakeRecorder{}

	out := d.Execute(context.Background(), rec, dispatch.Request{
		Command:      "trigger",
		WorkflowFile: "deploy.yml",
		Ref:          "main",
		Token:        "tok",
		Wait:         false,
		TraceID:      "trace-1",
	})

	assert.Equal(t, dispatch.StateDispatched, out.State)
	assert.Nil(t, out.Run)
	assert.Equal(t, []string{"dispatched"}, rec.names())
	assert.Equal(t, 0, api.gets(), "no-wait mode never polls")
}

func TestExecuteDispatchFailureIsTerminal(t *testing.T) {
	clock := newFakeClock()
	api := &fakeAPI{dispatchErr: &github.APIError{StatusCode: http.StatusBadGateway}}
	d := newDispatcher(t, api, clock, testConfig())
	rec := &fakeRecorder{}

	out := d.Execute(context.Background(), rec, dispatch.Request{
		Command:      "trigger",
		WorkflowFile: "deploy.yml",
		Ref:          "main",
		Token:        "tok",
		Wait:         true,
		TraceID:      "trace-1",
	})

	assert.Equal(t, dispatch.StateDispatchFailed, out.State)
	require.Error(t, out.Err)
	assert.Equal(t, []string{"dispatch_failed"}, rec.names())
	assert.Equal(t, 1, api.dispatchCalls, "no auto-retry above the client's budget")
}

func TestExecuteDiscoveryTimeout(t *testing.T) {
	clock := newFakeClock()
	api := &fakeAPI{runs: nil} // nothing ever shows up
	d := newDispatcher(t, api, clock, testConfig())
	rec := &fakeRecorder{}

	out := d.Execute(context.Background(), rec, dispatch.Request{
		Command:      "trigger",
		WorkflowFile: "deploy.yml",
		Ref:          "main",
		Token:        "tok",
		Wait:         true,
		TraceID:      "trace-1",
	})

	assert.Equal(t, dispatch.StateTimedOut, out.State)
	assert.Nil(t, out.Run)
	assert.Equal(t, []string{"dispatched", "discovering", "timed_out"}, rec.names())
}

func TestExecutePollTimeoutKeepsRunLink(t *testing.T) {
	clock := newFakeClock()
	stuck := inProgress(42, clock.Now())
	api := &fakeAPI{
		runs:        []model.WorkflowRun{stuck},
		getSequence: []getResponse{{run: stuck}},
	}
	cfg := testConfig()
	cfg.PollTimeout = 6 * time.Second
	cfg.PollInterval = 2 * time.Second
	d := newDispatcher(t, api, clock, cfg)
	rec := &fakeRecorder{}

	out := d.Execute(context.Background(), rec, dispatch.Request{
		Command:      "trigger",
		WorkflowFile: "deploy.yml",
		Ref:          "main",
		Token:        "tok",
		Wait:         true,
		TraceID:      "trace-1",
	})

	assert.Equal(t, dispatch.StateTimedOut, out.State)
	require.NotNil(t, out.Run, "timeout still hands back the run for manual follow-up")
	assert.Contains(t, out.Run.URL, "/actions/runs/42")
	assert.Equal(t, 1, api.dispatchCalls, "timeout never triggers a second attempt")
}

func TestNewCorrelationTokenUnique(t *testing.T) {
	seen := make(map[string]struct{}, 100_000)
	for i := 0; i < 100_000; i++ {
		tok := dispatch.NewCorrelationToken("trigger")
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate correlation token after %d generations: %s", i, tok)
		}
		seen[tok] = struct{}{}
	}
}

func TestNewCorrelationTokenFormat(t *testing.T) {
	tok := dispatch.NewCorrelationToken("Deploy Frontend!")
	assert.Regexp(t, `^deploy-frontend--\d+-[0-9a-f-]{36}$`, tok)
}

func TestLifecycleTransitions(t *testing.T) {
	legal := [][2]dispatch.State{
		{dispatch.StateReceived, dispatch.StateAcknowledged},
		{dispatch.StateAcknowledged, dispatch.StateDispatched},
		{dispatch.StateAcknowledged, dispatch.StateDispatchFailed},
		{dispatch.StateDispatched, dispatch.StateDiscovering},
		{dispatch.StateDiscovering, dispatch.StateRunning},
		{dispatch.StateDiscovering, dispatch.StateTimedOut},
		{dispatch.StateRunning, dispatch.StateSucceeded},
		{dispatch.StateRunning, dispatch.StateFailed},
		{dispatch.StateRunning, dispatch.StateTimedOut},
	}
	for _, tc := range legal {
		assert.True(t, dispatch.CanTransition(tc[0], tc[1]), "%s -> %s should be legal", tc[0], tc[1])
	}

	illegal := [][2]dispatch.State{
		{dispatch.StateReceived, dispatch.StateRunning},
		{dispatch.StateSucceeded, dispatch.StateRunning},
		{dispatch.StateTimedOut, dispatch.StateDispatched},
		{dispatch.StateRunning, dispatch.StateDispatched},
	}
	for _, tc := range illegal {
		assert.False(t, dispatch.CanTransition(tc[0], tc[1]), "%s -> %s should be illegal", tc[0], tc[1])
	}

	for _, s := range []dispatch.State{dispatch.StateSucceeded, dispatch.StateFailed, dispatch.StateDispatchFailed, dispatch.StateTimedOut} {
		assert.True(t, s.Terminal())
	}
	assert.False(t, dispatch.StateRunning.Terminal())
}
