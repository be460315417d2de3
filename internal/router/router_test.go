package router_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gcolon75/valine-orchestrator/internal/alert"
	"github.com/gcolon75/valine-orchestrator/internal/dispatch"
	"github.com/gcolon75/valine-orchestrator/internal/model"
	"github.com/gcolon75/valine-orchestrator/internal/registry"
	"github.com/gcolon75/valine-orchestrator/internal/router"
	"github.com/gcolon75/valine-orchestrator/internal/status"
	"github.com/gcolon75/valine-orchestrator/internal/tracestore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}

// fakeControlPlane scripts dispatch, discovery and polling. Dispatch
// captures the embedded correlation token and surfaces a run whose name
// embeds it, the way a real workflow run would.
type fakeControlPlane struct {
	clock *fakeClock

	mu            sync.Mutex
	dispatchErr   error
	dispatchCalls int
	runs          []model.WorkflowRun
	getSequence   []model.WorkflowRun
	getCalls      int
}

func (f *fakeControlPlane) DispatchWorkflow(_ context.Context, _ string, _ string, inputs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatchCalls++
	if f.dispatchErr != nil {
		return f.dispatchErr
	}
	run := model.WorkflowRun{
		ID:           42,
		WorkflowName: "deploy.yml",
		RunName:      fmt.Sprintf("Deploy [%s]", inputs["correlation_id"]),
		URL:          "https://github.com/gcolon75/project-valine/actions/runs/42",
		Status:       model.RunStatusInProgress,
		StartedAt:    f.clock.Now(),
	}
	f.runs = append([]model.WorkflowRun{run}, f.runs...)
	return nil
}

func (f *fakeControlPlane) ListRuns(context.Context, string, int) ([]model.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs, nil
}

func (f *fakeControlPlane) GetRun(context.Context, int64) (model.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getCalls >= len(f.getSequence) {
		return f.getSequence[len(f.getSequence)-1], nil
	}
	resp := f.getSequence[f.getCalls]
	f.getCalls++
	return resp, nil
}

func (f *fakeControlPlane) dispatches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dispatchCalls
}

type fakePoster struct {
	mu       sync.Mutex
	messages []string
}

func (p *fakePoster) FollowUp(_ context.Context, _ string, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, content)
	return nil
}

func (p *fakePoster) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.messages))
	copy(out, p.messages)
	return out
}

type fakeNotifier struct {
	mu    sync.Mutex
	posts []string
}

func (n *fakeNotifier) PostMessage(_ context.Context, _ string, content string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.posts = append(n.posts, content)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.posts)
}

type fixture struct {
	router   *router.Router
	poster   *fakePoster
	notifier *fakeNotifier
	traces   *tracestore.Store
	agg      *status.Aggregator
}

func newFixture(t *testing.T, api *fakeControlPlane, clock *fakeClock, cfg dispatch.Config) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	d := dispatch.New(api, cfg, logger)
	d.SetNowFunc(clock.Now)
	d.SetSleepFunc(clock.Sleep)

	traces := tracestore.New(100, 1000, logger)
	notifier := &fakeNotifier{}
	alerts := alert.New(notifier, "chan-1", 5*time.Minute, true, logger)
	t.Cleanup(func() { alerts.Close() })

	agg := status.New(api, []string{"deploy.yml"}, logger)
	agg.SetNowFunc(clock.Now)

	deps := router.Deps{
		Dispatcher:       d,
		Traces:           traces,
		Agents:           registry.Default(),
		Status:           agg,
		Alerts:           alerts,
		Workflows:        map[string]string{"deploy": "deploy.yml"},
		DefaultRef:       "main",
		EnableDebugQuery: true,
		Logger:           logger,
	}
	poster := &fakePoster{}
	r, err := router.New(poster, logger, router.DefaultHandlers(deps)...)
	require.NoError(t, err)

	return &fixture{router: r, poster: poster, notifier: notifier, traces: traces, agg: agg}
}

func invocation(command string, options map[string]string) model.CommandInvocation {
	return model.CommandInvocation{
		Command:    command,
		Options:    options,
		InvokerID:  "user-1",
		ChannelID:  "chan-1",
		AckToken:   "ack-token",
		ReceivedAt: time.Now().UTC(),
	}
}

func TestNewRejectsDuplicateCommands(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := func(context.Context, model.CommandInvocation) (string, error) { return "", nil }

	_, err := router.New(&fakePoster{}, logger,
		router.Handler{Command: "ping", Immediate: h},
		router.Handler{Command: "ping", Immediate: h},
	)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestNewRejectsAmbiguousHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := router.New(&fakePoster{}, logger, router.Handler{Command: "ping"})

	require.Error(t, err)
}

func TestHandleUnknownCommand(t *testing.T) {
	fx := newFixture(t, &fakeControlPlane{clock: newFakeClock()}, newFakeClock(), dispatch.Config{})

	_, err := fx.router.Handle(context.Background(), invocation("nope", nil))

	var verr *router.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, fx.poster.all(), "validation failures have no side effects")
}

func TestHandleMissingRequiredOption(t *testing.T) {
	fx := newFixture(t, &fakeControlPlane{clock: newFakeClock()}, newFakeClock(), dispatch.Config{})

	_, err := fx.router.Handle(context.Background(), invocation("trigger", nil))

	var verr *router.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Msg, "workflow")
}

func TestHandleRejectsUnknownOption(t *testing.T) {
	fx := newFixture(t, &fakeControlPlane{clock: newFakeClock()}, newFakeClock(), dispatch.Config{})

	_, err := fx.router.Handle(context.Background(), invocation("trigger", map[string]string{
		"workflow": "deploy",
		"bogus":    "x",
	}))

	var verr *router.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Msg, "bogus")
}

func TestHandleRejectsEnumViolation(t *testing.T) {
	fx := newFixture(t, &fakeControlPlane{clock: newFakeClock()}, newFakeClock(), dispatch.Config{})

	_, err := fx.router.Handle(context.Background(), invocation("status", map[string]string{
		"window": "hourly",
	}))

	var verr *router.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestHandlePanicIsRecovered(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := router.New(&fakePoster{}, logger, router.Handler{
		Command: "boom",
		Immediate: func(context.Context, model.CommandInvocation) (string, error) {
			panic("kaboom")
		},
	})
	require.NoError(t, err)

	_, err = r.Handle(context.Background(), invocation("boom", nil))

	require.Error(t, err)
	msg := router.UserMessage(err)
	assert.NotContains(t, msg, "kaboom", "panic detail never reaches the user")
	assert.Contains(t, msg, "Something went wrong")
}

func TestDeferredPanicStillPostsFollowUp(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	poster := &fakePoster{}
	r, err := router.New(poster, logger, router.Handler{
		Command: "boom",
		Deferred: func(context.Context, model.CommandInvocation, func(string)) (string, error) {
			panic("kaboom")
		},
	})
	require.NoError(t, err)

	res, err := r.Handle(context.Background(), invocation("boom", nil))
	require.NoError(t, err)
	require.True(t, res.Deferred)
	r.Wait()

	msgs := poster.all()
	require.Len(t, msgs, 1, "a deferred invocation never ends silently")
	assert.NotContains(t, msgs[0], "kaboom")
}

func TestAgentsCommand(t *testing.T) {
	fx := newFixture(t, &fakeControlPlane{clock: newFakeClock()}, newFakeClock(), dispatch.Config{})

	res, err := fx.router.Handle(context.Background(), invocation("agents", nil))

	require.NoError(t, err)
	assert.False(t, res.Deferred)
	assert.Contains(t, res.Content, "Orchestrator")
	assert.Contains(t, res.Content, "/status")
}

func TestTriggerHappyPath(t *testing.T) {
	clock := newFakeClock()
	api := &fakeControlPlane{clock: clock}
	api.getSequence = []model.WorkflowRun{
		{ID: 42, Status: model.RunStatusInProgress},
		{ID: 42, Status: model.RunStatusCompleted, Conclusion: model.ConclusionSuccess},
	}
	fx := newFixture(t, api, clock, dispatch.Config{
		DiscoveryDeadline: 30 * time.Second,
		DiscoveryMaxAge:   5 * time.Minute,
		PollTimeout:       180 * time.Second,
		PollInterval:      3 * time.Second,
	})

	res, err := fx.router.Handle(context.Background(), invocation("trigger", map[string]string{
		"workflow": "deploy",
	}))
	require.NoError(t, err)
	require.True(t, res.Deferred)
	fx.router.Wait()

	msgs := fx.poster.all()
	require.Len(t, msgs, 2, "one progress update plus one terminal message")
	assert.Contains(t, msgs[0], "running")
	assert.Contains(t, msgs[0], "actions/runs/42")
	assert.Contains(t, msgs[1], "✅")
	assert.Contains(t, msgs[1], "completed successfully")
	assert.Contains(t, msgs[1], "actions/runs/42")

	tr, ok := fx.traces.LatestTraceForUser("user-1")
	require.True(t, ok)
	names := make([]string, len(tr.Steps))
	for i, s := range tr.Steps {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"dispatched", "discovering", "running", "succeeded"}, names)
	assert.Equal(t, model.TraceOutcomeSuccess, tr.Outcome)
	assert.Equal(t, 0, fx.notifier.count(), "success raises no alert")
}

func TestTriggerTimeoutPath(t *testing.T) {
	clock := newFakeClock()
	api := &fakeControlPlane{clock: clock}
	api.getSequence = []model.WorkflowRun{
		{ID: 42, Status: model.RunStatusInProgress},
	}
	fx := newFixture(t, api, clock, dispatch.Config{
		DiscoveryDeadline: 30 * time.Second,
		DiscoveryMaxAge:   5 * time.Minute,
		PollTimeout:       6 * time.Second,
		PollInterval:      2 * time.Second,
	})

	res, err := fx.router.Handle(context.Background(), invocation("trigger", map[string]string{
		"workflow": "deploy",
	}))
	require.NoError(t, err)
	require.True(t, res.Deferred)
	fx.router.Wait()

	msgs := fx.poster.all()
	require.Len(t, msgs, 2)
	terminal := msgs[1]
	assert.Contains(t, terminal, "Timed out")
	assert.Contains(t, terminal, "actions/runs/42", "timeout message still links the run")
	assert.Equal(t, 1, api.dispatches(), "no automatic second attempt after a timeout")

	tr, ok := fx.traces.LatestTraceForUser("user-1")
	require.True(t, ok)
	assert.Equal(t, model.TraceOutcomeTimeout, tr.Outcome)
	assert.Equal(t, 1, fx.notifier.count(), "timeout raises one alert")
}

func TestTriggerNoWaitStopsAtDispatch(t *testing.T) {
	clock := newFakeClock()
	api := &fakeControlPlane{clock: clock}
	fx := newFixture(t, api, clock, dispatch.Config{
		DiscoveryDeadline: 30 * time.Second,
		PollTimeout:       180 * time.Second,
		PollInterval:      3 * time.Second,
	})

	_, err := fx.router.Handle(context.Background(), invocation("trigger", map[string]string{
		"workflow": "deploy",
		"wait":     "false",
	}))
	require.NoError(t, err)
	fx.router.Wait()

	msgs := fx.poster.all()
	require.Len(t, msgs, 1, "no-wait mode posts only the tracking acknowledgment")
	assert.Contains(t, msgs[0], "dispatched")
	assert.Contains(t, msgs[0], "Tracking token")
}

func TestStatusDigestCommand(t *testing.T) {
	clock := newFakeClock()
	now := clock.Now()
	completedRun := func(id int64, conclusion model.RunConclusion, started time.Time, dur time.Duration) model.WorkflowRun {
		return model.WorkflowRun{
			ID:           id,
			WorkflowName: "deploy.yml",
			Status:       model.RunStatusCompleted,
			Conclusion:   conclusion,
			StartedAt:    started,
			UpdatedAt:    started.Add(dur),
		}
	}
	api := &fakeControlPlane{clock: clock, runs: []model.WorkflowRun{
		completedRun(1, model.ConclusionSuccess, now.Add(-1*time.Hour), 2*time.Minute),
		completedRun(2, model.ConclusionSuccess, now.Add(-2*time.Hour), 3*time.Minute),
		completedRun(3, model.ConclusionSuccess, now.Add(-3*time.Hour), 4*time.Minute),
		completedRun(4, model.ConclusionFailure, now.Add(-4*time.Hour), 3*time.Minute),
		completedRun(5, model.ConclusionFailure, now.Add(-5*time.Hour), 3*time.Minute),
	}}
	fx := newFixture(t, api, clock, dispatch.Config{})

	res, err := fx.router.Handle(context.Background(), invocation("status", map[string]string{
		"window": "daily",
	}))
	require.NoError(t, err)
	require.True(t, res.Deferred)
	fx.router.Wait()

	msgs := fx.poster.all()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "5 runs")
	assert.Contains(t, msgs[0], "3 ✅ / 2 ❌")
	assert.Contains(t, msgs[0], "avg 3m0s")
	assert.Contains(t, msgs[0], "1h ago")
}

func TestDebugLastCommand(t *testing.T) {
	fx := newFixture(t, &fakeControlPlane{clock: newFakeClock()}, newFakeClock(), dispatch.Config{})
	traceID := fx.traces.StartTrace("user-1", "trigger")
	fx.traces.AddStep(traceID, "dispatched", model.StepStatusOK, "token=ghp_secret12345678")
	fx.traces.CompleteTrace(traceID, model.TraceOutcomeSuccess, "")

	res, err := fx.router.Handle(context.Background(), invocation("debug-last", nil))

	require.NoError(t, err)
	assert.Contains(t, res.Content, "dispatched")
	assert.Contains(t, res.Content, "success")
	assert.NotContains(t, res.Content, "ghp_secret12345678", "trace detail is redacted before storage")
}

func TestDebugLastNoTrace(t *testing.T) {
	fx := newFixture(t, &fakeControlPlane{clock: newFakeClock()}, newFakeClock(), dispatch.Config{})

	res, err := fx.router.Handle(context.Background(), invocation("debug-last", nil))

	require.NoError(t, err)
	assert.Contains(t, res.Content, "No recent execution trace")
}

func TestUserMessageValidation(t *testing.T) {
	msg := router.UserMessage(&router.ValidationError{Msg: `unknown command "x"`})
	assert.Contains(t, msg, "unknown command")
}
