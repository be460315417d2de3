// Package github is the client for the external CI/CD control plane: it
// triggers workflow_dispatch events, lists recent runs, and fetches single
// runs. It is the only package that talks to the Actions API.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gcolon75/valine-orchestrator/internal/model"
	"github.com/gcolon75/valine-orchestrator/internal/retry"
)

// maxDispatchRetries bounds the transparent retries on 429/5xx responses
// before a dispatch failure surfaces to the caller.
const maxDispatchRetries = 2

// APIError is a non-2xx response from the control plane.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: API returned %d: %s", e.StatusCode, e.Body)
}

// RateLimited reports whether the response was a throttle.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Retriable reports whether the outbound-call discipline may retry this
// response: throttles and server-side failures only.
func Retriable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.RateLimited() || apiErr.StatusCode >= 500
}

// IsRateLimited reports whether err is a 429 from the control plane.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.RateLimited()
}

// Client talks to one repository's Actions API with bearer auth.
type Client struct {
	baseURL     string
	repo        string // "owner/name"
	token       string
	callTimeout time.Duration
	baseDelay   time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
	sleep       retry.SleepFunc
}

// Config holds the client's construction parameters.
type Config struct {
	BaseURL     string
	Repo        string
	Token       string
	CallTimeout time.Duration // hard per-call timeout, ≤10s by config validation
	BaseDelay   time.Duration // backoff base for dispatch retries
	Logger      *slog.Logger
}

// New creates a control-plane client.
func New(cfg Config) *Client {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		repo:        cfg.Repo,
		token:       cfg.Token,
		callTimeout: timeout,
		baseDelay:   baseDelay,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      cfg.Logger,
		sleep:       retry.Sleep,
	}
}

// SetSleepFunc overrides the inter-retry sleep, for tests.
func (c *Client) SetSleepFunc(sleep retry.SleepFunc) {
	c.sleep = sleep
}

// DispatchWorkflow triggers a workflow_dispatch for the given workflow file
// on ref with the given inputs. 429/5xx responses are retried up to twice
// with exponential backoff before the failure surfaces.
func (c *Client) DispatchWorkflow(ctx context.Context, workflowFile, ref string, inputs map[string]string) error {
	payload := map[string]any{"ref": ref}
	if len(inputs) > 0 {
		payload["inputs"] = inputs
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("github: encode dispatch payload: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/actions/workflows/%s/dispatches", c.baseURL, c.repo, workflowFile)

	return retry.Do(ctx, maxDispatchRetries, c.baseDelay, c.sleep, Retriable, func() error {
		err := c.do(ctx, http.MethodPost, url, body, nil)
		if err != nil && Retriable(err) {
			c.logger.Warn("github: dispatch retrying after transient failure",
				"workflow", workflowFile, "error", err)
		}
		return err
	})
}

// runsResponse mirrors the Actions list-runs payload.
type runsResponse struct {
	WorkflowRuns []apiRun `json:"workflow_runs"`
}

type apiRun struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	DisplayTitle string    `json:"display_title"`
	HTMLURL      string    `json:"html_url"`
	Status       string    `json:"status"`
	Conclusion   string    `json:"conclusion"`
	RunStartedAt time.Time `json:"run_started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (r apiRun) toModel(workflowName string) model.WorkflowRun {
	name := r.DisplayTitle
	if name == "" {
		name = r.Name
	}
	return model.WorkflowRun{
		ID:           r.ID,
		WorkflowName: workflowName,
		RunName:      name,
		URL:          r.HTMLURL,
		Status:       model.RunStatus(r.Status),
		Conclusion:   model.RunConclusion(r.Conclusion),
		StartedAt:    r.RunStartedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// ListRuns returns up to limit recent runs of the workflow file, newest
// first (the API's order). No transparent retry: discovery loops own their
// retry budget.
func (c *Client) ListRuns(ctx context.Context, workflowFile string, limit int) ([]model.WorkflowRun, error) {
	if limit <= 0 {
		limit = 20
	}
	url := fmt.Sprintf("%s/repos/%s/actions/workflows/%s/runs?per_page=%d", c.baseURL, c.repo, workflowFile, limit)

	var resp runsResponse
	if err := c.do(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}
	runs := make([]model.WorkflowRun, 0, len(resp.WorkflowRuns))
	for _, r := range resp.WorkflowRuns {
		runs = append(runs, r.toModel(workflowFile))
	}
	return runs, nil
}

// GetRun fetches a single run by ID. No transparent retry: the poll loop
// owns the retry budget so a throttle can stretch the interval instead.
func (c *Client) GetRun(ctx context.Context, runID int64) (model.WorkflowRun, error) {
	url := fmt.Sprintf("%s/repos/%s/actions/runs/%d", c.baseURL, c.repo, runID)

	var r apiRun
	if err := c.do(ctx, http.MethodGet, url, nil, &r); err != nil {
		return model.WorkflowRun{}, err
	}
	return r.toModel(""), nil
}

// do performs one HTTP call with bearer auth and the hard per-call timeout.
func (c *Client) do(ctx context.Context, method, url string, body []byte, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, url, reader)
	if err != nil {
		return fmt.Errorf("github: build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("github: decode response: %w", err)
		}
	}
	return nil
}
