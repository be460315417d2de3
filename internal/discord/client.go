package discord

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

	"github.com/gcolon75/valine-orchestrator/internal/retry"
)

// maxSendRetries bounds transparent retries on 429/5xx when posting
// follow-ups or channel messages.
const maxSendRetries = 2

// APIError is a non-2xx response from the transport REST API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord: API returned %d: %s", e.StatusCode, e.Body)
}

func retriable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
}

// Client posts messages through the transport REST API with bot auth.
type Client struct {
	baseURL     string
	appID       string
	botToken    string
	callTimeout time.Duration
	baseDelay   time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
	sleep       retry.SleepFunc
}

// Config holds the client's construction parameters.
type Config struct {
	BaseURL     string
	AppID       string
	BotToken    string
	CallTimeout time.Duration
	BaseDelay   time.Duration
	Logger      *slog.Logger
}

// New creates a transport client.
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
		appID:       cfg.AppID,
		botToken:    cfg.BotToken,
		callTimeout: timeout,
		baseDelay:   baseDelay,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      cfg.Logger,
		sleep:       retry.Sleep,
	}
}

// SetSleepFunc overrides the inter-retry sleep, for tests.
func (c *Client) SetSleepFunc(sleep retry.SleepFunc) { c.sleep = sleep }

// FollowUp posts a follow-up message against a deferred acknowledgement's
// token. The token stays valid for the transport's follow-up window, which
// comfortably covers the poll deadline.
func (c *Client) FollowUp(ctx context.Context, ackToken, content string) error {
	url := fmt.Sprintf("%s/webhooks/%s/%s", c.baseURL, c.appID, ackToken)
	return c.send(ctx, url, content, false)
}

// PostMessage posts to a channel with bot auth. It satisfies
// alert.Notifier.
func (c *Client) PostMessage(ctx context.Context, channelID, content string) error {
	url := fmt.Sprintf("%s/channels/%s/messages", c.baseURL, channelID)
	return c.send(ctx, url, content, true)
}

func (c *Client) send(ctx context.Context, url, content string, withAuth bool) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("discord: encode message: %w", err)
	}

	return retry.Do(ctx, maxSendRetries, c.baseDelay, c.sleep, retriable, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("discord: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if withAuth {
			req.Header.Set("Authorization", "Bot "+c.botToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("discord: POST %s: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
			if retriable(apiErr) {
				c.logger.Warn("discord: send retrying after transient failure", "status", resp.StatusCode)
			}
			return apiErr
		}
		return nil
	})
}
