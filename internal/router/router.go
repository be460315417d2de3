// Package router is the command entry point: it validates inbound
// invocations against a closed handler set, runs immediate handlers inline
// and deferred handlers on their own goroutine, and is the only place
// errors become user-visible text.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/gcolon75/valine-orchestrator/internal/github"
	"github.com/gcolon75/valine-orchestrator/internal/model"
)

// ValidationError marks malformed command input. It reaches the user
// verbatim and produces no side effects.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "router: " + e.Msg }

// errInternal replaces anything unexpected before it can reach the user.
var errInternal = errors.New("router: internal error")

// OptionSpec declares one command option. Transport layers normalise all
// option values to strings before they arrive here.
type OptionSpec struct {
	Name     string
	Required bool
	Enum     []string // empty means any value is accepted
}

// ImmediateFunc handles a command inline and returns the response content.
type ImmediateFunc func(ctx context.Context, inv model.CommandInvocation) (string, error)

// DeferredFunc handles a command in the background. progress posts a
// non-terminal update to the user; the returned content is the single
// terminal follow-up.
type DeferredFunc func(ctx context.Context, inv model.CommandInvocation, progress func(string)) (string, error)

// Handler binds a command name to its option schema and exactly one of an
// immediate or a deferred function.
type Handler struct {
	Command   string
	Options   []OptionSpec
	Immediate ImmediateFunc
	Deferred  DeferredFunc
}

// FollowUpPoster posts a follow-up message on a previously acknowledged
// interaction. *discord.Client satisfies it.
type FollowUpPoster interface {
	FollowUp(ctx context.Context, ackToken, content string) error
}

// Result is the router's answer to one invocation: either immediate
// content, or a deferred acknowledgment whose outcome arrives later as a
// follow-up.
type Result struct {
	Deferred bool
	Content  string
}

// Router dispatches invocations to registered handlers. It is immutable
// after construction and safe for concurrent use; overlapping invocations,
// including from the same user, share no mutable router state.
type Router struct {
	handlers map[string]Handler
	poster   FollowUpPoster
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// New builds a router over a closed handler set. Registration is validated
// here: a duplicate command name, a missing name, or a handler with not
// exactly one function is a construction error, never a runtime surprise.
func New(poster FollowUpPoster, logger *slog.Logger, handlers ...Handler) (*Router, error) {
	r := &Router{
		handlers: make(map[string]Handler, len(handlers)),
		poster:   poster,
		logger:   logger,
	}
	for _, h := range handlers {
		if h.Command == "" {
			return nil, errors.New("router: handler with empty command name")
		}
		if (h.Immediate == nil) == (h.Deferred == nil) {
			return nil, fmt.Errorf("router: handler %q must set exactly one of Immediate or Deferred", h.Command)
		}
		if _, dup := r.handlers[h.Command]; dup {
			return nil, fmt.Errorf("router: duplicate handler for %q", h.Command)
		}
		r.handlers[h.Command] = h
	}
	return r, nil
}

// Commands returns the registered command names, for transport-side
// registration. Order is unspecified.
func (r *Router) Commands() []string {
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	return out
}

// Handle routes one invocation. Unknown commands and schema violations
// return a ValidationError with no side effects. For deferred handlers the
// returned Result only acknowledges; the terminal outcome is posted as
// exactly one follow-up from a background goroutine.
func (r *Router) Handle(ctx context.Context, inv model.CommandInvocation) (Result, error) {
	h, ok := r.handlers[inv.Command]
	if !ok {
		return Result{}, &ValidationError{Msg: fmt.Sprintf("unknown command %q", inv.Command)}
	}
	if err := validateOptions(h, inv); err != nil {
		return Result{}, err
	}

	if h.Immediate != nil {
		content, err := r.invokeImmediate(ctx, h, inv)
		if err != nil {
			return Result{}, err
		}
		return Result{Content: content}, nil
	}

	// The request context dies when the webhook response is written; the
	// deferred work keeps its values but not its cancellation.
	bg := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runDeferred(bg, h, inv)
	}()
	return Result{Deferred: true}, nil
}

// Wait blocks until all in-flight deferred invocations have posted their
// follow-up. Used during shutdown and in tests.
func (r *Router) Wait() {
	r.wg.Wait()
}

// UserMessage renders an error from Handle (or a deferred handler) into
// the text shown to the user. Validation detail passes through; everything
// else collapses to a generic message, with the full error already logged
// where it occurred.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return "❌ " + verr.Msg
	}
	if github.IsRateLimited(err) {
		return "⏳ The workflow service is rate limiting us. Please try again in a minute."
	}
	return "⚠️ Something went wrong handling your command. The details have been logged."
}

func validateOptions(h Handler, inv model.CommandInvocation) error {
	known := make(map[string]OptionSpec, len(h.Options))
	for _, spec := range h.Options {
		known[spec.Name] = spec
		v, ok := inv.Option(spec.Name)
		if !ok {
			if spec.Required {
				return &ValidationError{Msg: fmt.Sprintf("missing required option %q", spec.Name)}
			}
			continue
		}
		if len(spec.Enum) > 0 && !contains(spec.Enum, v) {
			return &ValidationError{Msg: fmt.Sprintf("option %q must be one of %v", spec.Name, spec.Enum)}
		}
	}
	for name := range inv.Options {
		if _, ok := known[name]; !ok {
			return &ValidationError{Msg: fmt.Sprintf("unknown option %q", name)}
		}
	}
	return nil
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// invokeImmediate runs an immediate handler with the panic boundary in
// place. A recovered panic is logged with its stack and surfaced as the
// generic internal error.
func (r *Router) invokeImmediate(ctx context.Context, h Handler, inv model.CommandInvocation) (content string, err error) {
	defer r.recoverPanic(ctx, inv, &err)
	return h.Immediate(ctx, inv)
}

// runDeferred drives one deferred invocation to its single terminal
// follow-up. Handler errors and panics are normalised here so a "wait"
// invocation can never end silently unresolved.
func (r *Router) runDeferred(ctx context.Context, h Handler, inv model.CommandInvocation) {
	progress := func(content string) {
		if err := r.poster.FollowUp(ctx, inv.AckToken, content); err != nil {
			r.logger.WarnContext(ctx, "router: progress follow-up failed",
				"command", inv.Command, "error", err)
		}
	}

	content, err := func() (content string, err error) {
		defer r.recoverPanic(ctx, inv, &err)
		return h.Deferred(ctx, inv, progress)
	}()
	if err != nil {
		content = UserMessage(err)
	}

	if err := r.poster.FollowUp(ctx, inv.AckToken, content); err != nil {
		r.logger.ErrorContext(ctx, "router: terminal follow-up failed",
			"command", inv.Command, "user_id", inv.InvokerID, "error", err)
	}
}

func (r *Router) recoverPanic(ctx context.Context, inv model.CommandInvocation, err *error) {
	if p := recover(); p != nil {
		r.logger.ErrorContext(ctx, "router: handler panicked",
			"command", inv.Command,
			"user_id", inv.InvokerID,
			"panic", fmt.Sprint(p),
			"stack", string(debug.Stack()),
		)
		*err = errInternal
	}
}
