// Command valined runs the Valine orchestrator: the webhook server that
// receives slash commands, dispatches workflow runs, and tracks them to
// completion.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	valine "github.com/gcolon75/valine-orchestrator"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := valine.New(valine.WithVersion(version))
	if err != nil {
		slog.Error("startup failed", "error", err)
		return 1
	}

	if err := app.Run(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}
