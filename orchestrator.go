// Package valine is the public API for embedding the Valine orchestrator:
// the chat-driven automation core that dispatches CI/CD workflow runs,
// tracks them to completion via correlation tokens, and reports outcomes.
//
//	app, err := valine.New(
//	    valine.WithVersion(version),
//	    valine.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: valine (root) imports
// internal/*, but internal/* never imports valine (root).
package valine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/gcolon75/valine-orchestrator/internal/alert"
	"github.com/gcolon75/valine-orchestrator/internal/auth"
	"github.com/gcolon75/valine-orchestrator/internal/config"
	"github.com/gcolon75/valine-orchestrator/internal/discord"
	"github.com/gcolon75/valine-orchestrator/internal/dispatch"
	"github.com/gcolon75/valine-orchestrator/internal/github"
	"github.com/gcolon75/valine-orchestrator/internal/logging"
	"github.com/gcolon75/valine-orchestrator/internal/mcp"
	"github.com/gcolon75/valine-orchestrator/internal/registry"
	"github.com/gcolon75/valine-orchestrator/internal/router"
	"github.com/gcolon75/valine-orchestrator/internal/server"
	"github.com/gcolon75/valine-orchestrator/internal/status"
	"github.com/gcolon75/valine-orchestrator/internal/telemetry"
	"github.com/gcolon75/valine-orchestrator/internal/tracestore"
)

// App is the orchestrator lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	srv          *server.Server
	rtr          *router.Router
	alerts       *alert.Manager
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the orchestrator: loads configuration, wires every
// subsystem, and returns a ready-to-run App. It does NOT start any
// goroutines or accept HTTP connections. Call Run for that.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger := o.logger
	if logger == nil {
		logger = logging.New(os.Stdout, cfg.LogLevel, cfg.ServiceName)
	}
	logger.Info("valine starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	publicKey, err := discord.ParsePublicKey(cfg.DiscordPublicKey)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("discord: %w", err)
	}

	discordClient := discord.New(discord.Config{
		BaseURL:     cfg.DiscordAPIURL,
		AppID:       cfg.DiscordAppID,
		BotToken:    cfg.DiscordBotToken,
		CallTimeout: cfg.DispatchTimeout,
		BaseDelay:   cfg.PollInterval,
		Logger:      logger,
	})

	githubClient := github.New(github.Config{
		BaseURL:     cfg.GitHubAPIURL,
		Repo:        cfg.GitHubRepo,
		Token:       cfg.GitHubToken,
		CallTimeout: cfg.DispatchTimeout,
		BaseDelay:   cfg.PollInterval,
		Logger:      logger,
	})

	dispatcher := dispatch.New(githubClient, dispatch.Config{
		DiscoveryDeadline: cfg.DiscoveryDeadline,
		DiscoveryMaxAge:   cfg.DiscoveryMaxAge,
		PollTimeout:       cfg.PollTimeout,
		PollInterval:      cfg.PollInterval,
	}, logger)

	traces := tracestore.New(cfg.TraceUserCap, cfg.TraceGlobalCap, logger)
	agents := registry.Default()
	aggregator := status.New(githubClient, cfg.WorkflowFiles(), logger)
	alerts := alert.New(discordClient, cfg.AlertChannelID, cfg.AlertDedupeWindow, cfg.EnableAlerts, logger)

	var jwtMgr *auth.JWTManager
	if cfg.EnableDebugQuery {
		jwtMgr, err = auth.NewJWTManager(cfg.DebugJWTSecret)
		if err != nil {
			_ = alerts.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("auth: %w", err)
		}
	}

	rtr, err := router.New(discordClient, logger, router.DefaultHandlers(router.Deps{
		Dispatcher:       dispatcher,
		Traces:           traces,
		Agents:           agents,
		Status:           aggregator,
		Alerts:           alerts,
		Workflows:        cfg.Workflows,
		DefaultRef:       cfg.GitHubDefaultRef,
		EnableDebugQuery: cfg.EnableDebugQuery,
		Logger:           logger,
	})...)
	if err != nil {
		_ = alerts.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("router: %w", err)
	}

	mcpSrv := mcp.New(traces, agents, aggregator, logger)

	srv := server.New(server.ServerConfig{
		PublicKey:        publicKey,
		Router:           rtr,
		Logger:           logger,
		EnableDebugQuery: cfg.EnableDebugQuery,
		JWTMgr:           jwtMgr,
		Traces:           traces,
		MCPServer:        mcpSrv.MCPServer(),
		Port:             cfg.Port,
		ReadTimeout:      cfg.ReadTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		Version:          version,
	})

	return &App{
		cfg:          cfg,
		srv:          srv,
		rtr:          rtr,
		alerts:       alerts,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or a fatal
// server error occurs. On return, Shutdown has already run; callers should
// not call it separately.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown drains the HTTP server, waits for in-flight deferred commands
// to post their follow-up, and releases telemetry and alerting resources.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("valine shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, a.cfg.WriteTimeout)
	defer cancel()
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	// Deferred invocations are bounded by the poll timeout; let them finish
	// so every acknowledged command still gets its terminal follow-up.
	a.rtr.Wait()

	_ = a.alerts.Close()
	_ = a.otelShutdown(context.Background())

	a.logger.Info("valine stopped")
	return nil
}
