// Package server exposes the orchestrator's HTTP surface: the signed
// interaction webhook, a health endpoint, and the gated debug trace query.
package server

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/gcolon75/valine-orchestrator/internal/auth"
	"github.com/gcolon75/valine-orchestrator/internal/router"
	"github.com/gcolon75/valine-orchestrator/internal/tracestore"
)

// Server is the orchestrator HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and settings for creating a Server.
// Optional fields (nil = disabled): JWTMgr, Traces, MCPServer.
type ServerConfig struct {
	PublicKey ed25519.PublicKey
	Router    *router.Router
	Logger    *slog.Logger

	// Debug trace query endpoint; registered only when EnableDebugQuery is
	// set and both JWTMgr and Traces are present.
	EnableDebugQuery bool
	JWTMgr           *auth.JWTManager
	Traces           *tracestore.Store

	// Ops MCP surface, mounted at /mcp when present.
	MCPServer *mcpserver.MCPServer

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
}

// New creates an HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := &handlers{
		publicKey: cfg.PublicKey,
		router:    cfg.Router,
		jwtMgr:    cfg.JWTMgr,
		traces:    cfg.Traces,
		logger:    cfg.Logger,
		version:   cfg.Version,
		nowFunc:   func() time.Time { return time.Now().UTC() },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /interactions", h.handleInteractions)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	if cfg.EnableDebugQuery && cfg.JWTMgr != nil && cfg.Traces != nil {
		mux.HandleFunc("GET /debug/trace", h.handleDebugTrace)
	}
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Middleware chain (outermost executes first):
	// request ID → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
