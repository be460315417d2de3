package server

import (
	"crypto/ed25519"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gcolon75/valine-orchestrator/internal/auth"
	"github.com/gcolon75/valine-orchestrator/internal/discord"
	"github.com/gcolon75/valine-orchestrator/internal/router"
	"github.com/gcolon75/valine-orchestrator/internal/tracestore"
)

// maxInteractionBody bounds the webhook payload size.
const maxInteractionBody = 1 << 20

type handlers struct {
	publicKey ed25519.PublicKey
	router    *router.Router
	jwtMgr    *auth.JWTManager
	traces    *tracestore.Store
	logger    *slog.Logger
	version   string
	nowFunc   func() time.Time
}

// handleInteractions is the signed interaction webhook. The signature is
// verified over the raw body before any parsing; an invalid or missing
// signature is a 401 with no further processing.
func (h *handlers) handleInteractions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInteractionBody))
	if err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return
	}

	sig := r.Header.Get("X-Signature-Ed25519")
	timestamp := r.Header.Get("X-Signature-Timestamp")
	if !discord.VerifySignature(h.publicKey, timestamp, body, sig) {
		writeError(w, r, http.StatusUnauthorized, "bad_signature", "invalid request signature")
		return
	}

	var interaction discord.Interaction
	if err := json.Unmarshal(body, &interaction); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_payload", "malformed interaction payload")
		return
	}

	switch interaction.Type {
	case discord.InteractionPing:
		writeJSON(w, http.StatusOK, discord.Pong())

	case discord.InteractionApplicationCommand:
		inv := interaction.ToInvocation(h.nowFunc())
		result, err := h.router.Handle(r.Context(), inv)
		if err != nil {
			writeJSON(w, http.StatusOK, discord.Message(router.UserMessage(err)))
			return
		}
		if result.Deferred {
			writeJSON(w, http.StatusOK, discord.Deferred())
			return
		}
		writeJSON(w, http.StatusOK, discord.Message(result.Content))

	default:
		writeError(w, r, http.StatusBadRequest, "bad_payload", "unsupported interaction type")
	}
}

func (h *handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// handleDebugTrace returns the caller's latest execution trace, or a
// specific one via ?trace_id=. The bearer token pins the user; asking for
// another user's trace is indistinguishable from asking for one that does
// not exist.
func (h *handlers) handleDebugTrace(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing or malformed authorization header")
		return
	}
	claims, err := h.jwtMgr.ValidateToken(parts[1])
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
		return
	}

	if traceID := r.URL.Query().Get("trace_id"); traceID != "" {
		tr, ok := h.traces.TraceForUser(claims.UserID, traceID)
		if !ok {
			writeError(w, r, http.StatusNotFound, "not_found", "trace not found")
			return
		}
		writeJSON(w, http.StatusOK, tr)
		return
	}

	tr, ok := h.traces.LatestTraceForUser(claims.UserID)
	if !ok {
		writeError(w, r, http.StatusNotFound, "not_found", "no traces recorded for this user")
		return
	}
	writeJSON(w, http.StatusOK, tr)
}
