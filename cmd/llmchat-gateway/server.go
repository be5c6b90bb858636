package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wilson323/llmchat-sub012/agents"
	"github.com/wilson323/llmchat-sub012/chat"
	"github.com/wilson323/llmchat-sub012/config"
	"github.com/wilson323/llmchat-sub012/gateway"
)

// server is the controller layer: it owns the inbound HTTP/SSE transport and
// maps it onto the gateway's SendChat/SendChatStream. The core never sees
// the inbound protocol.
type server struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *agents.Store
	gw     *gateway.Gateway
}

func newServer(cfg *config.Config, logger *zap.Logger, store *agents.Store, gw *gateway.Gateway) *server {
	return &server{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "server")),
		store:  store,
		gw:     gw,
	}
}

// Run serves the API and metrics listeners until ctx is canceled, then
// shuts both down gracefully.
func (s *server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/v1/agents", s.handleListAgents)
	mux.HandleFunc("/api/v1/chat/completions", s.handleChat)

	handler := requestIDMiddleware(s.logger, mux)
	if s.cfg.RateLimit.Enabled {
		handler = rateLimitMiddleware(s.cfg.RateLimit, handler)
	}
	if s.cfg.Auth.Enabled {
		handler = authMiddleware(s.cfg.Auth, s.logger, handler)
	}

	apiSrv := &http.Server{
		Addr:        fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		Handler:     handler,
		ReadTimeout: s.cfg.Server.ReadTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	errCh := make(chan error, 2)
	go func() {
		s.logger.Info("api server listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		s.logger.Info("metrics server listening", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	return apiSrv.Shutdown(shutdownCtx)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"breakers": s.gw.BreakerStates(),
	})
}

func (s *server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.store.List()})
}

// chatPayload is the inbound request body.
type chatPayload struct {
	AgentID        string             `json:"agent_id"`
	Messages       []chat.ChatMessage `json:"messages"`
	Stream         bool               `json:"stream"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Variables      map[string]string  `json:"variables,omitempty"`
	Files          []chat.Attachment  `json:"files,omitempty"`
	Detail         bool               `json:"detail,omitempty"`
	User           string             `json:"user,omitempty"`
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var payload chatPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	profile, ok := s.store.Get(payload.AgentID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown agent "+payload.AgentID)
		return
	}

	opts := &chat.ChatOptions{
		ConversationID: payload.ConversationID,
		Variables:      payload.Variables,
		Files:          payload.Files,
		Detail:         payload.Detail,
		User:           payload.User,
	}

	if payload.Stream {
		s.serveStream(w, r, profile, payload.Messages, opts)
		return
	}

	resp, err := s.gw.SendChat(r.Context(), profile, payload.Messages, opts)
	if err != nil {
		status := statusForError(err)
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// serveStream relays gateway callbacks onto the client's SSE connection.
// Client disconnects cancel the outbound call through the request context;
// the gateway still delivers a terminal callback, which closes done.
func (s *server) serveStream(w http.ResponseWriter, r *http.Request, profile *chat.AgentProfile, messages []chat.ChatMessage, opts *chat.ChatOptions) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	done := make(chan struct{})
	emit := func(event string, v any) {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	cancel, err := s.gw.SendChatStream(r.Context(), profile, messages, opts, chat.StreamCallbacks{
		OnChunk: func(text string) {
			emit("chunk", map[string]string{"text": text})
		},
		OnEvent: func(kind chat.EventKind, ev chat.StreamEvent) {
			emit(string(kind), ev)
		},
		OnComplete: func(ev chat.StreamEvent) {
			emit("complete", ev)
			close(done)
		},
		OnError: func(cerr *chat.Error) {
			emit("error", cerr)
			close(done)
		},
	})
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	defer cancel()

	select {
	case <-done:
	case <-r.Context().Done():
		// Client gone; wait briefly for the terminal so the relay
		// releases its resources deterministically.
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	}
}

// statusClientClosedRequest mirrors nginx's non-standard code for aborts.
const statusClientClosedRequest = 499

func statusForError(err error) int {
	switch chat.CodeOf(err) {
	case chat.ErrInvalidRequest:
		return http.StatusBadRequest
	case chat.ErrCircuitOpen:
		return http.StatusServiceUnavailable
	case chat.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case chat.ErrVendorApp, chat.ErrUpstreamError:
		return http.StatusBadGateway
	case chat.ErrCanceled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
