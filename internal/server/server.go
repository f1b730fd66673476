package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/converso/server/internal/chat/model"
	logx "github.com/converso/server/pkg/logger"
)

// TurnRunner executes one chat turn and streams its events. Satisfied by
// orchestrator.Orchestrator.
type TurnRunner interface {
	Run(ctx context.Context, req model.ChatRequest) <-chan model.OutputEvent
}

// Server exposes the chat turn over SSE plus a health probe.
type Server struct {
	runner TurnRunner
	mux    *http.ServeMux
}

func New(runner TurnRunner) *Server {
	s := &Server{runner: runner, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /chat", s.handleChat)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe blocks serving HTTP until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logx.Info().Str("addr", addr).Msg("http server listening")
	return srv.ListenAndServe()
}

// chatRequest is the POST /chat JSON body. EnableTools defaults to true and
// UseRAG to false when omitted, hence the pointer bindings.
type chatRequest struct {
	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id"`
	Message     string `json:"message"`
	EnableTools *bool  `json:"enable_tools"`
	UseRAG      *bool  `json:"use_rag"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

// handleChat validates the request, then relays the turn's event stream as
// Server-Sent Events. Validation failures are plain JSON errors; once the
// stream starts, failures arrive as in-stream error events.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(body.SessionID) == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	userID := body.UserID
	if strings.TrimSpace(userID) == "" {
		userID = body.SessionID
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	req := model.ChatRequest{
		UserID:      userID,
		SessionID:   body.SessionID,
		Message:     body.Message,
		EnableTools: body.EnableTools == nil || *body.EnableTools,
		UseRAG:      body.UseRAG != nil && *body.UseRAG,
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	logx.Info().Str("session_id", req.SessionID).Bool("use_rag", req.UseRAG).Msg("chat stream started")

	for ev := range s.runner.Run(ctx, req) {
		data, err := json.Marshal(ev)
		if err != nil {
			logx.Error().Err(err).Msg("failed to encode stream event")
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
	}

	logx.Info().Str("session_id", req.SessionID).Msg("chat stream completed")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
