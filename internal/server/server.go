// Package server is the HTTP surface of the scheduling assistant.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"CalChat/internal/session"
	"CalChat/internal/telemetry"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Chat is the session and dispatch manager behind the endpoints.
type Chat interface {
	Respond(ctx context.Context, sessionID, message string) (string, error)
	History(ctx context.Context, sessionID string) ([]session.Message, bool)
	Close(ctx context.Context, sessionID string)
}

// Options configure a Server.
type Options struct {
	Addr   string
	Chat   Chat
	MCP    http.Handler // mounted at /mcp when set
	Logger *slog.Logger
}

// Server routes HTTP requests to the chat manager.
type Server struct {
	addr     string
	chat     Chat
	mcp      http.Handler
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// ChatRequest is the body of a chat message.
type ChatRequest struct {
	Message   *string         `json:"message"`
	SessionID *string         `json:"session_id"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// ChatResponse is the reply to a chat message.
type ChatResponse struct {
	Response  string         `json:"response"`
	SessionID string         `json:"session_id"`
	Metadata  map[string]any `json:"metadata"`
}

// SessionResponse describes a session and its history.
type SessionResponse struct {
	SessionID string            `json:"session_id"`
	Messages  []session.Message `json:"messages"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// requestError is a client mistake, answered with 422.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

// New creates a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:   opts.Addr,
		chat:   opts.Chat,
		mcp:    opts.MCP,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat/message", s.handleMessage)
	mux.HandleFunc("GET /api/v1/chat/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/v1/chat/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/v1/chat/ws", s.handleWebSocket)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.mcp != nil {
		mux.Handle("/mcp", s.mcp)
	}

	return withContext(s.logger, cors(recoverer(mux)))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting up", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "request body must be a JSON object"})
		return
	}

	resp, err := s.respond(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// respond validates a chat request and runs it against its session.
func (s *Server) respond(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if req.Message == nil {
		return ChatResponse{}, &requestError{msg: "message is required"}
	}

	sessionID := uuid.New()
	if req.SessionID != nil {
		parsed, err := uuid.Parse(*req.SessionID)
		if err != nil {
			return ChatResponse{}, &requestError{msg: "session_id must be a valid UUID"}
		}
		sessionID = parsed
	}

	answer, err := s.chat.Respond(ctx, sessionID.String(), *req.Message)
	if err != nil {
		return ChatResponse{}, err
	}
	return ChatResponse{Response: answer, SessionID: sessionID.String()}, nil
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	history, ok := s.chat.History(r.Context(), id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{SessionID: id, Messages: history})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	s.chat.Close(r.Context(), r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps validation problems to 422 and everything else to a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: reqErr.msg})
		return
	}
	telemetry.Logger(r.Context()).Error("Unhandled exception", "error", err)
	writeInternalError(w)
}

func writeInternalError(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
