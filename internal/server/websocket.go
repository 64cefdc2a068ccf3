package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"CalChat/internal/telemetry"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait = 10 * time.Second
	wsReadLimit = 1 << 20
)

// wsPongWait bounds the silence between frames or pongs. Time spent answering
// a frame does not count against it.
var wsPongWait = 60 * time.Second

// handleWebSocket serves chat over a websocket: each text frame is a
// ChatRequest, answered in order with a ChatResponse or an error object.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		telemetry.Logger(r.Context()).Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	baseCtx := r.Context()
	logger := telemetry.Logger(baseCtx)
	logger.Info("websocket connected")

	pongWait := wsPongWait
	pingPeriod := pongWait * 9 / 10

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// WriteControl may run concurrently with WriteJSON below.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket closed unexpectedly", "error", err)
			} else {
				logger.Info("websocket disconnected")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		// every frame is its own request for logging and auditing
		id := uuid.New()
		frameID := hex.EncodeToString(id[:])
		ctx := telemetry.WithRequestID(baseCtx, frameID)
		ctx = telemetry.WithLogger(ctx, logger.With("frame_id", frameID))

		var reply any
		var req ChatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			reply = errorResponse{Error: "request body must be a JSON object"}
		} else if resp, err := s.respond(ctx, req); err != nil {
			var reqErr *requestError
			if errors.As(err, &reqErr) {
				reply = errorResponse{Error: reqErr.msg}
			} else {
				telemetry.Logger(ctx).Error("Unhandled exception", "error", err)
				reply = errorResponse{Error: "Internal server error"}
			}
		} else {
			reply = resp
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(reply); err != nil {
			logger.Warn("websocket write failed", "error", err)
			return
		}

		// pongs are only handled while reading, so a long turn would
		// otherwise leave an expired deadline behind
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}
