package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"CalChat/internal/session"
	"CalChat/internal/telemetry"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChat answers "echo: <message>" and keeps histories in a session store.
type fakeChat struct {
	store *session.Store
	fail  error
	panic bool
	delay time.Duration

	mu         sync.Mutex
	requestIDs []string
}

func newFakeChat() *fakeChat {
	return &fakeChat{store: session.NewStore()}
}

func (f *fakeChat) Respond(ctx context.Context, sessionID, message string) (string, error) {
	if f.panic {
		panic("boom")
	}
	if f.fail != nil {
		return "", f.fail
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.requestIDs = append(f.requestIDs, telemetry.RequestID(ctx))
	f.mu.Unlock()

	lease, err := f.store.Acquire(ctx, sessionID)
	if err != nil {
		return "", err
	}
	defer lease.Release()
	answer := "echo: " + message
	lease.Append(message, answer)
	return answer, nil
}

func (f *fakeChat) History(_ context.Context, sessionID string) ([]session.Message, bool) {
	return f.store.Get(sessionID)
}

func (f *fakeChat) Close(_ context.Context, sessionID string) {
	f.store.Close(sessionID)
}

func newTestServer(t *testing.T, chat Chat, mcp http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(Options{Chat: chat, MCP: mcp}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postMessage(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url+"/api/v1/chat/message", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestPostMessageCreatesSession(t *testing.T) {
	chat := newFakeChat()
	srv := newTestServer(t, chat, nil)

	resp, body := postMessage(t, srv.URL, `{"message": "hi"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "echo: hi", body["response"])
	assert.Nil(t, body["metadata"])
	assert.Contains(t, body, "metadata")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	sessionID, _ := body["session_id"].(string)
	_, err := uuid.Parse(sessionID)
	require.NoError(t, err)

	resp, body = postMessage(t, srv.URL, `{"message": "again", "session_id": "`+sessionID+`", "metadata": {"k": 1}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sessionID, body["session_id"])

	history, ok := chat.store.Get(sessionID)
	require.True(t, ok)
	assert.Len(t, history, 4)
	require.Len(t, chat.requestIDs, 2)
	assert.Len(t, chat.requestIDs[0], 32)
	assert.NotEqual(t, chat.requestIDs[0], chat.requestIDs[1])
}

func TestPostMessageValidation(t *testing.T) {
	srv := newTestServer(t, newFakeChat(), nil)

	cases := map[string]string{
		"missing message": `{"session_id": "9b2b6a0e-5d0a-4b51-9a3b-0d7e2f1c4a11"}`,
		"bad session id":  `{"message": "hi", "session_id": "not-a-uuid"}`,
		"not json":        `hello`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, decoded := postMessage(t, srv.URL, body)
			assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
			assert.NotEmpty(t, decoded["error"])
		})
	}
}

func TestUnhandledFailuresAreGeneric500(t *testing.T) {
	chat := newFakeChat()
	chat.fail = errors.New("upstream exploded with secret details")
	srv := newTestServer(t, chat, nil)

	resp, body := postMessage(t, srv.URL, `{"message": "hi"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, map[string]any{"error": "Internal server error"}, body)

	chat.fail = nil
	chat.panic = true
	resp, body = postMessage(t, srv.URL, `{"message": "hi"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, map[string]any{"error": "Internal server error"}, body)
}

func TestSessionEndpoints(t *testing.T) {
	chat := newFakeChat()
	srv := newTestServer(t, chat, nil)
	id := uuid.New().String()

	resp, err := http.Get(srv.URL + "/api/v1/chat/sessions/" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	postMessage(t, srv.URL, `{"message": "hi", "session_id": "`+id+`"}`)

	resp, err = http.Get(srv.URL + "/api/v1/chat/sessions/" + id)
	require.NoError(t, err)
	var got SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, id, got.SessionID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "hi", got.Messages[0].Content)

	for i := 0; i < 2; i++ {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/chat/sessions/"+id, nil)
		require.NoError(t, err)
		resp, err = http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	_, ok := chat.store.Get(id)
	assert.False(t, ok)
}

func TestHealthAndCORS(t *testing.T) {
	srv := newTestServer(t, newFakeChat(), nil)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/chat/message", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, "content-type", resp.Header.Get("Access-Control-Allow-Headers"))
}

func TestMCPMountedOnlyWhenConfigured(t *testing.T) {
	srv := newTestServer(t, newFakeChat(), nil)
	resp, err := http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	mcp := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	srv = newTestServer(t, newFakeChat(), mcp)
	resp, err = http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestWebSocketChat(t *testing.T) {
	chat := newFakeChat()
	srv := newTestServer(t, chat, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	id := uuid.New().String()
	require.NoError(t, conn.WriteJSON(map[string]any{"message": "hi", "session_id": id}))
	var reply ChatResponse
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "echo: hi", reply.Response)
	assert.Equal(t, id, reply.SessionID)

	require.NoError(t, conn.WriteJSON(map[string]any{"session_id": id}))
	var invalid map[string]any
	require.NoError(t, conn.ReadJSON(&invalid))
	assert.Equal(t, "message is required", invalid["error"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"message": "second", "session_id": "`+id+`"}`)))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "echo: second", reply.Response)

	history, ok := chat.store.Get(id)
	require.True(t, ok)
	assert.Len(t, history, 4)

	chat.mu.Lock()
	defer chat.mu.Unlock()
	require.Len(t, chat.requestIDs, 2)
	assert.NotEqual(t, chat.requestIDs[0], chat.requestIDs[1])
}

func TestWebSocketSurvivesTurnLongerThanPongWait(t *testing.T) {
	prev := wsPongWait
	wsPongWait = 150 * time.Millisecond
	t.Cleanup(func() { wsPongWait = prev })

	chat := newFakeChat()
	chat.delay = 400 * time.Millisecond
	srv := newTestServer(t, chat, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	id := uuid.New().String()
	for _, msg := range []string{"first", "second"} {
		require.NoError(t, conn.WriteJSON(map[string]any{"message": msg, "session_id": id}))
		var reply ChatResponse
		require.NoError(t, conn.ReadJSON(&reply))
		assert.Equal(t, "echo: "+msg, reply.Response)
	}

	history, ok := chat.store.Get(id)
	require.True(t, ok)
	assert.Len(t, history, 4)
}
