package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/minichat/internal/chat"
)

const testOrigin = "http://localhost:8080"

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// inbound is the client-side view of a frame sent by the server.
type inbound struct {
	Type chat.Kind       `json:"type"`
	User string          `json:"user"`
	Data json.RawMessage `json:"data"`
	Name string          `json:"name"`
	TS   string          `json:"ts"`
}

func (m inbound) text(t *testing.T) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(m.Data, &s))
	return s
}

func (m inbound) names(t *testing.T) []string {
	t.Helper()
	var names []string
	require.NoError(t, json.Unmarshal(m.Data, &names))
	return names
}

func (m inbound) history(t *testing.T) []inbound {
	t.Helper()
	var entries []inbound
	require.NoError(t, json.Unmarshal(m.Data, &entries))
	return entries
}

// startTestServer runs a Server behind httptest with an isolated static dir.
func startTestServer(t *testing.T, mutate func(*Config)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := NewConfig()
	cfg.StaticDir = t.TempDir()
	cfg.RateLimit.Burst = 1000
	if mutate != nil {
		mutate(cfg)
	}

	srv := New(cfg)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(2 * time.Second)
	})
	return srv, ts
}

// dial connects to the chat endpoint with an allowed origin.
func dial(t *testing.T, httpURL, username string) *websocket.Conn {
	t.Helper()
	conn, err := dialWithOrigin(httpURL, username, testOrigin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func dialWithOrigin(httpURL, username, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	u, err := url.Parse(httpURL)
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"
	if username != "" {
		u.RawQuery = url.Values{"username": {username}}.Encode()
	}
	conn, resp, err := dialer.Dial(u.String(), headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func receive(t *testing.T, conn *websocket.Conn) inbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg inbound
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// receiveType reads until a frame of the wanted kind arrives.
func receiveType(t *testing.T, conn *websocket.Conn, kind chat.Kind) inbound {
	t.Helper()
	for {
		msg := receive(t, conn)
		if msg.Type == kind {
			return msg
		}
	}
}

// expectNoFrame asserts nothing arrives within wait.
func expectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame: %s", data)
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// drainJoin consumes the history, join notice and roster a new client receives.
func drainJoin(t *testing.T, conn *websocket.Conn) (history inbound, participants inbound) {
	t.Helper()
	history = receive(t, conn)
	require.Equal(t, chat.KindHistory, history.Type)
	require.Equal(t, chat.KindSystem, receive(t, conn).Type)
	participants = receive(t, conn)
	require.Equal(t, chat.KindParticipants, participants.Type)
	return history, participants
}
