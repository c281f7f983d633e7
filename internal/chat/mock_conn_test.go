package chat

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errSendRefused = errors.New("send refused")

// mockConn records every frame it is sent. ReadFrame serves frames pushed
// through inbound and returns readErr once inbound is closed.
type mockConn struct {
	id       string
	mu       sync.Mutex
	received [][]byte
	sendErr  error
	closed   bool
	closes   int

	inbound chan []byte
	readErr error
}

func newMockConn(id string) *mockConn {
	return &mockConn{
		id:      id,
		inbound: make(chan []byte, 16),
		readErr: ErrDisconnected,
	}
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	if m.closed {
		return errSendRefused
	}
	m.received = append(m.received, frame)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closes++
	return nil
}

func (m *mockConn) ReadFrame() ([]byte, error) {
	frame, ok := <-m.inbound
	if !ok {
		return nil, m.readErr
	}
	return frame, nil
}

func (m *mockConn) failSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) frames() []wireFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]wireFrame, 0, len(m.received))
	for _, raw := range m.received {
		var f wireFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			panic(err)
		}
		out = append(out, f)
	}
	return out
}

func (m *mockConn) framesOfType(kind Kind) []wireFrame {
	var out []wireFrame
	for _, f := range m.frames() {
		if f.Type == kind {
			out = append(out, f)
		}
	}
	return out
}

func (m *mockConn) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = nil
}

// wireFrame is the client-side view of an outbound envelope.
type wireFrame struct {
	Type Kind            `json:"type"`
	User string          `json:"user"`
	Data json.RawMessage `json:"data"`
	Name string          `json:"name"`
	TS   string          `json:"ts"`
}

func (f wireFrame) text(t *testing.T) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(f.Data, &s))
	return s
}

func (f wireFrame) names(t *testing.T) []string {
	t.Helper()
	var names []string
	require.NoError(t, json.Unmarshal(f.Data, &names))
	return names
}

func (f wireFrame) history(t *testing.T) []wireFrame {
	t.Helper()
	var entries []wireFrame
	require.NoError(t, json.Unmarshal(f.Data, &entries))
	return entries
}

var fixedNow = time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

func newTestManager(limit int) *Manager {
	return NewManager(ManagerConfig{
		HistoryLimit: limit,
		Now:          func() time.Time { return fixedNow },
		Logger:       nopLogger(),
	})
}
