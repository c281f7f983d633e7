// Package server wires the chat manager, WebSocket sessions and the upload
// store together behind one Server value.
package server

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/minichat/internal/chat"
)

// Server owns the chat state and tracks every session goroutine so shutdown
// can wait for their cleanup.
type Server struct {
	cfg      Config
	manager  *chat.Manager
	origins  *originPolicy
	upgrader websocket.Upgrader
	uploads  *uploadStore

	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

// New builds a Server from cfg. A nil cfg selects the defaults.
func New(cfg *Config) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	sanitized := sanitizeConfig(*cfg)

	s := &Server{
		cfg: sanitized,
		manager: chat.NewManager(chat.ManagerConfig{
			HistoryLimit: sanitized.HistoryLimit,
			Placeholder:  chat.DefaultPlaceholderName,
		}),
		origins: newOriginPolicy(sanitized.AllowedOrigins),
		uploads: newUploadStore(uploadsDir(sanitized.StaticDir)),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// Config returns the sanitized configuration in effect.
func (s *Server) Config() Config {
	cfg := s.cfg
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// Manager returns the chat manager shared by all sessions.
func (s *Server) Manager() *chat.Manager {
	return s.manager
}

// Shutdown closes every live session and waits for their handlers to finish
// cleanup, or until the timeout is reached.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	log.Info().Msg("[chat] closing all sessions...")
	closed := s.manager.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	// Handshakes admitted just before draining may register after the
	// first CloseAll; keep closing until every handler has returned.
	sweep := time.NewTicker(50 * time.Millisecond)
	defer sweep.Stop()
	deadline := time.After(timeout)

	for {
		select {
		case <-done:
			log.Info().Int("sessions", closed).Msg("[chat] session shutdown completed")
			return nil
		case <-sweep.C:
			closed += s.manager.CloseAll()
		case <-deadline:
			log.Warn().Int("remaining", s.manager.Count()).Msg("[chat] session shutdown timeout reached")
			return context.DeadlineExceeded
		}
	}
}

func uploadsDir(staticDir string) string {
	return filepath.Join(staticDir, "uploads")
}

// beginSession counts a new session handler unless shutdown has started.
// Every successful call must be paired with s.wg.Done.
func (s *Server) beginSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.wg.Add(1)
	return true
}
