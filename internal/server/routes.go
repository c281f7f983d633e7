// Package server wires HTTP handlers into a chi router for the MiniChat
// application via routing helpers.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes configures and returns the application router. It sets up the chat
// page, health check, WebSocket endpoint, upload endpoint and static assets.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.IndexHandler)
	r.Get("/health", s.HealthHandler)
	r.HandleFunc("/ws", s.WebSocketHandler)
	r.With(s.origins.guardUploads).Post("/upload", s.UploadHandler)

	static := http.StripPrefix("/static/", http.FileServer(http.Dir(s.cfg.StaticDir)))
	r.Get("/static/*", static.ServeHTTP)
	r.Head("/static/*", static.ServeHTTP)
	return r
}
