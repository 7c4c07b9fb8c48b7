package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"smart-road/internal/config"
	"smart-road/internal/store"
)

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with WebSocket hub for real-time updates.
type Server struct {
	engine      EngineInterface
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
	httpServer  *http.Server
}

// NewServer creates a new API server.
//
// Background workers do NOT start until Start() is called, so the server can
// be constructed in tests and driven through Router().
func NewServer(engine EngineInterface, runs store.Repository, cfg config.ServerConfig) *Server {
	s := &Server{
		engine:      engine,
		wsHub:       NewWebSocketHub(cfg.AllowedOrigins),
		rateLimiter: NewIPRateLimiter(RateLimitFromServer(cfg)),
	}

	s.router = NewRouter(RouterConfig{
		Engine:      engine,
		Runs:        runs,
		RateLimiter: s.rateLimiter,
		CORSOrigins: cfg.AllowedOrigins,
		APIToken:    cfg.APIToken,
	})

	// The hub instance is owned by the server, so its route is added here
	s.router.Get("/ws", s.wsHub.HandleWebSocket)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins the HTTP server AND starts background workers. It blocks
// until the server stops; after Shutdown it returns nil.
func (s *Server) Start() error {
	go s.wsHub.Run()
	s.wsHub.StartBroadcastLoop(s.engine)

	addr := s.httpServer.Addr
	log.WithField("addr", addr).Info("🌐 API server starting")
	log.Infof("🚦 Live state: ws://localhost%s/ws", addr)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Router returns the HTTP handler for use with httptest.
//
//	server := api.NewServer(engine, store.NewMemoryRepository(), config.DefaultServer())
//	ts := httptest.NewServer(server.Router())
//	defer ts.Close()
//	resp, _ := http.Get(ts.URL + "/api/stats")
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub exposes the WebSocket hub.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Shutdown stops accepting requests, closes WebSocket clients and stops
// background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsHub.Stop()
	s.rateLimiter.Stop()
	return s.httpServer.Shutdown(ctx)
}
