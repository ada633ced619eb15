// Package api is the client-facing HTTP front door: a mux-based
// api.Server generalized from a direct storage/coordinator caller into a
// poster of client messages onto a node's mailbox, replying once the
// node's dispatcher (internal/node) answers on a Reply channel.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/ringkv/ringkv/internal/config"
	"github.com/ringkv/ringkv/internal/membership"
	"github.com/ringkv/ringkv/internal/node"
)

// Server is the client-facing HTTP API server.
type Server struct {
	config     *config.Config
	router     *mux.Router
	httpServer *http.Server
	node       *node.Node
	membership *membership.Engine
	startTime  time.Time
}

// NewServer creates a new API server fronting node.
func NewServer(cfg *config.Config, n *node.Node, engine *membership.Engine) *Server {
	s := &Server{
		config:     cfg,
		router:     mux.NewRouter(),
		node:       n,
		membership: engine,
		startTime:  time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(loggingMiddleware)
	s.router.Use(recoveryMiddleware)
	s.router.Use(corsMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/kv/{key}", s.handleGet).Methods("GET")
	s.router.HandleFunc("/kv/{key}", s.handlePut).Methods("PUT", "POST")

	s.router.HandleFunc("/cluster/leave", s.handleLeave).Methods("POST")
	s.router.HandleFunc("/admin/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/admin/ring", s.handleRing).Methods("GET")
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := s.config.Address
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting client API server on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	log.Println("Shutting down client API server...")
	return s.httpServer.Shutdown(ctx)
}

// Uptime returns the server uptime duration.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// GetRouter returns the mux router (for testing).
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
