// Package opsapi is the ambient health/metrics/live-event HTTP surface
// (SPEC_FULL §2.1) — deliberately thin, not the dashboard/REST trading API
// spec.md excludes as an external collaborator. Grounded on
// internal/api/server.go's router/cors/httpServer wiring, trimmed to the
// three endpoints an operator needs: liveness, Prometheus scrape, and a
// websocket feed of Signal/Trade/Order/RecoveryEvent activity.
package opsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas/equities-core/pkg/types"
)

// StateProvider reads the process-singleton SystemState for the health
// endpoint; implemented by internal/store.
type StateProvider interface {
	GetSystemState(ctx context.Context) (types.SystemState, error)
}

// Server is the ops HTTP/WebSocket surface.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*client
	state      StateProvider
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Event is one live item broadcast to connected websocket clients.
type Event struct {
	Type      string      `json:"type"` // signal | trade | order | recovery
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// NewServer constructs the ops server. Router and routes are wired
// immediately so tests can exercise them without Start().
func NewServer(logger *zap.Logger, cfg *types.ServerConfig, state StateProvider) *Server {
	s := &Server{
		logger:  logger,
		config:  cfg,
		router:  mux.NewRouter(),
		clients: make(map[string]*client),
		state:   state,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/live", s.handleWebSocket)
}

// Router exposes the underlying mux.Router for tests that want to drive
// requests directly via httptest without a live listener.
func (s *Server) Router() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}).Handler(s.router)
}

// Start begins serving on config.Host:config.Port; blocks until the
// server errors or Stop is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.logger.Info("starting ops API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server down, closing any live websocket
// connections first.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state, err := s.state.GetSystemState(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":               state.Status,
		"lastHeartbeat":        state.LastHeartbeat,
		"activePositionsCount": state.ActivePositionsCount,
		"totalPortfolioValue":  state.TotalPortfolioValue.String(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{id: r.RemoteAddr, conn: conn, send: make(chan []byte, 256)}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	go s.writePump(c)
	go s.readPump(c)
}

func (s *Server) readPump(c *client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast publishes ev to every connected live client, dropping it for
// any client whose send buffer is full.
func (s *Server) Broadcast(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}
