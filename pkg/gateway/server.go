// Package gateway exposes the engine's event feed over WebSocket so a UI
// or log shipper can follow a run live. Frames are sequence-numbered JSON.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/maestro-cli/maestro/internal/observability"
	"github.com/maestro-cli/maestro/pkg/events"
)

// Server serves the WebSocket event feed plus metrics and health endpoints
type Server struct {
	host        string
	port        int
	server      *http.Server
	upgrader    websocket.Upgrader
	clients     *ClientRegistry
	broadcaster *EventBroadcaster
	emitter     *events.Emitter
	logger      zerolog.Logger

	pumpDone chan struct{}
	pumpWG   sync.WaitGroup
	stopOnce sync.Once
}

// Config holds server configuration
type Config struct {
	Host    string
	Port    int
	Emitter *events.Emitter
	Logger  zerolog.Logger
}

// NewServer creates a new event gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Emitter == nil {
		return nil, fmt.Errorf("emitter is required")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	clients := NewClientRegistry()

	return &Server{
		host:        cfg.Host,
		port:        cfg.Port,
		clients:     clients,
		broadcaster: NewEventBroadcaster(clients, cfg.Logger),
		emitter:     cfg.Emitter,
		logger:      cfg.Logger,
		pumpDone:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Start starts the gateway server and the event pump
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/clients", s.handleClients)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: mux,
	}

	s.logger.Info().Str("host", s.host).Int("port", s.port).Msg("Starting event gateway")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	s.pumpWG.Add(1)
	go s.pumpEvents()

	return nil
}

// Stop shuts the server down and drains the event pump
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.pumpDone)

		for _, client := range s.clients.GetAll() {
			client.Conn.Close()
			s.clients.Remove(client.ID)
		}

		if s.server != nil {
			err = s.server.Shutdown(ctx)
		}
		s.pumpWG.Wait()
		s.logger.Info().Msg("Event gateway stopped")
	})
	return err
}

// ClientCount returns the number of connected subscribers
func (s *Server) ClientCount() int {
	return s.clients.Count()
}

// handleClients lists the connected subscribers as JSON
func (s *Server) handleClients(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.clients.GetConnectedClients()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write client listing")
	}
}

// pumpEvents forwards engine events to all subscribers until stopped or
// the emitter closes its channel
func (s *Server) pumpEvents() {
	defer s.pumpWG.Done()

	for {
		select {
		case ev, ok := <-s.emitter.Events():
			if !ok {
				return
			}
			s.broadcaster.Broadcast(string(ev.Type), ev)
		case <-s.pumpDone:
			return
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	clientID, err := gonanoid.New()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate client id")
		conn.Close()
		return
	}

	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		IPAddress:    r.RemoteAddr,
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("remote", r.RemoteAddr).
		Int("clients", s.clients.Count()).
		Msg("Client connected")

	go s.readLoop(client)
}

// readLoop drains client frames so pings and close messages are handled;
// subscribers are read-only, inbound payloads are ignored
func (s *Server) readLoop(client *Client) {
	defer func() {
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().
			Str("clientId", client.ID).
			Int("clients", s.clients.Count()).
			Msg("Client disconnected")
	}()

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			return
		}
		s.clients.UpdateActivity(client.ID)
	}
}
