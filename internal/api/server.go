// Package api serves the latest luminance readings over HTTP and streams new
// ones over a WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bryanchriswhite/lumad/internal/config"
	"github.com/bryanchriswhite/lumad/internal/controller"
	"github.com/bryanchriswhite/lumad/internal/logger"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

const shutdownTimeout = 5 * time.Second

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	recorder  *controller.Recorder
	configMgr *config.Manager
	upgrader  websocket.Upgrader
	log       *zerolog.Logger
}

// NewServer creates a new API server
func NewServer(recorder *controller.Recorder, configMgr *config.Manager) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		recorder:  recorder,
		configMgr: configMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local status API, any origin may read it
			},
		},
		log: logger.WithComponent("api"),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Readings
	api.HandleFunc("/outputs", s.handleGetOutputs).Methods("GET")
	api.HandleFunc("/outputs/{name}", s.handleGetOutput).Methods("GET")
	api.HandleFunc("/stream", s.handleStream)

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the routed handler with CORS headers
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until ctx is cancelled
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("API server shutdown failed")
		}
	})
	defer stop()

	s.log.Info().Int("port", port).Msgf("Starting API on http://localhost:%d", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return ctx.Err()
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("Failed to write response")
	}
}

// HTTP Handlers

func (s *Server) handleGetOutputs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.recorder.Readings())
}

func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	reading, ok := s.recorder.Latest(name)
	if !ok {
		http.Error(w, fmt.Sprintf("No reading for output %q", name), http.StatusNotFound)
		return
	}
	s.writeJSON(w, reading)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	// Subscribe to new readings
	updates := s.recorder.Subscribe()
	defer s.recorder.Unsubscribe(updates)

	// Notice the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Send the current readings first
	for _, reading := range s.recorder.Readings() {
		if err := conn.WriteJSON(reading); err != nil {
			s.log.Debug().Err(err).Msg("WebSocket write error")
			return
		}
	}

	// Stream updates
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case reading, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(reading); err != nil {
				s.log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.configMgr.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}
