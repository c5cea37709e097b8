// Package server exposes the pipeline over HTTP: JSON status endpoints for
// operators plus a websocket stream of live bus traffic.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/justmebob123/autonomy-sub005/internal/bus"
	"github.com/justmebob123/autonomy-sub005/internal/objective"
	"github.com/justmebob123/autonomy-sub005/internal/state"
	"github.com/justmebob123/autonomy-sub005/internal/store"
)

// Server serves the pipeline API. All handlers are read-only: the control
// loop stays the single writer.
type Server struct {
	states     *state.Manager
	objectives *objective.Manager
	bus        *bus.Bus
	store      store.Store
	hub        *WSHub
	mux        *http.ServeMux
	log        *zap.Logger
}

// New wires the server. The store may be nil (dry runs); run endpoints then
// report 404.
func New(states *state.Manager, objectives *objective.Manager, b *bus.Bus, st store.Store, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		states:     states,
		objectives: objectives,
		bus:        b,
		store:      st,
		hub:        NewWSHub(b, log),
		mux:        http.NewServeMux(),
		log:        log,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/state", s.handleState)
	s.mux.HandleFunc("/api/objectives", s.handleObjectives)
	s.mux.HandleFunc("/api/runs", s.handleRuns)
	s.mux.HandleFunc("/api/runs/{id}/phases", s.handlePhaseRuns)
	s.mux.HandleFunc("/ws", s.hub.HandleWebSocket)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves until the listener fails. The hub's fan-out loop runs on its
// own goroutine.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	s.log.Info("http server listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, s.mux)
}

// Close stops the websocket hub.
func (s *Server) Close() { s.hub.Close() }

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("encode response failed", zap.Error(err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  s.states.RunID(),
		"summary": s.states.Summary(),
		"bus":     s.bus.Statistics(),
	})
}

// handleState returns the full serialized pipeline state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	blob, err := s.states.Serialize()
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(blob)
}

func (s *Server) handleObjectives(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.objectives.AssessAll())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no store attached"})
		return
	}
	runs, err := s.store.ListRuns()
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

// handlePhaseRuns serves /api/runs/{id}/phases.
func (s *Server) handlePhaseRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no store attached"})
		return
	}
	runID := r.PathValue("id")
	if runID == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing run id"})
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.store.ListPhaseRuns(runID, limit)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
			return
		}
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}
