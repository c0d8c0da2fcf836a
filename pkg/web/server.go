// Package web serves the thin JSON status API the dashboard consumes.
// It renders no HTML; it only exposes state and routes configuration
// edits through the same single-writer store the display uses.
package web

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/capceri/Tube-measurement/pkg/config"
	"github.com/capceri/Tube-measurement/pkg/state"
)

// Server exposes station state and configuration over HTTP.
type Server struct {
	store *config.Store
	state *state.Store
	logs  *state.LogRing
	log   zerolog.Logger
}

// NewServer creates a Server.
func NewServer(store *config.Store, st *state.Store, logs *state.LogRing, log zerolog.Logger) *Server {
	return &Server{store: store, state: st, logs: logs, log: log}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/config", s.handleConfig)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("POST /api/targets", s.handleSetTargets)
	mux.HandleFunc("POST /api/offsets", s.handleSetOffsets)
	mux.HandleFunc("POST /api/save", s.handleSave)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.state.Snapshot())
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.store.Snapshot())
}

func (s *Server) handleLogs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.logs.Snapshot())
}

// handleSetTargets applies target edits. The body is a JSON object of
// target field names to millimeter values, e.g. {"d1_target": 31.3436}.
func (s *Server) handleSetTargets(w http.ResponseWriter, r *http.Request) {
	var updates map[string]float64
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.UpdateTargetsMM(updates); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.log.Info().Interface("updates", updates).Msg("targets updated via web")
	w.WriteHeader(http.StatusNoContent)
}

// handleSetOffsets replaces the channel offsets. The body is a JSON array
// of eight millimeter values.
func (s *Server) handleSetOffsets(w http.ResponseWriter, r *http.Request) {
	var offsets []float64
	if err := json.NewDecoder(r.Body).Decode(&offsets); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.UpdateOffsetsMM(offsets); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.log.Info().Msg("offsets updated via web")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSave(w http.ResponseWriter, _ *http.Request) {
	if err := s.store.Save(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("status API encode failed")
	}
}
