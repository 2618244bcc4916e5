package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/btaudio/bridge/internal/apperrors"
	"github.com/btaudio/bridge/internal/audio"
	"github.com/btaudio/bridge/internal/cast"
	"github.com/btaudio/bridge/internal/pipeline"
	"github.com/btaudio/bridge/internal/storage"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// restartResponse is the JSON body for restart-style endpoints.
type restartResponse struct {
	Success   bool   `json:"success"`
	Attempts  int    `json:"attempts"`
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

func toRestartResponse(outcome pipeline.Outcome, err error) restartResponse {
	resp := restartResponse{Success: outcome.Success, Attempts: outcome.AttemptsUsed}
	if err != nil {
		resp.ErrorCode, resp.Error = apperrors.ToCodeAndMessage(err)
	}
	return resp
}

// handleRestart implements POST /api/restart: stop, settle, retry with the
// configured policy. Exhaustion is reported in the body, not as an HTTP
// error - the service itself is healthy either way.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	outcome, err := s.pipe.Restart(s.pipe.DefaultPolicy())
	writeJSON(w, http.StatusOK, toRestartResponse(outcome, err))
}

// handleSetSource implements POST /api/source {"source": "..."}: a manual
// capture-source override followed by a restart. An empty source restores
// automatic resolution.
func (s *Server) handleSetSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		coded := apperrors.InvalidMessage("malformed JSON body")
		writeJSON(w, http.StatusBadRequest, restartResponse{ErrorCode: coded.Code, Error: coded.Message})
		return
	}

	s.pipe.SetPreferredSource(body.Source)
	if body.Source == "" {
		s.pipe.RecordExternalEvent("source_override", "cleared, automatic resolution restored")
	} else {
		s.pipe.RecordExternalEvent("source_override", body.Source)
	}

	outcome, err := s.pipe.Restart(s.pipe.DefaultPolicy())
	writeJSON(w, http.StatusOK, toRestartResponse(outcome, err))
}

// sourcesResponse is the debug snapshot of the audio topology.
type sourcesResponse struct {
	Inputs        []audio.Source `json:"inputs"`
	Sinks         []audio.Sink   `json:"sinks"`
	DefaultSource string         `json:"default_source,omitempty"`
}

// handleSources implements GET /api/sources, a debug view of what the
// enumerator currently sees. Partial tool failures yield partial results.
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	enum := s.enum
	s.mu.RUnlock()
	if enum == nil {
		http.Error(w, "Source enumeration unavailable", http.StatusServiceUnavailable)
		return
	}

	var resp sourcesResponse
	if inputs, err := enum.Inputs(); err == nil {
		resp.Inputs = inputs
	}
	if sinks, err := enum.Sinks(); err == nil {
		resp.Sinks = sinks
	}
	if def, err := enum.DefaultSource(); err == nil {
		resp.DefaultSource = def
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDevices implements GET /api/devices: a bounded mDNS browse for
// cast receivers on the LAN.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	enabled := s.castEnabled
	timeout := s.castTimeout
	s.mu.RUnlock()

	if !enabled {
		http.Error(w, "Cast discovery is disabled", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	devices, err := cast.Discover(ctx)
	if err != nil {
		code, msg := apperrors.ToCodeAndMessage(apperrors.ToolFailed("cast discovery", err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error_code": code, "error": msg})
		return
	}
	if devices == nil {
		devices = []cast.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// handleEvents implements GET /api/events?limit=N over the persistent
// journal, newest first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store == nil {
		http.Error(w, "Event journal unavailable", http.StatusServiceUnavailable)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := store.Recent(limit)
	if err != nil {
		http.Error(w, "Failed to read event journal", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []storage.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
