// This file implements the status HTTP endpoint for CLI queries.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/btaudio/bridge/internal/state"
)

// StatusResponse contains bridge status information returned by /status.
// This structure is used by the CLI to display status to the user.
type StatusResponse struct {
	// ListeningAddress is the address the bridge is listening on.
	ListeningAddress string `json:"listening_address"`

	// StreamPath is the URL path of the encoded stream.
	StreamPath string `json:"stream_path"`

	// ConnectedClients is the number of connected WebSocket clients.
	ConnectedClients int `json:"connected_clients"`

	// UptimeSeconds is how long the server has been running, in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Pipeline is the current pipeline snapshot.
	Pipeline state.Snapshot `json:"pipeline"`
}

// StatusHandler handles HTTP requests for bridge status.
// This endpoint is restricted to local machine addresses: the LAN-facing
// surface is the stream and the WebSocket feed, not the CLI view.
type StatusHandler struct {
	server *Server
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(s *Server) *StatusHandler {
	return &StatusHandler{server: s}
}

// ServeHTTP handles GET /status with a JSON StatusResponse.
// Non-local requests receive HTTP 403; non-GET methods receive HTTP 405.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isLoopbackRequest(r) {
		http.Error(w, "Forbidden: status endpoint is local-only", http.StatusForbidden)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.server.mu.RLock()
	start := h.server.startTime
	streamPath := h.server.streamPath
	h.server.mu.RUnlock()

	var uptime int64
	if !start.IsZero() {
		uptime = int64(time.Since(start).Seconds())
	}

	resp := StatusResponse{
		ListeningAddress: h.server.Addr(),
		StreamPath:       streamPath,
		ConnectedClients: h.server.ClientCount(),
		UptimeSeconds:    uptime,
		Pipeline:         h.server.pipe.Snapshot(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
