package http

import (
	"net/http"
	"time"
)

// ClientCounter reports the current number of registered connections.
type ClientCounter interface {
	ClientCount() int
}

// HealthHandler handles health check requests
type HealthHandler struct {
	hub       ClientCounter
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(hub ClientCounter, version string) *HealthHandler {
	return &HealthHandler{
		hub:       hub,
		startTime: time.Now(),
		version:   version,
	}
}

// healthResponse is the broker health report.
type healthResponse struct {
	OK      bool `json:"ok"`
	Clients int  `json:"clients"`
}

// HandleHealth handles GET /healthz. Side-effect-free.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, healthResponse{
		OK:      true,
		Clients: h.hub.ClientCount(),
	})
}

// HandleLiveness handles liveness probe requests (is the service running?)
// Used by Kubernetes to know when to restart a container
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	response := struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
		Version   string `json:"version,omitempty"`
		Uptime    string `json:"uptime,omitempty"`
	}{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}

	WriteJSON(w, http.StatusOK, response)
}
