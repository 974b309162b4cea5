package handlers

import (
	"context"
	"net/http"
	"time"
)

// HandleHealth reports process liveness and the configured vendors
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	configured := make([]string, 0, len(h.bases))
	for vendor := range h.bases {
		configured = append(configured, string(vendor))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
		"vendors":   configured,
	})
}

// HandlePullAll kicks off a background sync sweep across every
// connected user of every vendor
func (h *Handlers) HandlePullAll(w http.ResponseWriter, r *http.Request) {
	if h.puller == nil {
		http.Error(w, "scheduled pulls are not configured", http.StatusServiceUnavailable)
		return
	}

	// the sweep must outlive this request
	go h.puller.PullAll(context.Background())

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "pull started",
	})
}
