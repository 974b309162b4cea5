package app

import (
	"github.com/gorilla/mux"

	"wearable-connector/internal/handlers"
	"wearable-connector/internal/middleware"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers) {
	router.Use(middleware.Logging)

	// Health check
	router.HandleFunc("/health", h.HandleHealth).Methods("GET")

	v1 := router.PathPrefix("/v1").Subrouter()

	// Webhook intake, one endpoint per vendor
	v1.HandleFunc("/webhooks/{vendor}", h.HandleWebhook).Methods("POST")

	// OAuth flow
	v1.HandleFunc("/oauth/{vendor}/authorize", h.HandleAuthorize).Methods("GET")
	v1.HandleFunc("/oauth/{vendor}/callback", h.HandleCallback).Methods("GET", "POST")
	v1.HandleFunc("/oauth/{vendor}/disconnect", h.HandleDisconnect).Methods("DELETE")

	// Data access
	v1.HandleFunc("/data/{vendor}/{user_id}/{resource_type}", h.HandleFetchData).Methods("GET")
	v1.HandleFunc("/data/{vendor}/{user_id}/{resource_type}/{resource_id}", h.HandleFetchData).Methods("GET")
	v1.HandleFunc("/ratelimit/{vendor}/{user_id}", h.HandleRateLimitStatus).Methods("GET")

	// Manual pulls
	v1.HandleFunc("/pull/{vendor}/{user_id}", h.HandlePull).Methods("POST")
	v1.HandleFunc("/pull", h.HandlePullAll).Methods("POST")
}
