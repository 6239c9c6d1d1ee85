// Package api provides the HTTP control surface for the gateway.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/walink/internal/config"
	"github.com/ashureev/walink/internal/linking"
	"github.com/ashureev/walink/internal/media"
	"github.com/ashureev/walink/internal/session"
	"github.com/ashureev/walink/internal/store"
	"github.com/go-chi/chi/v5"
)

// Handler holds the dependencies shared by all endpoints.
type Handler struct {
	registry  *session.Registry
	artifacts *linking.Cache
	bridge    *media.Bridge
	creds     store.CredentialStore
	cfg       *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(registry *session.Registry, artifacts *linking.Cache, bridge *media.Bridge, creds store.CredentialStore, cfg *config.Config) *Handler {
	return &Handler{
		registry:  registry,
		artifacts: artifacts,
		bridge:    bridge,
		creds:     creds,
		cfg:       cfg,
	}
}

// RegisterRoutes registers all control-surface routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/create-session", h.CreateSession)
	r.Post("/pair", h.Pair)
	r.Post("/logout", h.Logout)
	r.Get("/sessions", h.ListSessions)
	r.Get("/qr-page", h.QRPage)
	r.Get("/pairing-page", h.PairingPage)
	r.Get("/generate-qr", h.GenerateQR)
	r.Post("/upload-photo", h.UploadPhoto)
	r.Get("/health", h.Health)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
