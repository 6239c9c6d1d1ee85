package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ashureev/walink/internal/domain"
	"github.com/ashureev/walink/web"
)

type createSessionRequest struct {
	SessionID string `json:"sessionId"`
	Phone     string `json:"phone"`
}

type pairRequest struct {
	SessionID string `json:"sessionId"`
	Number    string `json:"number"`
}

type logoutRequest struct {
	SessionID string `json:"sessionId"`
}

// CreateSession creates (or returns) the session for the given id. When a
// phone number is supplied and the credential is not yet registered, the
// response carries a pairing code instead of a QR URL.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		Error(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	sess, created, err := h.registry.GetOrCreate(r.Context(), req.SessionID)
	if err != nil {
		slog.Error("Failed to start session", "session_id", req.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	qrURL := "/generate-qr?sessionId=" + url.QueryEscape(req.SessionID)

	if !created {
		JSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("session %s already exists", req.SessionID),
			"qrUrl":   qrURL,
		})
		return
	}

	if req.Phone != "" && !sess.Registered() {
		code, err := h.registry.RequestPairingCode(r.Context(), req.SessionID, req.Phone)
		if err != nil {
			h.pairingError(w, req.SessionID, err)
			return
		}
		JSON(w, http.StatusOK, map[string]string{"pairingCode": code})
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("session %s created", req.SessionID),
		"qrUrl":   qrURL,
	})
}

// Pair requests a pairing code for an existing, unregistered session.
func (h *Handler) Pair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.Number == "" {
		Error(w, http.StatusBadRequest, "sessionId and number are required")
		return
	}

	code, err := h.registry.RequestPairingCode(r.Context(), req.SessionID, req.Number)
	if err != nil {
		h.pairingError(w, req.SessionID, err)
		return
	}

	JSON(w, http.StatusOK, map[string]string{"pairingCode": code})
}

func (h *Handler) pairingError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, domain.ErrAlreadyRegistered):
		Error(w, http.StatusBadRequest, "session is already linked")
	case errors.Is(err, domain.ErrSessionNotReady):
		Error(w, http.StatusConflict, "session connection is not ready")
	default:
		slog.Error("Pairing code request failed", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to generate pairing code")
	}
}

// Logout unlinks the session's device and removes it from the registry.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		Error(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	if err := h.registry.Logout(r.Context(), req.SessionID); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Error("Logout failed", "session_id", req.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to log out session")
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("session %s logged out", req.SessionID),
	})
}

// ListSessions returns the ids of all active sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"activeSessions": h.registry.ListActive(),
	})
}

// QRPage serves the polling page that fetches the QR artifact.
func (h *Handler) QRPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("sessionId") == "" {
		Error(w, http.StatusBadRequest, "sessionId query parameter is required")
		return
	}
	web.ServeQRPage(w)
}

// PairingPage serves the pairing code request form.
func (h *Handler) PairingPage(w http.ResponseWriter, r *http.Request) {
	web.ServePairingPage(w)
}

// GenerateQR returns inline HTML with the pending QR image embedded as a
// data URL. The artifact is consumed by the fetch; polling again before a
// new challenge arrives yields 404.
func (h *Handler) GenerateQR(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "sessionId query parameter is required")
		return
	}

	artifact, err := h.artifacts.Take(sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNoArtifact) {
			Error(w, http.StatusNotFound, "no QR code pending for this session")
			return
		}
		slog.Error("Failed to fetch linking artifact", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to fetch QR code")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<html>
	<body style="background:#111; color:#fff; text-align:center; padding:50px;">
		<h1>Scan this QR code</h1>
		<img src="%s" alt="QR code" />
		<p style="margin-top:20px; font-size:18px;">Open the app &gt; Linked devices &gt; Link a device</p>
	</body>
</html>`, artifact.DataURL())
}

// Health reports API and storage health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]interface{}{
		"status": "healthy",
		"checks": map[string]string{"api": "ok"},
	}
	statusCode := http.StatusOK

	if err := h.creds.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		status["checks"].(map[string]string)["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		status["checks"].(map[string]string)["database"] = "ok"
	}

	JSON(w, statusCode, status)
}
