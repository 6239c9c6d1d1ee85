package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func postJSON(t *testing.T, handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
	return body
}

func TestCreateSessionValidation(t *testing.T) {
	env := newTestEnv(t, &stubDialer{}, newMemCreds())

	w := postJSON(t, env.handler.CreateSession, "/create-session", `{"phone": "15551234567"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing sessionId, got %d", w.Code)
	}

	w = postJSON(t, env.handler.CreateSession, "/create-session", `not-json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", w.Code)
	}
}

func TestCreateSessionReturnsQRURL(t *testing.T) {
	env := newTestEnv(t, &stubDialer{}, newMemCreds())

	w := postJSON(t, env.handler.CreateSession, "/create-session", `{"sessionId": "a"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["qrUrl"] != "/generate-qr?sessionId=a" {
		t.Errorf("Unexpected qrUrl: %v", body["qrUrl"])
	}
	if msg, _ := body["message"].(string); !strings.Contains(msg, "created") {
		t.Errorf("Unexpected message: %v", body["message"])
	}
}

func TestCreateSessionDuplicate(t *testing.T) {
	env := newTestEnv(t, &stubDialer{}, newMemCreds())

	if w := postJSON(t, env.handler.CreateSession, "/create-session", `{"sessionId": "a"}`); w.Code != http.StatusOK {
		t.Fatalf("First create failed: %d", w.Code)
	}

	w := postJSON(t, env.handler.CreateSession, "/create-session", `{"sessionId": "a"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for duplicate create, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if msg, _ := body["message"].(string); !strings.Contains(msg, "already exists") {
		t.Errorf("Unexpected message: %v", body["message"])
	}
}

func TestCreateSessionWithPhoneReturnsPairingCode(t *testing.T) {
	env := newTestEnv(t, &stubDialer{pairCode: "ABCD1234EFGH"}, newMemCreds())

	w := postJSON(t, env.handler.CreateSession, "/create-session", `{"sessionId": "a", "phone": "15551234567"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["pairingCode"] != "ABCD-1234-EFGH" {
		t.Errorf("Expected dash-grouped pairing code, got %v", body["pairingCode"])
	}
}

func TestPairValidation(t *testing.T) {
	env := newTestEnv(t, &stubDialer{}, newMemCreds())

	w := postJSON(t, env.handler.Pair, "/pair", `{"sessionId": "a"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing number, got %d", w.Code)
	}
}

func TestPairUnknownSession(t *testing.T) {
	env := newTestEnv(t, &stubDialer{}, newMemCreds())

	w := postJSON(t, env.handler.Pair, "/pair", `{"sessionId": "ghost", "number": "15551234567"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown session, got %d", w.Code)
	}
}

func TestPairAlreadyRegistered(t *testing.T) {
	creds := newMemCreds()
	creds.seed("a", []byte("auth-blob"), true)
	env := newTestEnv(t, &stubDialer{pairCode: "ABCD1234EFGH"}, creds)
	env.startSession(t, "a")

	w := postJSON(t, env.handler.Pair, "/pair", `{"sessionId": "a", "number": "15551234567"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for registered session, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPairReturnsFormattedCode(t *testing.T) {
	env := newTestEnv(t, &stubDialer{pairCode: "ABCD1234EFGH"}, newMemCreds())
	env.startSession(t, "a")

	w := postJSON(t, env.handler.Pair, "/pair", `{"sessionId": "a", "number": "15551234567"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["pairingCode"] != "ABCD-1234-EFGH" {
		t.Errorf("Expected ABCD-1234-EFGH, got %v", body["pairingCode"])
	}
}

func TestLogoutUnknownSession(t *testing.T) {
	env := newTestEnv(t, &stubDialer{}, newMemCreds())

	w := postJSON(t, env.handler.Logout, "/logout", `{"sessionId": "ghost"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestLogoutRemovesSession(t *testing.T) {
	env := newTestEnv(t, &stubDialer{}, newMemCreds())
	env.startSession(t, "a")

	w := postJSON(t, env.handler.Logout, "/logout", `{"sessionId": "a"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(env.registry.ListActive()) == 0
	}, "session removal after logout")
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t, &stubDialer{}, newMemCreds())
	env.startSession(t, "b")
	env.startSession(t, "a")

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	w := httptest.NewRecorder()
	env.handler.ListSessions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	active, _ := body["activeSessions"].([]interface{})
	if len(active) != 2 || active[0] != "a" || active[1] != "b" {
		t.Errorf("Expected sorted active sessions [a b], got %v", body["activeSessions"])
	}
}

func TestGenerateQRValidation(t *testing.T) {
	env := newTestEnv(t, &stubDialer{}, newMemCreds())

	req := httptest.NewRequest(http.MethodGet, "/generate-qr", nil)
	w := httptest.NewRecorder()
	env.handler.GenerateQR(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without sessionId, got %d", w.Code)
	}
}

func TestGenerateQRNoPendingArtifact(t *testing.T) {
	env := newTestEnv(t, &stubDialer{}, newMemCreds())

	req := httptest.NewRequest(http.MethodGet, "/generate-qr?sessionId=a", nil)
	w := httptest.NewRecorder()
	env.handler.GenerateQR(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 with no pending artifact, got %d", w.Code)
	}
}

func TestGenerateQRConsumesArtifact(t *testing.T) {
	env := newTestEnv(t, &stubDialer{}, newMemCreds())
	if err := env.artifacts.Publish("a", "raw-challenge"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/generate-qr?sessionId=a", nil)
	w := httptest.NewRecorder()
	env.handler.GenerateQR(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected HTML response, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "data:image/png;base64,") {
		t.Error("Expected embedded data URL in response")
	}

	// The artifact is consumed; polling again yields 404.
	w = httptest.NewRecorder()
	env.handler.GenerateQR(w, httptest.NewRequest(http.MethodGet, "/generate-qr?sessionId=a", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on second fetch, got %d", w.Code)
	}
}

func TestQRPageRequiresSessionID(t *testing.T) {
	env := newTestEnv(t, &stubDialer{}, newMemCreds())

	req := httptest.NewRequest(http.MethodGet, "/qr-page", nil)
	w := httptest.NewRecorder()
	env.handler.QRPage(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without sessionId, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	creds := newMemCreds()
	env := newTestEnv(t, &stubDialer{}, creds)

	w := httptest.NewRecorder()
	env.handler.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", body["status"])
	}
}

func TestHealthDegradedStorage(t *testing.T) {
	creds := newMemCreds()
	creds.pingErr = errors.New("database locked")
	env := newTestEnv(t, &stubDialer{}, creds)

	w := httptest.NewRecorder()
	env.handler.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "degraded" {
		t.Errorf("Expected degraded status, got %v", body["status"])
	}
}
