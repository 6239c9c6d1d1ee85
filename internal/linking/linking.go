// Package linking manages linking artifacts: rendered QR codes pending a
// scan, and pairing-code formatting.
package linking

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/walink/internal/domain"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	qrImageSize    = 256
	sweepInterval  = 30 * time.Second
	pairingGroupSz = 4
)

// Artifact is a rendered QR code pending a scan for one session.
type Artifact struct {
	SessionID string
	Payload   string
	PNG       []byte
	CreatedAt time.Time
}

// DataURL returns the PNG as an embeddable data URL.
func (a *Artifact) DataURL() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(a.PNG)
}

// Cache holds at most one pending artifact per session. Artifacts are
// ephemeral and do not survive a restart.
type Cache struct {
	mu        sync.Mutex
	artifacts map[string]*Artifact
}

// NewCache creates an empty artifact cache.
func NewCache() *Cache {
	return &Cache{artifacts: make(map[string]*Artifact)}
}

// Publish renders the raw challenge to a QR image and stores it, replacing
// any previous artifact for the session.
func (c *Cache) Publish(sessionID, challenge string) error {
	png, err := qrcode.Encode(challenge, qrcode.Medium, qrImageSize)
	if err != nil {
		return fmt.Errorf("render qr for session %s: %w", sessionID, err)
	}

	c.mu.Lock()
	c.artifacts[sessionID] = &Artifact{
		SessionID: sessionID,
		Payload:   challenge,
		PNG:       png,
		CreatedAt: time.Now(),
	}
	c.mu.Unlock()

	slog.Info("Linking artifact published", "session_id", sessionID)
	return nil
}

// Take returns the pending artifact for a session and removes it, so each
// artifact is fetchable exactly once.
func (c *Cache) Take(sessionID string) (*Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.artifacts[sessionID]
	if !ok {
		return nil, domain.ErrNoArtifact
	}
	delete(c.artifacts, sessionID)
	return a, nil
}

// Invalidate drops any pending artifact for a session.
func (c *Cache) Invalidate(sessionID string) {
	c.mu.Lock()
	if _, ok := c.artifacts[sessionID]; ok {
		delete(c.artifacts, sessionID)
		slog.Debug("Linking artifact invalidated", "session_id", sessionID)
	}
	c.mu.Unlock()
}

// StartSweeper runs a background goroutine that drops artifacts older than
// ttl. Challenges expire on the gateway side too; keeping a stale QR around
// only invites scanning a dead code.
func (c *Cache) StartSweeper(ctx context.Context, ttl time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Artifact sweeper started", "interval", sweepInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				c.sweep(ttl)
			case <-ctx.Done():
				slog.Info("Artifact sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (c *Cache) sweep(ttl time.Duration) {
	threshold := time.Now().Add(-ttl)

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, a := range c.artifacts {
		if a.CreatedAt.Before(threshold) {
			delete(c.artifacts, id)
			slog.Info("Expired linking artifact dropped", "session_id", id)
		}
	}
}

// FormatPairingCode splits a raw pairing code into groups of four characters
// joined by dashes. The transform is pure and deterministic; a code whose
// length is not a multiple of four keeps its shorter final group.
func FormatPairingCode(raw string) string {
	if raw == "" {
		return ""
	}
	var groups []string
	for i := 0; i < len(raw); i += pairingGroupSz {
		end := i + pairingGroupSz
		if end > len(raw) {
			end = len(raw)
		}
		groups = append(groups, raw[i:end])
	}
	return strings.Join(groups, "-")
}
