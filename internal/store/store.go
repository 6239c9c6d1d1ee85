// Package store provides durable credential persistence for sessions.
package store

import (
	"context"

	"github.com/ashureev/walink/internal/domain"
)

// CredentialStore persists per-session authentication state. Writes for one
// session id are serialized by the caller (the session's own event loop);
// implementations additionally guard against concurrent writers.
type CredentialStore interface {
	// Load retrieves the credential record for a session, creating an empty
	// record if none exists. It fails only on storage I/O errors, which are
	// fatal to starting that session.
	Load(ctx context.Context, sessionID string) (*domain.CredentialRecord, error)

	// Save upserts the credential blob and registration flag. Last write
	// wins; an error is retried on the next credential update, never fatal.
	Save(ctx context.Context, sessionID string, data []byte, registered bool) error

	// Delete purges all credential state for a session (terminal close).
	Delete(ctx context.Context, sessionID string) error

	// Ping verifies storage connectivity.
	Ping(ctx context.Context) error

	// Close closes the underlying storage.
	Close() error
}
