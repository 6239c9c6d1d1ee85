package domain

import "errors"

// Sentinel errors shared across the API and session layers. The API layer
// maps these to HTTP status codes with errors.Is.
var (
	// ErrSessionNotFound means no live session exists for the given id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionNotReady means the session exists but its connection is not
	// open yet.
	ErrSessionNotReady = errors.New("session not ready")

	// ErrAlreadyRegistered means a pairing code was requested for a session
	// whose credential is already registered.
	ErrAlreadyRegistered = errors.New("session already registered")

	// ErrNoArtifact means no linking artifact is pending for the session.
	ErrNoArtifact = errors.New("no linking artifact pending")
)
