// Package domain contains core domain types for the walink gateway.
package domain

import "time"

// SessionState describes where a device link is in its lifecycle.
type SessionState string

const (
	// StateStarting means credentials are loaded and a connection attempt
	// against the gateway is in flight.
	StateStarting SessionState = "starting"

	// StateLinkingRequired means the gateway issued a linking challenge and
	// is waiting for the user to scan a QR or enter a pairing code.
	StateLinkingRequired SessionState = "linking_required"

	// StateOpen means the connection is authenticated and usable.
	StateOpen SessionState = "open"

	// StateClosedRecoverable means the connection dropped for a transient
	// reason and the supervisor will re-dial with persisted credentials.
	StateClosedRecoverable SessionState = "closed_recoverable"

	// StateClosedTerminal means the link was logged out. Credentials are
	// purged and the session id is gone until a new create-session call.
	StateClosedTerminal SessionState = "closed_terminal"
)

// CloseReasonLoggedOut is the one close reason that terminates a session
// instead of triggering reconnection.
const CloseReasonLoggedOut = "logged out"

// CredentialRecord is the durable authentication state for one session.
// Data is an opaque blob owned by the protocol layer.
type CredentialRecord struct {
	SessionID  string
	Data       []byte
	Registered bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SessionInfo is the API-facing snapshot of a session.
type SessionInfo struct {
	SessionID  string       `json:"session_id"`
	State      SessionState `json:"state"`
	Registered bool         `json:"registered"`
}
