// Package transport defines the boundary to the external chat protocol and
// provides the websocket gateway implementation. The session layer only sees
// Dialer and Conn; the wire format stays in here.
package transport

import (
	"context"

	"github.com/ashureev/walink/internal/domain"
)

// Event is a decoded lifecycle or message event emitted by a connection.
type Event interface {
	isEvent()
}

// ChallengeEvent carries a raw linking challenge. A fresh challenge
// supersedes any previous one for the same connection.
type ChallengeEvent struct {
	Challenge string
}

// OpenEvent signals the connection is authenticated and usable.
type OpenEvent struct{}

// CredentialsEvent carries updated authentication material to persist.
type CredentialsEvent struct {
	Data       []byte
	Registered bool
}

// MessageEvent carries one decoded inbound message.
type MessageEvent struct {
	Inbound domain.InboundEvent
}

// CloseEvent is the last event on a connection and carries the close reason.
type CloseEvent struct {
	Reason string
}

func (ChallengeEvent) isEvent()   {}
func (OpenEvent) isEvent()        {}
func (CredentialsEvent) isEvent() {}
func (MessageEvent) isEvent()     {}
func (CloseEvent) isEvent()       {}

// Dialer opens protocol connections for sessions.
type Dialer interface {
	// Dial opens a connection authenticated with the given credential
	// record. The returned Conn owns the socket until its event channel is
	// closed.
	Dial(ctx context.Context, sessionID string, creds *domain.CredentialRecord) (Conn, error)
}

// Conn is one live protocol connection.
type Conn interface {
	// Events returns the event stream. The channel is closed after a
	// CloseEvent has been delivered.
	Events() <-chan Event

	// SendMessage sends an outbound message to a chat.
	SendMessage(ctx context.Context, chatID string, msg domain.OutboundMessage) error

	// RequestPairingCode asks the gateway for a raw pairing code for the
	// given phone number. Only valid while the credential is unregistered.
	RequestPairingCode(ctx context.Context, phoneNumber string) (string, error)

	// Logout asks the gateway to unlink the device. The gateway follows up
	// with a close event carrying the logged-out reason.
	Logout(ctx context.Context) error

	// Close tears the socket down without unlinking.
	Close() error
}
