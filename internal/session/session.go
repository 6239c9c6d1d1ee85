// Package session owns the mapping from session ids to live protocol
// connections and drives each connection's lifecycle.
package session

import (
	"context"
	"sync"

	"github.com/ashureev/walink/internal/domain"
	"github.com/ashureev/walink/internal/transport"
)

// Session is one logical device link with its live connection handle.
// The supervisor owns all mutations; everything else reads snapshots.
type Session struct {
	id string

	mu         sync.RWMutex
	state      domain.SessionState
	conn       transport.Conn
	registered bool
}

func newSession(id string) *Session {
	return &Session{id: id, state: domain.StateStarting}
}

// ID returns the caller-supplied session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Registered reports whether the session's credential is registered with the
// remote service.
func (s *Session) Registered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registered
}

// Info returns an API-facing snapshot.
func (s *Session) Info() domain.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.SessionInfo{
		SessionID:  s.id,
		State:      s.state,
		Registered: s.registered,
	}
}

// Send delivers an outbound message on the session's connection. It fails
// with ErrSessionNotReady unless the connection is open.
func (s *Session) Send(ctx context.Context, chatID string, msg domain.OutboundMessage) error {
	s.mu.RLock()
	conn := s.conn
	state := s.state
	s.mu.RUnlock()

	if conn == nil || state != domain.StateOpen {
		return domain.ErrSessionNotReady
	}
	return conn.SendMessage(ctx, chatID, msg)
}

// RequestPairingCode asks the gateway for a raw pairing code. The connection
// must be live and the credential must not be registered yet; a registered
// session is rejected before any gateway call.
func (s *Session) RequestPairingCode(ctx context.Context, phoneNumber string) (string, error) {
	s.mu.RLock()
	conn := s.conn
	state := s.state
	registered := s.registered
	s.mu.RUnlock()

	if conn == nil || state == domain.StateClosedRecoverable || state == domain.StateClosedTerminal {
		return "", domain.ErrSessionNotReady
	}
	if registered {
		return "", domain.ErrAlreadyRegistered
	}
	return conn.RequestPairingCode(ctx, phoneNumber)
}

func (s *Session) attach(conn transport.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.state = domain.StateStarting
	s.mu.Unlock()
}

func (s *Session) setState(state domain.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) setRegistered(registered bool) {
	s.mu.Lock()
	s.registered = registered
	s.mu.Unlock()
}

func (s *Session) connection() transport.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}
