package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/walink/internal/domain"
	"github.com/ashureev/walink/internal/transport"
)

// fakeConn is a scriptable transport.Conn. Tests feed events through emit
// and end the stream with closeNow.
type fakeConn struct {
	events chan transport.Event

	mu        sync.Mutex
	sent      []sentMessage
	pairCode  string
	pairErr   error
	pairCalls int
	loggedOut bool

	closeOnce   sync.Once
	closeReason string
}

type sentMessage struct {
	chatID string
	msg    domain.OutboundMessage
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan transport.Event, 16), closeReason: "connection error"}
}

func (c *fakeConn) Events() <-chan transport.Event { return c.events }

func (c *fakeConn) emit(ev transport.Event) {
	c.events <- ev
}

// closeNow emits a CloseEvent with the given reason and closes the stream,
// mirroring the real connection's shutdown sequence.
func (c *fakeConn) closeNow(reason string) {
	c.closeOnce.Do(func() {
		c.events <- transport.CloseEvent{Reason: reason}
		close(c.events)
	})
}

func (c *fakeConn) SendMessage(ctx context.Context, chatID string, msg domain.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentMessage{chatID: chatID, msg: msg})
	return nil
}

func (c *fakeConn) RequestPairingCode(ctx context.Context, phoneNumber string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairCalls++
	return c.pairCode, c.pairErr
}

func (c *fakeConn) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.loggedOut = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeNow(c.closeReason)
	return nil
}

func (c *fakeConn) sentMessages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) pairingCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pairCalls
}

// fakeDialer hands out fakeConns and records the credentials each dial saw.
type fakeDialer struct {
	mu        sync.Mutex
	dialDelay time.Duration
	dialErr   error
	conns     []*fakeConn
	credsSeen [][]byte
	pairCode  string
}

func (d *fakeDialer) Dial(ctx context.Context, sessionID string, creds *domain.CredentialRecord) (transport.Conn, error) {
	if d.dialDelay > 0 {
		select {
		case <-time.After(d.dialDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}

	conn := newFakeConn()
	conn.pairCode = d.pairCode
	d.conns = append(d.conns, conn)
	d.credsSeen = append(d.credsSeen, creds.Data)
	return conn, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) setDialErr(err error) {
	d.mu.Lock()
	d.dialErr = err
	d.mu.Unlock()
}

// fakeStore is an in-memory store.CredentialStore.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*domain.CredentialRecord
	deleted []string
	loadErr error
	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*domain.CredentialRecord)}
}

func (s *fakeStore) Load(ctx context.Context, sessionID string) (*domain.CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	rec, ok := s.records[sessionID]
	if !ok {
		rec = &domain.CredentialRecord{SessionID: sessionID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
		s.records[sessionID] = rec
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) Save(ctx context.Context, sessionID string, data []byte, registered bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.records[sessionID] = &domain.CredentialRecord{
		SessionID:  sessionID,
		Data:       data,
		Registered: registered,
		UpdatedAt:  time.Now(),
	}
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, sessionID)
	s.deleted = append(s.deleted, sessionID)
	return nil
}

func (s *fakeStore) Ping(ctx context.Context) error { return nil }
func (s *fakeStore) Close() error                   { return nil }

func (s *fakeStore) deletedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.deleted))
	copy(out, s.deleted)
	return out
}

func (s *fakeStore) record(sessionID string) *domain.CredentialRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[sessionID]; ok {
		cp := *rec
		return &cp
	}
	return nil
}

func (s *fakeStore) seed(sessionID string, data []byte, registered bool) {
	s.mu.Lock()
	s.records[sessionID] = &domain.CredentialRecord{
		SessionID:  sessionID,
		Data:       data,
		Registered: registered,
	}
	s.mu.Unlock()
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", msg)
}
