package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/walink/internal/command"
	"github.com/ashureev/walink/internal/config"
	"github.com/ashureev/walink/internal/domain"
	"github.com/ashureev/walink/internal/linking"
	"github.com/ashureev/walink/internal/media"
	"github.com/ashureev/walink/internal/session"
	"github.com/ashureev/walink/internal/transport"
)

// stubConn is a transport.Conn whose behavior tests script up front.
type stubConn struct {
	events chan transport.Event

	mu        sync.Mutex
	sent      int
	sendErr   error
	pairCode  string
	pairErr   error
	closeOnce sync.Once
}

func newStubConn() *stubConn {
	return &stubConn{events: make(chan transport.Event, 16)}
}

func (c *stubConn) Events() <-chan transport.Event { return c.events }

func (c *stubConn) emit(ev transport.Event) { c.events <- ev }

func (c *stubConn) SendMessage(ctx context.Context, chatID string, msg domain.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent++
	return nil
}

func (c *stubConn) RequestPairingCode(ctx context.Context, phoneNumber string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pairCode, c.pairErr
}

func (c *stubConn) Logout(ctx context.Context) error { return nil }

func (c *stubConn) Close() error {
	c.closeOnce.Do(func() {
		c.events <- transport.CloseEvent{Reason: "connection error"}
		close(c.events)
	})
	return nil
}

func (c *stubConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

// stubDialer hands out stubConns preconfigured with pairCode / sendErr.
type stubDialer struct {
	mu       sync.Mutex
	pairCode string
	sendErr  error
	conns    []*stubConn
}

func (d *stubDialer) Dial(ctx context.Context, sessionID string, creds *domain.CredentialRecord) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := newStubConn()
	conn.pairCode = d.pairCode
	conn.sendErr = d.sendErr
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *stubDialer) lastConn() *stubConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// memCreds is an in-memory store.CredentialStore.
type memCreds struct {
	mu      sync.Mutex
	records map[string]*domain.CredentialRecord
	pingErr error
}

func newMemCreds() *memCreds {
	return &memCreds{records: make(map[string]*domain.CredentialRecord)}
}

func (s *memCreds) Load(ctx context.Context, sessionID string) (*domain.CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		rec = &domain.CredentialRecord{SessionID: sessionID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
		s.records[sessionID] = rec
	}
	cp := *rec
	return &cp, nil
}

func (s *memCreds) Save(ctx context.Context, sessionID string, data []byte, registered bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[sessionID] = &domain.CredentialRecord{SessionID: sessionID, Data: data, Registered: registered}
	return nil
}

func (s *memCreds) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, sessionID)
	return nil
}

func (s *memCreds) Ping(ctx context.Context) error { return s.pingErr }
func (s *memCreds) Close() error                   { return nil }

func (s *memCreds) seed(sessionID string, data []byte, registered bool) {
	s.mu.Lock()
	s.records[sessionID] = &domain.CredentialRecord{SessionID: sessionID, Data: data, Registered: registered}
	s.mu.Unlock()
}

// testEnv bundles a handler with the fakes behind it.
type testEnv struct {
	handler   *Handler
	registry  *session.Registry
	artifacts *linking.Cache
	dialer    *stubDialer
	creds     *memCreds
}

func newTestEnv(t *testing.T, dialer *stubDialer, creds *memCreds) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	artifacts := linking.NewCache()
	rc := config.ReconnectConfig{
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		MaxElapsedTime:  time.Minute,
	}
	registry := session.NewRegistry(ctx, dialer, creds, artifacts, command.NewDispatcher(), rc)
	bridge := media.NewBridge(registry)
	cfg := &config.Config{
		Port:        "3000",
		DBPath:      "ignored",
		UploadDir:   t.TempDir(),
		GatewayURL:  "ws://gateway",
		ArtifactTTL: time.Minute,
		Reconnect:   rc,
	}

	return &testEnv{
		handler:   NewHandler(registry, artifacts, bridge, creds, cfg),
		registry:  registry,
		artifacts: artifacts,
		dialer:    dialer,
		creds:     creds,
	}
}

// startSession creates a session and brings its connection to the open state.
func (e *testEnv) startSession(t *testing.T, sessionID string) {
	t.Helper()
	sess, _, err := e.registry.GetOrCreate(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Failed to start session %s: %v", sessionID, err)
	}

	e.dialer.lastConn().emit(transport.OpenEvent{})
	waitFor(t, time.Second, func() bool { return sess.State() == domain.StateOpen }, "session to open")
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
