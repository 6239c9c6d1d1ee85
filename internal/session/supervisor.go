package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ashureev/walink/internal/command"
	"github.com/ashureev/walink/internal/config"
	"github.com/ashureev/walink/internal/domain"
	"github.com/ashureev/walink/internal/linking"
	"github.com/ashureev/walink/internal/store"
	"github.com/ashureev/walink/internal/transport"
	"github.com/cenkalti/backoff/v4"
)

// Supervisor owns one session's connection: it opens it, consumes its event
// stream, applies the reconnect policy on recoverable closes, and tears the
// session down on a logged-out close.
type Supervisor struct {
	session    *Session
	dialer     transport.Dialer
	creds      store.CredentialStore
	artifacts  *linking.Cache
	dispatcher *command.Dispatcher
	policy     *backoff.ExponentialBackOff
	onRemove   func(sessionID string)

	loggingOut atomic.Bool
	cancel     context.CancelFunc
	done       chan struct{}
}

func newSupervisor(
	id string,
	dialer transport.Dialer,
	creds store.CredentialStore,
	artifacts *linking.Cache,
	dispatcher *command.Dispatcher,
	rc config.ReconnectConfig,
	onRemove func(sessionID string),
) *Supervisor {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = rc.InitialInterval
	policy.MaxInterval = rc.MaxInterval
	policy.MaxElapsedTime = rc.MaxElapsedTime

	return &Supervisor{
		session:    newSession(id),
		dialer:     dialer,
		creds:      creds,
		artifacts:  artifacts,
		dispatcher: dispatcher,
		policy:     policy,
		onRemove:   onRemove,
		done:       make(chan struct{}),
	}
}

// Session returns the supervised session.
func (s *Supervisor) Session() *Session {
	return s.session
}

// Start loads credentials and opens the first connection synchronously, so
// the caller observes startup failures directly. The event loop then runs in
// its own goroutine under runCtx, which outlives the originating request.
func (s *Supervisor) Start(ctx, runCtx context.Context) error {
	id := s.session.ID()

	rec, err := s.creds.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("load credentials for %s: %w", id, err)
	}
	s.session.setRegistered(rec.Registered)

	conn, err := s.dialer.Dial(ctx, id, rec)
	if err != nil {
		return fmt.Errorf("open connection for %s: %w", id, err)
	}
	s.session.attach(conn)
	slog.Info("Session starting", "session_id", id, "registered", rec.Registered)

	loopCtx, cancel := context.WithCancel(runCtx)
	s.cancel = cancel
	go s.run(loopCtx, conn)

	return nil
}

// Logout asks the gateway to unlink the device and forces the session onto
// the terminal path even if the gateway never acknowledges.
func (s *Supervisor) Logout(ctx context.Context) {
	s.loggingOut.Store(true)

	if conn := s.session.connection(); conn != nil {
		if err := conn.Logout(ctx); err != nil {
			slog.Warn("Logout request failed, closing anyway", "session_id", s.session.ID(), "error", err)
		}
		if err := conn.Close(); err != nil {
			slog.Debug("Failed to close connection on logout", "session_id", s.session.ID(), "error", err)
		}
	}
}

// Stop cancels the event loop without unlinking (process shutdown) and waits
// for it to exit. Stopping a supervisor that never started is a no-op.
func (s *Supervisor) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// run is the per-session event loop: consume events until close, then either
// terminate or re-dial under the backoff policy. It is the only writer of
// session state, which keeps per-session event handling in arrival order.
func (s *Supervisor) run(ctx context.Context, conn transport.Conn) {
	defer close(s.done)
	id := s.session.ID()

	for {
		reason, shutdown := s.consume(ctx, conn)
		if shutdown {
			slog.Info("Session loop stopped", "session_id", id)
			return
		}

		if s.loggingOut.Load() || reason == domain.CloseReasonLoggedOut {
			s.terminate(ctx)
			return
		}

		s.session.setState(domain.StateClosedRecoverable)
		s.artifacts.Invalidate(id)
		slog.Warn("Connection closed, will reconnect", "session_id", id, "reason", reason)

		next, ok := s.reconnect(ctx)
		if !ok {
			return
		}
		// A logout may have raced the re-dial; the terminal path wins.
		if s.loggingOut.Load() {
			if err := next.Close(); err != nil {
				slog.Debug("Failed to close connection after logout", "session_id", id, "error", err)
			}
			s.terminate(ctx)
			return
		}
		conn = next
	}
}

// consume processes the connection's event stream until it closes. The
// returned shutdown flag is set when the loop context was canceled.
func (s *Supervisor) consume(ctx context.Context, conn transport.Conn) (reason string, shutdown bool) {
	id := s.session.ID()

	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok {
				return "connection error", false
			}

			switch e := ev.(type) {
			case transport.ChallengeEvent:
				s.session.setState(domain.StateLinkingRequired)
				if err := s.artifacts.Publish(id, e.Challenge); err != nil {
					slog.Error("Failed to publish linking artifact", "session_id", id, "error", err)
				}

			case transport.OpenEvent:
				s.session.setState(domain.StateOpen)
				s.artifacts.Invalidate(id)
				s.policy.Reset()
				slog.Info("Session open", "session_id", id)

			case transport.CredentialsEvent:
				// A failed save is retried on the next credential update
				// rather than terminating the connection.
				if err := s.creds.Save(ctx, id, e.Data, e.Registered); err != nil {
					slog.Error("Failed to persist credentials", "session_id", id, "error", err)
				}
				s.session.setRegistered(e.Registered)

			case transport.MessageEvent:
				s.dispatch(ctx, e.Inbound)

			case transport.CloseEvent:
				return e.Reason, false
			}

		case <-ctx.Done():
			if err := conn.Close(); err != nil {
				slog.Debug("Failed to close connection on shutdown", "session_id", id, "error", err)
			}
			return "", true
		}
	}
}

// reconnect waits out the backoff policy and re-dials with the persisted
// credential. A nil connection with ok=false means the session gave up or
// the process is shutting down.
func (s *Supervisor) reconnect(ctx context.Context) (transport.Conn, bool) {
	id := s.session.ID()

	for {
		wait := s.policy.NextBackOff()
		if wait == backoff.Stop {
			slog.Error("Reconnect policy exhausted, giving up", "session_id", id)
			s.session.setState(domain.StateClosedTerminal)
			s.onRemove(id)
			return nil, false
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, false
		}

		// A logout issued while the backoff was pending must terminate the
		// session, not re-dial it.
		if s.loggingOut.Load() {
			s.terminate(ctx)
			return nil, false
		}

		s.session.setState(domain.StateStarting)

		rec, err := s.creds.Load(ctx, id)
		if err != nil {
			slog.Error("Failed to reload credentials for reconnect", "session_id", id, "error", err)
			continue
		}

		conn, err := s.dialer.Dial(ctx, id, rec)
		if err != nil {
			slog.Warn("Reconnect dial failed", "session_id", id, "error", err)
			continue
		}

		s.session.attach(conn)
		slog.Info("Session reconnecting", "session_id", id)
		return conn, true
	}
}

// terminate handles a logged-out close: purge credentials, drop any pending
// artifact, and remove the registry entry. The session id is unusable until
// a new create-session call.
func (s *Supervisor) terminate(ctx context.Context) {
	id := s.session.ID()
	s.session.setState(domain.StateClosedTerminal)
	s.artifacts.Invalidate(id)

	if err := s.creds.Delete(ctx, id); err != nil {
		slog.Error("Failed to purge credentials", "session_id", id, "error", err)
	}
	s.onRemove(id)
	slog.Info("Session logged out", "session_id", id)
}

func (s *Supervisor) dispatch(ctx context.Context, in domain.InboundEvent) {
	inv := &command.Invocation{
		SessionID: s.session.ID(),
		ChatID:    in.ChatID,
		Text:      in.Text,
		Reply: func(ctx context.Context, text string) error {
			return s.session.Send(ctx, in.ChatID, domain.TextMessage(text))
		},
	}
	s.dispatcher.Dispatch(ctx, inv)
}
