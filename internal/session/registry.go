package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/ashureev/walink/internal/command"
	"github.com/ashureev/walink/internal/config"
	"github.com/ashureev/walink/internal/domain"
	"github.com/ashureev/walink/internal/linking"
	"github.com/ashureev/walink/internal/store"
	"github.com/ashureev/walink/internal/transport"
	"golang.org/x/sync/singleflight"
)

// Registry is the process-wide map from session id to its supervisor. It
// enforces at most one live connection per id; concurrent creations for the
// same unseen id collapse into a single dial (single-flight).
type Registry struct {
	runCtx     context.Context
	dialer     transport.Dialer
	creds      store.CredentialStore
	artifacts  *linking.Cache
	dispatcher *command.Dispatcher
	reconnect  config.ReconnectConfig

	mu       sync.RWMutex
	sessions map[string]*Supervisor
	group    singleflight.Group
}

// NewRegistry creates an empty registry. runCtx bounds the lifetime of every
// supervisor event loop; canceling it stops all sessions.
func NewRegistry(
	runCtx context.Context,
	dialer transport.Dialer,
	creds store.CredentialStore,
	artifacts *linking.Cache,
	dispatcher *command.Dispatcher,
	reconnect config.ReconnectConfig,
) *Registry {
	return &Registry{
		runCtx:     runCtx,
		dialer:     dialer,
		creds:      creds,
		artifacts:  artifacts,
		dispatcher: dispatcher,
		reconnect:  reconnect,
		sessions:   make(map[string]*Supervisor),
	}
}

// createResult is what one single-flight creation hands back to its callers.
type createResult struct {
	sup     *Supervisor
	created bool
}

// GetOrCreate returns the existing live session for the id, or creates and
// starts a new one. The caller awaits readiness or startup failure. created
// reports whether this call (or a concurrent duplicate it joined) started
// the session.
func (r *Registry) GetOrCreate(ctx context.Context, sessionID string) (sess *Session, created bool, err error) {
	if sup := r.lookup(sessionID); sup != nil {
		return sup.Session(), false, nil
	}

	v, err, _ := r.group.Do(sessionID, func() (interface{}, error) {
		res, err := r.create(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		return nil, false, err
	}

	res := v.(createResult)
	return res.sup.Session(), res.created, nil
}

// create runs inside the single-flight group. The re-check catches a flight
// that finished between the caller's fast-path lookup and this one starting;
// such callers see created=false like any other duplicate.
func (r *Registry) create(ctx context.Context, sessionID string) (createResult, error) {
	if sup := r.lookup(sessionID); sup != nil {
		return createResult{sup: sup}, nil
	}

	sup := newSupervisor(sessionID, r.dialer, r.creds, r.artifacts, r.dispatcher, r.reconnect, r.remove)
	if err := sup.Start(ctx, r.runCtx); err != nil {
		return createResult{}, err
	}

	r.mu.Lock()
	r.sessions[sessionID] = sup
	r.mu.Unlock()
	slog.Info("Session registered", "session_id", sessionID)

	return createResult{sup: sup, created: true}, nil
}

// Get returns the live session for an id, or ErrSessionNotFound.
func (r *Registry) Get(sessionID string) (*Session, error) {
	sup := r.lookup(sessionID)
	if sup == nil {
		return nil, domain.ErrSessionNotFound
	}
	return sup.Session(), nil
}

// ListActive returns the ids of all live sessions, sorted.
func (r *Registry) ListActive() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// RequestPairingCode validates the session and asks the gateway for a code,
// returning it in dash-grouped form.
func (r *Registry) RequestPairingCode(ctx context.Context, sessionID, phoneNumber string) (string, error) {
	sup := r.lookup(sessionID)
	if sup == nil {
		return "", domain.ErrSessionNotFound
	}

	raw, err := sup.Session().RequestPairingCode(ctx, phoneNumber)
	if err != nil {
		return "", err
	}
	return linking.FormatPairingCode(raw), nil
}

// Send delivers an outbound message on the named session's connection.
func (r *Registry) Send(ctx context.Context, sessionID, chatID string, msg domain.OutboundMessage) error {
	sess, err := r.Get(sessionID)
	if err != nil {
		return err
	}
	return sess.Send(ctx, chatID, msg)
}

// Logout unlinks the session's device and removes the entry. The supervisor
// purges credentials on its way out.
func (r *Registry) Logout(ctx context.Context, sessionID string) error {
	sup := r.lookup(sessionID)
	if sup == nil {
		return domain.ErrSessionNotFound
	}
	sup.Logout(ctx)
	return nil
}

// Shutdown stops every supervisor and waits for their event loops to exit.
// Meant for process shutdown after the run context has been canceled.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sups := make([]*Supervisor, 0, len(r.sessions))
	for _, sup := range r.sessions {
		sups = append(sups, sup)
	}
	r.mu.Unlock()

	for _, sup := range sups {
		sup.Stop()
	}
}

func (r *Registry) lookup(sessionID string) *Supervisor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

// remove is handed to supervisors so terminal closes drop the registry entry.
func (r *Registry) remove(sessionID string) {
	r.mu.Lock()
	if _, ok := r.sessions[sessionID]; ok {
		delete(r.sessions, sessionID)
		slog.Info("Session removed", "session_id", sessionID)
	}
	r.mu.Unlock()
}
