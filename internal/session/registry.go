package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"wa-gateway/internal/helper"

	"github.com/google/uuid"
	waLog "go.mau.fi/whatsmeow/util/log"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

// Registry is the process-wide directory of sessions, keyed by session id.
// It is an injected instance, not a package-level map, so tests can build
// isolated registries. Create/Delete are serialized behind the write lock;
// List is a snapshot and may lag an in-flight mutation.
type Registry struct {
	dialer Dialer
	tuning Tuning
	log    waLog.Logger

	// standard handler set registered on every new session
	defaultHandlers []namedHandler

	// optional realtime status listener (websocket hub in production)
	onStatusChange func(Status)

	// delay before connecting restored sessions, lets all of them finish
	// constructing before flooding the transport layer
	startupConnectDelay time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry builds an empty registry. Call RestoreSessions afterwards to
// rehydrate previously persisted sessions.
func NewRegistry(dialer Dialer, tuning Tuning, log waLog.Logger) *Registry {
	if log == nil {
		log = waLog.Noop
	}
	return &Registry{
		dialer:              dialer,
		tuning:              tuning,
		log:                 log,
		startupConnectDelay: time.Second,
		sessions:            make(map[string]*Session),
	}
}

// AddDefaultHandler registers a handler that every session created or
// restored by this registry gets, e.g. the bot and webhook handlers.
func (r *Registry) AddDefaultHandler(name string, fn Handler) {
	r.defaultHandlers = append(r.defaultHandlers, namedHandler{name: name, fn: fn})
}

// SetStatusListener wires a callback invoked on every session status
// change. Must be called before sessions are created.
func (r *Registry) SetStatusListener(fn func(Status)) {
	r.onStatusChange = fn
}

// SetStartupConnectDelay overrides the delay before restored sessions
// attempt to reconnect.
func (r *Registry) SetStartupConnectDelay(d time.Duration) {
	r.startupConnectDelay = d
}

func (r *Registry) newSessionLocked(id string) *Session {
	s := newSession(id, r.dialer, r.tuning, r.log.Sub(id))
	s.onStatusChange = r.onStatusChange
	for _, h := range r.defaultHandlers {
		s.AddHandler(h.name, h.fn)
	}
	r.sessions[id] = s
	return s
}

// Create registers a new session under id (generated when empty) and kicks
// off a connect in the default QR mode.
func (r *Registry) Create(id string) (*Session, error) {
	s, err := r.add(id)
	if err != nil {
		return nil, err
	}
	s.Connect()
	return s, nil
}

// CreateWithMode validates the mode/phone combination, registers the
// session and connects under that mode.
func (r *Registry) CreateWithMode(id string, mode LoginMode, phoneNumber string) (*Session, error) {
	// Validate before construction so a bad request leaves no session
	// behind.
	if mode == LoginModePairing && helper.DigitsOnly(phoneNumber) == "" {
		return nil, ErrPhoneRequired
	}
	if mode != LoginModeQR && mode != LoginModePairing {
		return nil, ErrInvalidLoginMode
	}

	s, err := r.add(id)
	if err != nil {
		return nil, err
	}
	if err := s.ConnectWithMode(mode, phoneNumber); err != nil {
		// cannot happen after the validation above, but keep the session
		// out of the map if it ever does
		r.remove(s.ID())
		s.stop()
		return nil, err
	}
	return s, nil
}

func (r *Registry) add(id string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return nil, ErrSessionExists
	}
	return r.newSessionLocked(id), nil
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Get looks a session up by id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns status snapshots of all sessions.
func (r *Registry) List() []Status {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	statuses := make([]Status, 0, len(all))
	for _, s := range all {
		statuses = append(statuses, s.Status())
	}
	return statuses
}

// ActiveCount reports how many sessions are currently connected.
func (r *Registry) ActiveCount() int {
	count := 0
	for _, st := range r.List() {
		if st.ConnectionState == StateConnected {
			count++
		}
	}
	return count
}

// Delete logs the session out, removes it from the registry and stops its
// dispatch loop. Returns false when the id is unknown.
func (r *Registry) Delete(ctx context.Context, id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	if err := s.Logout(ctx); err != nil {
		r.log.Warnf("logout error while deleting session %s: %v", id, err)
	}
	s.stop()
	return true
}

// SwitchLoginMode forces a disconnect of any active connection, clears the
// login artifacts and reconnects under the new mode.
func (r *Registry) SwitchLoginMode(id string, mode LoginMode, phoneNumber string) (*Session, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	st := s.Status().ConnectionState
	if st == StateConnected || st == StateConnecting {
		s.Disconnect()
	}
	if err := s.ConnectWithMode(mode, phoneNumber); err != nil {
		return nil, err
	}
	return s, nil
}

// Reconnect triggers an immediate connect attempt for the session.
func (r *Registry) Reconnect(id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	s.Connect()
	return nil
}

// RestoreSessions scans durable storage for previously persisted session
// ids and rebuilds each one in QR mode, not yet connected. Only sessions
// whose stored credential bundle validates get a delayed connect attempt.
func (r *Registry) RestoreSessions(ctx context.Context) error {
	ids, err := r.dialer.StoredSessions(ctx)
	if err != nil {
		return err
	}
	r.log.Infof("found %d saved sessions in storage", len(ids))

	for _, id := range ids {
		r.mu.Lock()
		if _, exists := r.sessions[id]; exists {
			r.mu.Unlock()
			continue
		}
		s := r.newSessionLocked(id)
		r.mu.Unlock()
		r.log.Infof("loaded existing session: %s", id)

		if r.dialer.HasValidCredentials(ctx, id) {
			time.AfterFunc(r.startupConnectDelay, func() {
				if s.Status().ConnectionState != StateConnected {
					s.Connect()
				}
			})
		} else {
			r.log.Infof("no valid auth for session %s, waiting for login", id)
		}
	}
	return nil
}

// ShutdownAll closes every session's transport, best effort, for process
// termination. Credentials stay intact so the sessions come back on the
// next start.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		r.log.Infof("closing session: %s", s.ID())
		s.Disconnect()
		s.stop()
	}
}
