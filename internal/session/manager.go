package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"kxfer.org/internal/apiclient"
	"kxfer.org/internal/audit"
	"kxfer.org/internal/auth"
	"kxfer.org/internal/obs"
	"kxfer.org/internal/stream"
)

// State is the Manager's lifecycle state.
type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
)

func (s State) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Purge reasons, also used as metric labels.
const (
	ReasonLogout       = "logout"
	ReasonUnauthorized = "unauthorized"
	ReasonStale        = "stale"
	ReasonExpired      = "expired"
	ReasonReplaced     = "replaced"
)

// Backend is the identity side of the REST API.
type Backend interface {
	Login(ctx context.Context, username, password string) (auth.LoginResult, error)
	CurrentUser(ctx context.Context, cred auth.Credential) (auth.User, error)
}

// Manager owns the process's single session. All transitions to
// Unauthenticated go through purge.
type Manager struct {
	backend Backend
	store   TokenStore
	events  *stream.Stream
	now     func() time.Time

	mu      sync.Mutex
	cred    *auth.Credential
	epoch   uint64
	pending int
	hooks   []func(auth.Credential)
}

// Option configures a Manager.
type Option func(*Manager)

// WithEvents publishes lifecycle events to s instead of a private stream.
func WithEvents(s *stream.Stream) Option {
	return func(m *Manager) {
		if s != nil {
			m.events = s
		}
	}
}

// WithClock overrides the time source used for the local expiry check.
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager wires a manager to its backend and token store.
func NewManager(backend Backend, store TokenStore, opts ...Option) *Manager {
	m := &Manager{
		backend: backend,
		store:   store,
		events:  stream.New(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Login authenticates and commits the session. On failure the previous state
// is left untouched and nothing is written to the token store.
func (m *Manager) Login(ctx context.Context, username, password string) (auth.Credential, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return auth.Credential{}, fmt.Errorf("%w: username and password are required", auth.ErrInvalidInput)
	}

	m.begin()
	defer m.done()

	res, err := m.backend.Login(ctx, username, password)
	if err != nil {
		if errors.Is(err, auth.ErrAuthentication) {
			_ = audit.LogEvent(ctx, audit.EventLoginFailed, map[string]any{"username": username})
			return auth.Credential{}, auth.ErrAuthentication
		}
		return auth.Credential{}, fmt.Errorf("login: %w", err)
	}
	if err := res.User.Validate(); err != nil {
		return auth.Credential{}, fmt.Errorf("login: backend returned an unusable profile: %w", err)
	}

	m.mu.Lock()
	if err := m.store.Save(res.AccessToken); err != nil {
		m.mu.Unlock()
		return auth.Credential{}, fmt.Errorf("login: %w", err)
	}
	replaced, hooks := m.endLocked()
	cred := m.commitLocked(res.AccessToken, res.User)
	m.mu.Unlock()

	if replaced != nil {
		m.finishEnd(*replaced, hooks, ReasonReplaced)
	}
	m.events.Publish(stream.Event{Kind: stream.KindLogin, Username: cred.User.Username, Epoch: cred.Epoch})
	_ = audit.LogEvent(auth.ContextWithUser(ctx, cred.User), audit.EventLoginSucceeded, map[string]any{
		"role": cred.User.Role,
	})
	return cred, nil
}

// Resume restores a session from the token store.
func (m *Manager) Resume(ctx context.Context) (auth.User, error) {
	m.mu.Lock()
	if m.cred != nil {
		u := m.cred.User
		m.mu.Unlock()
		return u, nil
	}
	token, err := m.store.Load()
	if err != nil {
		m.mu.Unlock()
		return auth.User{}, fmt.Errorf("resume: %w", err)
	}
	if token == "" {
		m.mu.Unlock()
		return auth.User{}, auth.ErrNotAuthenticated
	}
	m.pending++
	m.mu.Unlock()
	defer m.done()

	if exp, ok := auth.TokenExpiry(token); ok && !exp.After(m.now()) {
		m.discardStored(token, ReasonExpired)
		return auth.User{}, auth.ErrSessionInvalid
	}

	u, err := m.backend.CurrentUser(ctx, auth.Credential{Token: token})
	switch {
	case errors.Is(err, apiclient.ErrUnauthorized), errors.Is(err, apiclient.ErrNotFound):
		m.discardStored(token, ReasonStale)
		return auth.User{}, auth.ErrSessionInvalid
	case err != nil:
		return auth.User{}, fmt.Errorf("resume: %w", err)
	}
	if err := u.Validate(); err != nil {
		m.discardStored(token, ReasonStale)
		return auth.User{}, auth.ErrSessionInvalid
	}

	m.mu.Lock()
	if m.cred != nil {
		// A login committed while we were resolving; it wins.
		winner := m.cred.User
		m.mu.Unlock()
		return winner, nil
	}
	cred := m.commitLocked(token, u)
	m.mu.Unlock()

	m.events.Publish(stream.Event{Kind: stream.KindResume, Username: u.Username, Epoch: cred.Epoch})
	return u, nil
}

// Logout ends the session. Calling it without a session is a no-op.
func (m *Manager) Logout() {
	m.mu.Lock()
	if m.cred == nil {
		err := m.store.Clear()
		m.mu.Unlock()
		if err != nil {
			obs.Log("warn", "clear token store", map[string]any{"err": err})
		}
		return
	}
	ended, hooks := m.purgeLocked()
	m.mu.Unlock()
	m.finishEnd(*ended, hooks, ReasonLogout)
}

// Invalidate is the transport's 401 hook. It purges only if cred belongs to
// the current session, so concurrent 401s purge once and a late 401 from an
// earlier session leaves a newer one alone.
func (m *Manager) Invalidate(cred auth.Credential) {
	m.mu.Lock()
	if m.cred == nil || m.cred.Epoch != cred.Epoch || m.cred.Token != cred.Token {
		m.mu.Unlock()
		return
	}
	ended, hooks := m.purgeLocked()
	m.mu.Unlock()
	m.finishEnd(*ended, hooks, ReasonUnauthorized)
}

// State reports the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.cred != nil:
		return Authenticated
	case m.pending > 0:
		return Authenticating
	default:
		return Unauthenticated
	}
}

// Credential returns the committed session.
func (m *Manager) Credential() (auth.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return auth.Credential{}, auth.ErrNotAuthenticated
	}
	return *m.cred, nil
}

// User returns the committed user, if any.
func (m *Manager) User() (auth.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return auth.User{}, false
	}
	return m.cred.User, true
}

// IsCurrent reports whether epoch is the live session's epoch.
func (m *Manager) IsCurrent(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred != nil && m.cred.Epoch == epoch
}

// HasPermission is the advisory UI check for the current user.
func (m *Manager) HasPermission(required int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return auth.HasPermission(nil, required)
	}
	u := m.cred.User
	return auth.HasPermission(&u, required)
}

// OnSessionEnd registers fn to run after a session ends, with the ended credential.
func (m *Manager) OnSessionEnd(fn func(auth.Credential)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.hooks = append(m.hooks, fn)
	m.mu.Unlock()
}

// Events returns the lifecycle event stream.
func (m *Manager) Events() *stream.Stream { return m.events }

func (m *Manager) begin() {
	m.mu.Lock()
	m.pending++
	m.mu.Unlock()
}

func (m *Manager) done() {
	m.mu.Lock()
	m.pending--
	m.mu.Unlock()
}

func (m *Manager) commitLocked(token string, u auth.User) auth.Credential {
	m.epoch++
	cred := auth.Credential{Token: token, User: u, Epoch: m.epoch}
	m.cred = &cred
	return cred
}

// endLocked drops the committed session without touching the token store.
func (m *Manager) endLocked() (*auth.Credential, []func(auth.Credential)) {
	if m.cred == nil {
		return nil, nil
	}
	ended := m.cred
	m.cred = nil
	m.epoch++
	return ended, append([]func(auth.Credential){}, m.hooks...)
}

// purgeLocked is the single teardown routine: token store cleared, session
// dropped and epoch advanced.
func (m *Manager) purgeLocked() (*auth.Credential, []func(auth.Credential)) {
	if err := m.store.Clear(); err != nil {
		obs.Log("error", "clear token store", map[string]any{"err": err})
	}
	ended, hooks := m.endLocked()
	if ended == nil {
		m.epoch++
	}
	return ended, hooks
}

// discardStored purges a stored token that never became a session.
func (m *Manager) discardStored(token, reason string) {
	m.mu.Lock()
	if m.cred != nil {
		m.mu.Unlock()
		return
	}
	m.purgeLocked()
	m.mu.Unlock()
	m.finishEnd(auth.Credential{Token: token}, nil, reason)
}

func (m *Manager) finishEnd(ended auth.Credential, hooks []func(auth.Credential), reason string) {
	for _, fn := range hooks {
		fn(ended)
	}
	obs.RecordSessionPurge(reason)
	m.events.Publish(stream.Event{Kind: stream.KindEnded, Username: ended.User.Username, Epoch: ended.Epoch, Reason: reason})

	ctx := context.Background()
	if ended.User.Username != "" {
		ctx = auth.ContextWithUser(ctx, ended.User)
	}
	_ = audit.LogEvent(ctx, audit.EventSessionPurged, map[string]any{"reason": reason, "epoch": ended.Epoch})
	obs.Log("info", "session ended", map[string]any{"reason": reason, "username": ended.User.Username})
}
