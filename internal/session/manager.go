// Package session tracks the active account of a client context. A Manager
// holds at most one session; a Registry holds one Manager per client context
// and relays trust changes to them.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-trust/internal/account"
	"github.com/ovaphlow/pitchfork/service-trust/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-trust/internal/apperr"
)

// ErrNoSession is returned by operations that need a logged-in account.
var ErrNoSession = fmt.Errorf("no active session: %w", apperr.ErrUnauthenticated)

// SignupNotifier receives a fire-and-forget notice for every signup. It must
// not block and has no way to fail the signup.
type SignupNotifier interface {
	Notify(email, credential string)
}

// Manager owns the single session of one client context.
type Manager struct {
	store    *account.Store
	notifier SignupNotifier
	logger   *zap.SugaredLogger

	mu      sync.RWMutex
	key     string
	current *entity.View
	// version of the account behind current; loginVersion and suspendedAt
	// are what the account looked like when the session began.
	version      int64
	loginVersion int64
	suspendedAt  *time.Time
}

func NewManager(store *account.Store, notifier SignupNotifier, logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{store: store, notifier: notifier, logger: logger}
}

// Login authenticates against the account store and starts a session.
// Unknown accounts fail with NOT_FOUND, wrong credentials with
// INVALID_CREDENTIAL; a failed login leaves any existing session untouched.
func (m *Manager) Login(ctx context.Context, email, credential string) (entity.View, error) {
	a, err := m.store.Find(ctx, email)
	if err != nil {
		m.logger.Debugw("login failed", "email", email, "err", err)
		return entity.View{}, err
	}
	if !m.store.Verify(a, credential) {
		m.logger.Debugw("login failed", "email", a.Key, "err", apperr.ErrInvalidCredential)
		return entity.View{}, fmt.Errorf("login %s: %w", a.Key, apperr.ErrInvalidCredential)
	}
	return m.begin(a), nil
}

// Signup creates the account, starts a session for it and notifies the
// signup recorder.
func (m *Manager) Signup(ctx context.Context, email, credential string) (entity.View, error) {
	a, err := m.store.Create(ctx, email, credential)
	if err != nil {
		m.logger.Debugw("signup failed", "email", email, "err", err)
		return entity.View{}, err
	}
	if m.notifier != nil {
		m.notifier.Notify(a.Email, credential)
	}
	m.logger.Infow("account created", "email", a.Key, "role", a.Role)
	return m.begin(a), nil
}

// Logout clears the session. Calling it without a session is a no-op.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clear()
}

// Current returns a copy of the session projection.
func (m *Manager) Current() (entity.View, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return entity.View{}, false
	}
	return *m.current, true
}

// Email returns the identity key of the active session, or "".
func (m *Manager) Email() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.key
}

// Refresh reloads the projection from the store. A session whose account
// was suspended after it began ends here, which is how a suspension
// committed by another process reaches this one.
func (m *Manager) Refresh(ctx context.Context) (entity.View, error) {
	key := m.Email()
	if key == "" {
		return entity.View{}, ErrNoSession
	}
	a, err := m.store.Find(ctx, key)
	if err != nil {
		return entity.View{}, err
	}
	m.AccountChanged(a, false)
	v, ok := m.Current()
	if !ok {
		return entity.View{}, ErrNoSession
	}
	return v, nil
}

// UpdateProfile edits the profile of the logged-in account.
func (m *Manager) UpdateProfile(ctx context.Context, p entity.Profile) (entity.View, error) {
	key := m.Email()
	if key == "" {
		return entity.View{}, ErrNoSession
	}
	a, err := m.store.UpdateProfile(ctx, key, p)
	if err != nil {
		return entity.View{}, err
	}
	m.AccountChanged(a, false)
	return a.View(), nil
}

// AccountChanged keeps the projection in step with a committed account.
// Notifications can arrive out of order, so an account older than the one
// already projected is not applied. The session ends when forceLogout is set
// or the account was suspended since login, unless the change predates the
// login itself.
func (m *Manager) AccountChanged(a *entity.Account, forceLogout bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.key != a.Key {
		return
	}
	if (forceLogout || m.suspendedSinceLogin(a)) && a.Version > m.loginVersion {
		m.logger.Infow("session ended by trust change", "email", a.Key, "status", a.Status, "version", a.Version)
		m.clear()
		return
	}
	if a.Version < m.version {
		m.logger.Debugw("stale account change ignored", "email", a.Key, "version", a.Version, "held", m.version)
		return
	}
	v := a.View()
	m.current = &v
	m.version = a.Version
}

func (m *Manager) suspendedSinceLogin(a *entity.Account) bool {
	if !a.IsBad() || a.SuspensionDate == nil {
		return false
	}
	return m.suspendedAt == nil || !a.SuspensionDate.Equal(*m.suspendedAt)
}

func (m *Manager) clear() {
	m.key = ""
	m.current = nil
	m.version = 0
	m.loginVersion = 0
	m.suspendedAt = nil
}

func (m *Manager) begin(a *entity.Account) entity.View {
	v := a.View()
	m.mu.Lock()
	m.key = a.Key
	m.current = &v
	m.version = a.Version
	m.loginVersion = a.Version
	m.suspendedAt = nil
	if a.SuspensionDate != nil {
		d := *a.SuspensionDate
		m.suspendedAt = &d
	}
	m.mu.Unlock()
	return v
}
