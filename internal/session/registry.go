package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-trust/internal/account"
	"github.com/ovaphlow/pitchfork/service-trust/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-trust/pkg/utilities"
)

type slot struct {
	m    *Manager
	seen time.Time
}

// Registry maps client-context ids to their Manager. It is the observer
// handed to the trust engine.
type Registry struct {
	store    *account.Store
	notifier SignupNotifier
	logger   *zap.SugaredLogger
	now      func() time.Time

	mu    sync.Mutex
	slots map[string]*slot
}

func NewRegistry(store *account.Store, notifier SignupNotifier, logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{store: store, notifier: notifier, logger: logger, now: time.Now, slots: make(map[string]*slot)}
}

// Open creates a new client context and returns its id.
func (r *Registry) Open() (string, *Manager) {
	id := utilities.NewKSUID()
	m := NewManager(r.store, r.notifier, r.logger.With("session", id))
	r.mu.Lock()
	r.slots[id] = &slot{m: m, seen: r.now()}
	r.mu.Unlock()
	return id, m
}

// Get returns the manager of a client context and marks it as used.
func (r *Registry) Get(id string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, false
	}
	s.seen = r.now()
	return s.m, true
}

// Close logs the context out and forgets it.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	s, ok := r.slots[id]
	delete(r.slots, id)
	r.mu.Unlock()
	if ok {
		s.m.Logout()
	}
}

// Len reports the number of open client contexts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Sweep closes contexts unused for longer than idle and returns how many
// were dropped.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.now().Add(-idle)
	var stale []*Manager
	r.mu.Lock()
	for id, s := range r.slots {
		if s.seen.Before(cutoff) {
			stale = append(stale, s.m)
			delete(r.slots, id)
		}
	}
	r.mu.Unlock()
	for _, m := range stale {
		m.Logout()
	}
	if len(stale) > 0 {
		r.logger.Debugw("idle sessions swept", "count", len(stale))
	}
	return len(stale)
}

// AccountChanged fans the change out to every context on that account.
// Contexts the change logged out are dropped.
func (r *Registry) AccountChanged(a *entity.Account, forceLogout bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.slots {
		if s.m.Email() != a.Key {
			continue
		}
		s.m.AccountChanged(a, forceLogout)
		if s.m.Email() == "" {
			delete(r.slots, id)
		}
	}
}
