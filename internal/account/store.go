// Package account is the sole owner of account records. It serializes
// writes per identity key within the process, commits them with a version
// check so processes sharing a backend never lose an update, and maps
// backend failures onto the shared error taxonomy; trust rules live in the
// trust package.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-trust/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-trust/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-trust/internal/apperr"
)

// Mutation edits an account in place inside Update. Returning an error
// aborts the write. A mutation runs again on a fresh read when another
// writer commits first, so it must not carry state between calls.
type Mutation func(a *entity.Account) error

// MaxUpdateAttempts bounds the read-modify-write retries of Update.
const MaxUpdateAttempts = 8

// Store is the account store. Lookups and writes are keyed by the normalized
// email; the email as typed at signup is kept for display.
type Store struct {
	repo   repo.Repository
	hasher PasswordHasher
	locks  keyLocks
	// configuration knobs
	Now        func() time.Time
	AdminEmail string
}

func NewStore(r repo.Repository, hasher PasswordHasher) *Store {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	return &Store{repo: r, hasher: hasher, Now: time.Now}
}

// Create adds a new account with status good and risk 0. The duplicate check
// uses the normalized key, so "A@x.com" and "a@x.com" are the same identity.
func (s *Store) Create(ctx context.Context, email, credential string) (*entity.Account, error) {
	display := strings.TrimSpace(email)
	key := entity.NormalizeEmail(email)
	if key == "" || credential == "" {
		return nil, fmt.Errorf("email and password are required: %w", apperr.ErrMissingCredential)
	}

	unlock := s.locks.lock(key)
	defer unlock()

	if _, err := s.repo.Get(ctx, key); err == nil {
		return nil, fmt.Errorf("create %s: %w", key, apperr.ErrDuplicate)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, storeErr("create", key, err)
	}

	hash, algo, err := s.hasher.Hash(credential)
	if err != nil {
		return nil, fmt.Errorf("hash credential: %w", err)
	}
	now := s.Now().UTC()
	role := entity.RoleUser
	if s.AdminEmail != "" && key == entity.NormalizeEmail(s.AdminEmail) {
		role = entity.RoleAdmin
	}
	a := &entity.Account{
		Key:            key,
		Email:          display,
		CredentialHash: hash,
		CredentialAlgo: algo,
		Role:           role,
		Status:         entity.StatusGood,
		RiskScore:      0,
		PaymentHistory: []entity.PaymentRecord{},
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Set(ctx, a, 0); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return nil, fmt.Errorf("create %s: %w", key, apperr.ErrDuplicate)
		}
		return nil, storeErr("create", key, err)
	}
	return a.Clone(), nil
}

// Find returns the account for email or apperr.ErrNotFound.
func (s *Store) Find(ctx context.Context, email string) (*entity.Account, error) {
	key := entity.NormalizeEmail(email)
	a, err := s.repo.Get(ctx, key)
	if err != nil {
		return nil, storeErr("find", key, err)
	}
	return a, nil
}

// Update applies m as one atomic read-modify-write and persists the whole
// record. The key lock orders writers in this process; the version check in
// the backend catches writers in other processes, in which case the record
// is read again and m reapplied. The returned account is the committed state.
func (s *Store) Update(ctx context.Context, email string, m Mutation) (*entity.Account, error) {
	key := entity.NormalizeEmail(email)
	unlock := s.locks.lock(key)
	defer unlock()

	var err error
	for attempt := 0; attempt < MaxUpdateAttempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		var a *entity.Account
		a, err = s.repo.Get(ctx, key)
		if err != nil {
			return nil, storeErr("update", key, err)
		}
		if err := m(a); err != nil {
			return nil, err
		}
		prev := a.Version
		a.Version = prev + 1
		a.UpdatedAt = s.Now().UTC()
		err = s.repo.Set(ctx, a, prev)
		if err == nil {
			return a.Clone(), nil
		}
		if !errors.Is(err, repo.ErrConflict) {
			return nil, storeErr("update", key, err)
		}
	}
	return nil, storeErr("update", key, fmt.Errorf("gave up after %d attempts: %w", MaxUpdateAttempts, err))
}

// UpdateProfile merges the non-empty fields of p into the stored profile.
func (s *Store) UpdateProfile(ctx context.Context, email string, p entity.Profile) (*entity.Account, error) {
	return s.Update(ctx, email, func(a *entity.Account) error {
		if p.Name != "" {
			a.Profile.Name = p.Name
		}
		if p.Phone != "" {
			a.Profile.Phone = p.Phone
		}
		if p.Address != "" {
			a.Profile.Address = p.Address
		}
		return nil
	})
}

// List enumerates all accounts.
func (s *Store) List(ctx context.Context) ([]*entity.Account, error) {
	out, err := s.repo.List(ctx)
	if err != nil {
		return nil, storeErr("list", "*", err)
	}
	return out, nil
}

// BadList returns the keys of every account whose status is bad. It is
// derived on each call, never stored.
func (s *Store) BadList(ctx context.Context) ([]string, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, a := range all {
		if a.IsBad() {
			out = append(out, a.Key)
		}
	}
	return out, nil
}

// Verify reports whether credential matches the account's stored hash.
func (s *Store) Verify(a *entity.Account, credential string) bool {
	if a == nil || a.CredentialHash == "" {
		return false
	}
	return s.hasher.Verify(a.CredentialHash, credential)
}

func storeErr(op, key string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", op, key, apperr.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w: %v", op, key, apperr.ErrStoreUnavailable, err)
}

// keyLocks hands out one mutex per key. Accounts are never deleted, so the
// map only grows with the account population.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	if k.m == nil {
		k.m = make(map[string]*sync.Mutex)
	}
	l, ok := k.m[key]
	if !ok {
		l = &sync.Mutex{}
		k.m[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}
