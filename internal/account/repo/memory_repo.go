package repo

import (
	"context"
	"sync"

	"github.com/ovaphlow/pitchfork/service-trust/internal/account/entity"
)

// MemoryRepo keeps accounts in process memory. Records are cloned on the way
// in and out so callers cannot mutate stored state.
type MemoryRepo struct {
	mu   sync.RWMutex
	rows map[string]*entity.Account
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: make(map[string]*entity.Account)}
}

func (r *MemoryRepo) Get(ctx context.Context, key string) (*entity.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.rows[key]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (r *MemoryRepo) Set(ctx context.Context, a *entity.Account, prev int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var held int64
	if cur, ok := r.rows[a.Key]; ok {
		held = cur.Version
	}
	if held != prev {
		return ErrConflict
	}
	r.rows[a.Key] = a.Clone()
	return nil
}

func (r *MemoryRepo) List(ctx context.Context) ([]*entity.Account, error) {
	r.mu.RLock()
	out := make([]*entity.Account, 0, len(r.rows))
	for _, a := range r.rows {
		out = append(out, a.Clone())
	}
	r.mu.RUnlock()
	sortAccounts(out)
	return out, nil
}
