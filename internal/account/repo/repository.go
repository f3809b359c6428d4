package repo

import (
	"context"
	"errors"
	"sort"

	"github.com/ovaphlow/pitchfork/service-trust/internal/account/entity"
)

// ErrNotFound is returned by every backend when no record exists for a key.
var ErrNotFound = errors.New("account record not found")

// ErrConflict is returned by Set when the stored record is no longer at the
// version the caller read.
var ErrConflict = errors.New("account record version conflict")

// Repository is the persistence boundary of the account store: whole-record
// get/replace by normalized email key plus enumeration.
//
// Set writes a only while the stored record is still at version prev; prev 0
// means the key must not exist yet. Otherwise it returns ErrConflict and
// stores nothing.
type Repository interface {
	Get(ctx context.Context, key string) (*entity.Account, error)
	Set(ctx context.Context, a *entity.Account, prev int64) error
	List(ctx context.Context) ([]*entity.Account, error)
}

// sortAccounts orders accounts by signup time, then key, so listings are
// stable across backends.
func sortAccounts(out []*entity.Account) {
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Key < out[j].Key
	})
}
