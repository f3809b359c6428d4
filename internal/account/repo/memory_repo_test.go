package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-trust/internal/account/entity"
)

func TestMemoryRepo_IsolatesStoredRecords(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()

	in := &entity.Account{Key: "a@x.com", Email: "a@x.com", CreatedAt: time.Now()}
	require.NoError(t, r.Set(ctx, in, 0))
	in.RiskScore = 99

	got, err := r.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 0, got.RiskScore)

	got.PaymentHistory = append(got.PaymentHistory, entity.PaymentRecord{ID: "x"})
	again, _ := r.Get(ctx, "a@x.com")
	assert.Empty(t, again.PaymentHistory)
}

func TestMemoryRepo_GetMissing(t *testing.T) {
	_, err := NewMemoryRepo().Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepo_ListOrdersBySignup(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	t0 := time.Now()
	require.NoError(t, r.Set(ctx, &entity.Account{Key: "b", CreatedAt: t0}, 0))
	require.NoError(t, r.Set(ctx, &entity.Account{Key: "a", CreatedAt: t0.Add(time.Second)}, 0))
	require.NoError(t, r.Set(ctx, &entity.Account{Key: "c", CreatedAt: t0}, 0))

	out, err := r.List(ctx)
	require.NoError(t, err)
	keys := []string{out[0].Key, out[1].Key, out[2].Key}
	assert.Equal(t, []string{"b", "c", "a"}, keys)
}

func TestMemoryRepo_SetRejectsStaleVersion(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	require.NoError(t, r.Set(ctx, &entity.Account{Key: "a", Version: 1}, 0))

	assert.ErrorIs(t, r.Set(ctx, &entity.Account{Key: "a", Version: 1}, 0), ErrConflict, "create over an existing key")
	require.NoError(t, r.Set(ctx, &entity.Account{Key: "a", RiskScore: 10, Version: 2}, 1))
	assert.ErrorIs(t, r.Set(ctx, &entity.Account{Key: "a", RiskScore: 20, Version: 2}, 1), ErrConflict)

	got, err := r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 10, got.RiskScore)
	assert.Equal(t, int64(2), got.Version)
}
