package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-trust/internal/account"
	"github.com/ovaphlow/pitchfork/service-trust/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-trust/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-trust/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-trust/internal/trust"
)

type captureNotifier struct {
	mu    sync.Mutex
	calls [][2]string
}

func (c *captureNotifier) Notify(email, credential string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, [2]string{email, credential})
}

func newStore() *account.Store {
	return account.NewStore(repo.NewMemoryRepo(), account.BcryptHasher{Cost: bcrypt.MinCost})
}

func TestSignupLoginScenario(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	n := &captureNotifier{}
	m := NewManager(store, n, nil)

	v, err := m.Signup(ctx, "a@x.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", v.Email)
	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, entity.StatusGood, cur.Status)
	assert.Equal(t, [][2]string{{"a@x.com", "pw"}}, n.calls)

	m.Logout()
	_, ok = m.Current()
	assert.False(t, ok)

	_, err = m.Login(ctx, "a@x.com", "pw")
	require.NoError(t, err)

	_, err = m.Login(ctx, "a@x.com", "wrong")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredential)
	_, ok = m.Current()
	assert.True(t, ok, "failed login keeps the existing session")

	_, err = m.Signup(ctx, "a@x.com", "pw2")
	assert.ErrorIs(t, err, apperr.ErrDuplicate)
	assert.Len(t, n.calls, 1)

	_, err = m.Login(ctx, "ghost@x.com", "pw")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLogout_Idempotent(t *testing.T) {
	m := NewManager(newStore(), nil, nil)
	m.Logout()
	m.Logout()
	_, ok := m.Current()
	assert.False(t, ok)
	assert.Equal(t, "", m.Email())
}

func TestProjection_HasNoCredential(t *testing.T) {
	m := NewManager(newStore(), nil, nil)
	v, err := m.Signup(context.Background(), "a@x.com", "secret-pw")
	require.NoError(t, err)

	raw, err := json.Marshal(v)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "credential")
	assert.NotContains(t, string(raw), "secret-pw")
	assert.NotContains(t, string(raw), "$2a$")
}

func TestTrustChanges_SyncSessionBeforeReturn(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	reg := NewRegistry(store, nil, nil)
	engine := trust.NewEngine(store, reg, nil)

	id, m := reg.Open()
	_, err := m.Signup(ctx, "a@x.com", "pw")
	require.NoError(t, err)
	_, other := reg.Open()
	_, err = other.Signup(ctx, "b@x.com", "pw")
	require.NoError(t, err)

	_, err = engine.IncreaseRisk(ctx, "a@x.com", 30)
	require.NoError(t, err)
	v, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, 30, v.RiskScore)

	_, err = engine.IncreaseRisk(ctx, "a@x.com", 50)
	require.NoError(t, err)
	_, ok = m.Current()
	assert.False(t, ok, "auto-escalation logs the session out")
	_, ok = reg.Get(id)
	assert.False(t, ok)

	_, ok = other.Current()
	assert.True(t, ok, "other accounts are untouched")
}

func TestMarkBadLogsOut_MarkGoodRefreshes(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	reg := NewRegistry(store, nil, nil)
	engine := trust.NewEngine(store, reg, nil)

	_, m := reg.Open()
	_, err := m.Signup(ctx, "a@x.com", "pw")
	require.NoError(t, err)

	_, err = engine.MarkBad(ctx, "A@x.com", "Admin action")
	require.NoError(t, err)
	_, ok := m.Current()
	assert.False(t, ok)

	_, m2 := reg.Open()
	v, err := m2.Login(ctx, "a@x.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusBad, v.Status)

	_, err = engine.MarkGood(ctx, "a@x.com")
	require.NoError(t, err)
	v, ok = m2.Current()
	require.True(t, ok, "mark good does not force logout")
	assert.Equal(t, entity.StatusGood, v.Status)
	assert.Equal(t, 50, v.RiskScore)
	assert.Nil(t, v.SuspensionReason)
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newStore(), nil, nil)

	_, err := m.UpdateProfile(ctx, entity.Profile{Name: "Ann"})
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = m.Signup(ctx, "a@x.com", "pw")
	require.NoError(t, err)
	v, err := m.UpdateProfile(ctx, entity.Profile{Name: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "Ann", v.Profile.Name)
	cur, _ := m.Current()
	assert.Equal(t, "Ann", cur.Profile.Name)
}

func TestRegistry_OpenClose(t *testing.T) {
	reg := NewRegistry(newStore(), nil, nil)
	id1, _ := reg.Open()
	id2, _ := reg.Open()
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, reg.Len())
	reg.Close(id1)
	reg.Close(id1)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_SweepDropsIdle(t *testing.T) {
	reg := NewRegistry(newStore(), nil, nil)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	stale, _ := reg.Open()
	now = now.Add(20 * time.Minute)
	fresh, _ := reg.Open()
	now = now.Add(time.Minute)

	assert.Equal(t, 1, reg.Sweep(10*time.Minute))
	_, ok := reg.Get(stale)
	assert.False(t, ok)
	_, ok = reg.Get(fresh)
	assert.True(t, ok)
}

func TestContext_RoundTrip(t *testing.T) {
	_, _, ok := FromContext(context.Background())
	assert.False(t, ok)

	m := NewManager(newStore(), nil, nil)
	ctx := WithManager(context.Background(), "sid", m)
	id, got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "sid", id)
	assert.Same(t, m, got)
}

// heldObserver parks the first notification until release is closed and
// forwards everything to the registry.
type heldObserver struct {
	reg     *Registry
	once    sync.Once
	release chan struct{}
}

func (o *heldObserver) AccountChanged(a *entity.Account, forceLogout bool) {
	first := false
	o.once.Do(func() { first = true })
	if first {
		<-o.release
	}
	o.reg.AccountChanged(a, forceLogout)
}

func TestAccountChanged_LateNotificationDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	reg := NewRegistry(store, nil, nil)
	obs := &heldObserver{reg: reg, release: make(chan struct{})}
	engine := trust.NewEngine(store, obs, nil)

	_, m := reg.Open()
	_, err := m.Signup(ctx, "a@x.com", "pw")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := engine.IncreaseRisk(ctx, "a@x.com", 10)
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool {
		a, err := store.Find(ctx, "a@x.com")
		return err == nil && a.Version == 2
	}, time.Second, time.Millisecond)

	_, err = engine.IncreaseRisk(ctx, "a@x.com", 20)
	require.NoError(t, err)
	close(obs.release)
	<-done

	v, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, 30, v.RiskScore)
}

func TestAccountChanged_StaleForcedLogoutBeforeLoginIgnored(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	m := NewManager(store, nil, nil)
	_, err := m.Signup(ctx, "a@x.com", "pw")
	require.NoError(t, err)
	a, err := store.Find(ctx, "a@x.com")
	require.NoError(t, err)

	m.AccountChanged(a, true)
	_, ok := m.Current()
	assert.True(t, ok, "a logout for the version seen at login is already reflected")

	newer := a.Clone()
	newer.Version++
	m.AccountChanged(newer, true)
	_, ok = m.Current()
	assert.False(t, ok)
}

func TestRefresh_EndsSessionSuspendedElsewhere(t *testing.T) {
	ctx := context.Background()
	shared := repo.NewMemoryRepo()
	here := account.NewStore(shared, account.BcryptHasher{Cost: bcrypt.MinCost})
	elsewhere := trust.NewEngine(account.NewStore(shared, account.BcryptHasher{Cost: bcrypt.MinCost}), nil, nil)

	m := NewManager(here, nil, nil)
	_, err := m.Signup(ctx, "a@x.com", "pw")
	require.NoError(t, err)
	_, err = elsewhere.IncreaseRisk(ctx, "a@x.com", 20)
	require.NoError(t, err)
	v, err := m.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, v.RiskScore)

	_, err = elsewhere.MarkBad(ctx, "a@x.com", "chargeback")
	require.NoError(t, err)
	_, err = m.Refresh(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, "", m.Email())

	v, err = m.Login(ctx, "a@x.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusBad, v.Status)
	_, err = m.Refresh(ctx)
	assert.NoError(t, err, "suspension that predates the login keeps the session")
}
