package lock_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironkey/crypto"
	"github.com/jmcleod/ironkey/entry"
	"github.com/jmcleod/ironkey/internal/util"
	"github.com/jmcleod/ironkey/internal/uuid"
	"github.com/jmcleod/ironkey/lock"
	"github.com/jmcleod/ironkey/storage"
	memstore "github.com/jmcleod/ironkey/storage/memory"
	"github.com/jmcleod/ironkey/transport"
	memtransport "github.com/jmcleod/ironkey/transport/memory"
)

const (
	testPassword = "correct horse battery"
	newPassword  = "staple-recharge-42!"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeTimers struct {
	mu  sync.Mutex
	all []*fakeTimer
}

func (ft *fakeTimers) AfterFunc(d time.Duration, f func()) lock.Timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	ft.all = append(ft.all, t)
	return t
}

func (ft *fakeTimers) count() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.all)
}

func (ft *fakeTimers) last(t *testing.T) *fakeTimer {
	t.Helper()
	ft.mu.Lock()
	defer ft.mu.Unlock()
	require.NotEmpty(t, ft.all, "no timer armed")
	return ft.all[len(ft.all)-1]
}

// recordingClient captures what the lock sends to the server.
type recordingClient struct {
	*memtransport.Client

	mu           sync.Mutex
	registerHash []byte
	loginHash    []byte
	rekeys       int
}

func (c *recordingClient) Register(ctx context.Context, req transport.RegisterRequest) (transport.Tokens, error) {
	c.mu.Lock()
	c.registerHash = util.CopyBytes(req.AuthHash)
	c.mu.Unlock()
	return c.Client.Register(ctx, req)
}

func (c *recordingClient) Login(ctx context.Context, username string, authHash []byte) (transport.Tokens, error) {
	c.mu.Lock()
	c.loginHash = util.CopyBytes(authHash)
	c.mu.Unlock()
	return c.Client.Login(ctx, username, authHash)
}

func (c *recordingClient) UpdateMasterPassword(ctx context.Context, change transport.MasterPasswordChange) (transport.Tokens, error) {
	c.mu.Lock()
	c.rekeys++
	c.mu.Unlock()
	return c.Client.UpdateMasterPassword(ctx, change)
}

type fixture struct {
	lock    *lock.Lock
	session *memstore.KV
	durable *memstore.KV
	client  *recordingClient
	backend *memtransport.Backend
	timers  *fakeTimers
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBackend(t *testing.T) *memtransport.Backend {
	t.Helper()
	b, err := memtransport.NewBackend(memtransport.WithArgon2idParams(util.Argon2idParams{
		Time: 1, MemoryKiB: 64, Parallelism: 1, KeyLen: 32,
	}))
	require.NoError(t, err)
	return b
}

func newFixture(t *testing.T, opts ...lock.Option) *fixture {
	t.Helper()
	f := &fixture{
		session: memstore.NewKV(),
		durable: memstore.NewKV(),
		backend: newBackend(t),
		timers:  &fakeTimers{},
	}
	f.client = &recordingClient{Client: memtransport.NewClient(f.backend)}
	f.lock = f.reopen(t, f.session, opts...)
	return f
}

// reopen builds a new Lock over the fixture's durable store and server, the
// way a restarted process would.
func (f *fixture) reopen(t *testing.T, session *memstore.KV, opts ...lock.Option) *lock.Lock {
	t.Helper()
	base := []lock.Option{
		lock.WithIterations(1000),
		lock.WithTimerFunc(f.timers.AfterFunc),
		lock.WithLogger(quietLogger()),
	}
	l, err := lock.New(storage.NewAdapter(session, f.durable), f.client, append(base, opts...)...)
	require.NoError(t, err)
	return l
}

func (f *fixture) register(t *testing.T) {
	t.Helper()
	require.NoError(t, f.lock.Register(t.Context(), "alice", "alice@example.com", testPassword))
	require.Equal(t, lock.Unlocked, f.lock.State())
}

func (f *fixture) key(t *testing.T) []byte {
	t.Helper()
	var out []byte
	require.NoError(t, f.lock.WithKey(func(key []byte) error {
		out = util.CopyBytes(key)
		return nil
	}))
	return out
}

func (f *fixture) durableValue(t *testing.T, key string) []byte {
	t.Helper()
	v, err := f.durable.Get(t.Context(), key)
	if err != nil {
		require.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	}
	return v
}

func (f *fixture) createEntry(t *testing.T, name string) entry.Record {
	t.Helper()
	var rec entry.Record
	require.NoError(t, f.lock.WithKey(func(key []byte) error {
		var err error
		rec, err = entry.Encrypt(uuid.New(), entry.Fields{Name: name, Password: "pw-" + name}, key)
		return err
	}))
	created, err := f.client.CreateEntry(t.Context(), rec)
	require.NoError(t, err)
	return created
}

func TestRegisterThenLogin_ReproducesAuthHash(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t, lock.WithIterations(crypto.DefaultIterations))

	require.NoError(t, f.lock.Register(ctx, "alice", "alice@example.com", "Sup3rSecret!!"))
	require.Equal(t, lock.Unlocked, f.lock.State())
	assert.Equal(t, "alice", f.lock.Username())

	var params crypto.KdfParams
	require.NoError(t, json.Unmarshal(f.durableValue(t, "kdf_params"), &params))
	assert.Equal(t, 600000, params.Iterations)
	assert.Len(t, params.Salt, crypto.SaltSize)
	assert.Len(t, f.durableValue(t, "key_check"), crypto.CheckValueSize)
	assert.Nil(t, f.durableValue(t, "encryption_key"), "key is not persisted durably by default")

	require.NoError(t, f.lock.Logout(ctx))
	require.NoError(t, f.lock.Login(ctx, "alice", "Sup3rSecret!!"))
	assert.Equal(t, lock.Unlocked, f.lock.State())

	f.client.mu.Lock()
	defer f.client.mu.Unlock()
	require.Len(t, f.client.registerHash, crypto.AuthHashSize)
	assert.Equal(t, f.client.registerHash, f.client.loginHash)
}

func TestRegister_PasswordTooShort(t *testing.T) {
	f := newFixture(t)
	err := f.lock.Register(t.Context(), "alice", "", "short-pw")
	require.ErrorIs(t, err, lock.ErrPasswordTooShort)
	require.ErrorIs(t, err, crypto.ErrInvalidInput)
	assert.Equal(t, lock.LoggedOut, f.lock.State())
	assert.Nil(t, f.client.registerHash, "nothing sent to the server")
}

func TestRegister_WhileLoggedIn(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	err := f.lock.Register(t.Context(), "bob", "", testPassword)
	require.ErrorIs(t, err, lock.ErrInvalidState)
	err = f.lock.Login(t.Context(), "alice", testPassword)
	require.ErrorIs(t, err, lock.ErrInvalidState)
}

func TestLogin_WrongPassword(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.register(t)
	require.NoError(t, f.lock.Logout(ctx))

	err := f.lock.Login(ctx, "alice", "not the password")
	require.ErrorIs(t, err, lock.ErrAuthenticationFailed)
	require.ErrorIs(t, err, transport.ErrUnauthorized)
	assert.Equal(t, lock.LoggedOut, f.lock.State())
	assert.Nil(t, f.durableValue(t, "key_check"))
}

func TestLogin_UnknownUserGetsDecoyAndFails(t *testing.T) {
	f := newFixture(t)
	err := f.lock.Login(t.Context(), "ghost", testPassword)
	require.ErrorIs(t, err, lock.ErrAuthenticationFailed)
}

func TestLockUnlock(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.register(t)
	before := f.key(t)

	require.NoError(t, f.lock.Lock(ctx))
	assert.Equal(t, lock.Locked, f.lock.State())
	require.ErrorIs(t, f.lock.WithKey(func([]byte) error { return nil }), lock.ErrLocked)
	_, err := f.session.Get(ctx, "encryption_key")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, f.lock.Lock(ctx), "locking twice is a no-op")

	err = f.lock.Unlock(ctx, "wrong password!!")
	require.ErrorIs(t, err, lock.ErrAuthenticationFailed)
	assert.Equal(t, lock.Locked, f.lock.State())

	require.NoError(t, f.lock.Unlock(ctx, testPassword))
	assert.Equal(t, lock.Unlocked, f.lock.State())
	assert.Equal(t, before, f.key(t))

	err = f.lock.Unlock(ctx, testPassword)
	require.ErrorIs(t, err, lock.ErrInvalidState)
}

func TestUnlock_MissingKeyCheck(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.register(t)
	require.NoError(t, f.lock.Lock(ctx))
	require.NoError(t, f.durable.Delete(ctx, "key_check"))

	err := f.lock.Unlock(ctx, testPassword)
	require.ErrorIs(t, err, lock.ErrMissingSecurityState)
	assert.NotErrorIs(t, err, lock.ErrAuthenticationFailed)
	assert.Equal(t, lock.Locked, f.lock.State())
}

func TestUnlock_MissingKdfParams(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.register(t)
	require.NoError(t, f.lock.Lock(ctx))
	require.NoError(t, f.durable.Delete(ctx, "kdf_params"))

	require.ErrorIs(t, f.lock.Unlock(ctx, testPassword), lock.ErrMissingSecurityState)
}

func TestLogout_ClearsSecrets(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.register(t)
	require.NoError(t, f.lock.SetPolicy(ctx, lock.Policy{IdleTimeout: time.Minute, TimeoutAction: lock.ActionLock, LockOnClose: false}))
	require.NotNil(t, f.durableValue(t, "encryption_key"))

	require.NoError(t, f.lock.Logout(ctx))
	assert.Equal(t, lock.LoggedOut, f.lock.State())
	assert.Empty(t, f.lock.Username())
	assert.Equal(t, 0, f.session.Len())
	for _, k := range []string{"kdf_params", "key_check", "username", "access_token", "refresh_token", "encryption_key"} {
		assert.Nil(t, f.durableValue(t, k), k)
	}
	assert.NotNil(t, f.durableValue(t, "policy"), "policy is a device preference")

	_, err := f.client.GetAllEntries(ctx)
	require.ErrorIs(t, err, transport.ErrUnauthorized, "tokens dropped from the transport")

	require.NoError(t, f.lock.Logout(ctx))
	require.ErrorIs(t, f.lock.Lock(ctx), lock.ErrNotLoggedIn)
	require.ErrorIs(t, f.lock.Unlock(ctx, testPassword), lock.ErrNotLoggedIn)
	require.ErrorIs(t, f.lock.WithKey(func([]byte) error { return nil }), lock.ErrNotLoggedIn)
}

func TestLogout_FromLocked(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.register(t)
	require.NoError(t, f.lock.Lock(ctx))
	require.NoError(t, f.lock.Logout(ctx))
	assert.Equal(t, lock.LoggedOut, f.lock.State())
}

func TestIdleTimeout_Locks(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	timer := f.timers.last(t)
	assert.Equal(t, lock.DefaultIdleTimeout, timer.d)
	timer.f()
	assert.Equal(t, lock.Locked, f.lock.State())
	assert.True(t, timer.stopped)

	n := f.timers.count()
	f.lock.ResetIdleTimer()
	assert.Equal(t, n, f.timers.count(), "no timer while locked")
}

func TestIdleTimeout_ActivityResets(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	first := f.timers.last(t)
	f.lock.ResetIdleTimer()
	second := f.timers.last(t)
	require.NotSame(t, first, second)
	assert.True(t, first.stopped)

	// A timer that fires after being replaced does nothing.
	first.f()
	assert.Equal(t, lock.Unlocked, f.lock.State())

	second.f()
	assert.Equal(t, lock.Locked, f.lock.State())
}

func TestIdleTimeout_LogoutAction(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.register(t)
	require.NoError(t, f.lock.SetPolicy(ctx, lock.Policy{IdleTimeout: time.Minute, TimeoutAction: lock.ActionLogout, LockOnClose: true}))

	timer := f.timers.last(t)
	assert.Equal(t, time.Minute, timer.d)
	timer.f()
	assert.Equal(t, lock.LoggedOut, f.lock.State())
	assert.Nil(t, f.durableValue(t, "key_check"))
}

func TestIdleTimeout_Never(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.register(t)
	armed := f.timers.last(t)

	require.NoError(t, f.lock.SetPolicy(ctx, lock.Policy{IdleTimeout: lock.Never, TimeoutAction: lock.ActionLock, LockOnClose: true}))
	assert.True(t, armed.stopped)
	n := f.timers.count()

	f.lock.ResetIdleTimer()
	assert.Equal(t, n, f.timers.count())
	armed.f()
	assert.Equal(t, lock.Unlocked, f.lock.State())
}

func TestIdleTimeout_ArmedAfterLogin(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.register(t)
	require.NoError(t, f.lock.Logout(ctx))
	n := f.timers.count()

	require.NoError(t, f.lock.Login(ctx, "alice", testPassword))
	require.Equal(t, n+1, f.timers.count())
	timer := f.timers.last(t)
	assert.Equal(t, lock.DefaultIdleTimeout, timer.d)
	assert.False(t, timer.stopped)

	timer.f()
	assert.Equal(t, lock.Locked, f.lock.State())
}

func TestIdleTimeout_NotArmedWhileLocked(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.register(t)
	require.NoError(t, f.lock.Lock(ctx))
	assert.True(t, f.timers.last(t).stopped)
	n := f.timers.count()

	require.ErrorIs(t, f.lock.Unlock(ctx, "wrong password!!"), lock.ErrAuthenticationFailed)
	assert.Equal(t, n, f.timers.count(), "failed unlock arms nothing")

	require.NoError(t, f.lock.SetPolicy(ctx, lock.Policy{IdleTimeout: time.Minute, TimeoutAction: lock.ActionLock, LockOnClose: true}))
	assert.Equal(t, n, f.timers.count(), "policy change while locked arms nothing")

	require.NoError(t, f.lock.Unlock(ctx, testPassword))
	require.Equal(t, n+1, f.timers.count())
	timer := f.timers.last(t)
	assert.Equal(t, time.Minute, timer.d)
	assert.False(t, timer.stopped)
}

func TestLock_WaitsForKeyBorrowers(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.register(t)

	borrowed := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = f.lock.WithKey(func([]byte) error {
			close(borrowed)
			<-release
			return nil
		})
	}()
	<-borrowed

	locked := make(chan error, 1)
	go func() { locked <- f.lock.Lock(ctx) }()

	select {
	case <-locked:
		t.Fatal("lock completed while the key was borrowed")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-locked)
	assert.Equal(t, lock.Locked, f.lock.State())
}

func TestSetPolicy_Invalid(t *testing.T) {
	f := newFixture(t)
	err := f.lock.SetPolicy(t.Context(), lock.Policy{IdleTimeout: -1, TimeoutAction: lock.ActionLock})
	require.Error(t, err)
	err = f.lock.SetPolicy(t.Context(), lock.Policy{TimeoutAction: "explode"})
	require.Error(t, err)
	assert.Equal(t, lock.DefaultPolicy(), f.lock.Policy())
}

func TestLockOnCloseDisabled_RestoresUnlocked(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.register(t)
	key := f.key(t)

	require.NoError(t, f.lock.SetPolicy(ctx, lock.Policy{IdleTimeout: time.Hour, TimeoutAction: lock.ActionLock, LockOnClose: false}))
	assert.Equal(t, key, f.durableValue(t, "encryption_key"))
	require.NoError(t, f.lock.Close(ctx))

	// Fresh process: new session storage, same durable storage.
	f.lock = f.reopen(t, memstore.NewKV())
	n := f.timers.count()
	st, err := f.lock.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, lock.Unlocked, st)
	assert.Equal(t, key, f.key(t))
	assert.False(t, f.lock.Policy().LockOnClose)

	require.Equal(t, n+1, f.timers.count(), "restoring unlocked starts the countdown")
	timer := f.timers.last(t)
	assert.Equal(t, time.Hour, timer.d)
	assert.False(t, timer.stopped)

	_, err = f.client.GetAllEntries(ctx)
	require.NoError(t, err, "tokens restored into the transport")

	require.NoError(t, f.lock.SetPolicy(ctx, lock.Policy{IdleTimeout: time.Hour, TimeoutAction: lock.ActionLock, LockOnClose: true}))
	assert.Nil(t, f.durableValue(t, "encryption_key"))
}

func TestClose_LocksByDefault(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.register(t)

	require.NoError(t, f.lock.Close(ctx))
	assert.Equal(t, lock.Locked, f.lock.State())

	f.lock = f.reopen(t, memstore.NewKV())
	n := f.timers.count()
	st, err := f.lock.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, lock.Locked, st)
	assert.Equal(t, "alice", f.lock.Username())
	assert.Equal(t, n, f.timers.count(), "no countdown while locked")
	require.NoError(t, f.lock.Unlock(ctx, testPassword))
	assert.Equal(t, n+1, f.timers.count())
}

func TestRestore_SessionKeyResumes(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.register(t)
	key := f.key(t)

	f.lock = f.reopen(t, f.session)
	st, err := f.lock.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, lock.Unlocked, st)
	assert.Equal(t, key, f.key(t))

	_, err = f.lock.Restore(ctx)
	require.ErrorIs(t, err, lock.ErrInvalidState)
}

func TestRestore_TamperedKeyEvicted(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.register(t)

	bogus, err := util.RandomBytes(32)
	require.NoError(t, err)
	require.NoError(t, f.session.Put(ctx, "encryption_key", bogus))

	f.lock = f.reopen(t, f.session)
	st, err := f.lock.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, lock.Locked, st)
	_, err = f.session.Get(ctx, "encryption_key")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRestore_MirrorIgnoredWhenLockOnClose(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.register(t)
	require.NoError(t, f.durable.Put(ctx, "encryption_key", f.key(t)))

	f.lock = f.reopen(t, memstore.NewKV())
	st, err := f.lock.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, lock.Locked, st)
	assert.Nil(t, f.durableValue(t, "encryption_key"))
}

func TestRestore_NothingStored(t *testing.T) {
	f := newFixture(t)
	st, err := f.lock.Restore(t.Context())
	require.NoError(t, err)
	assert.Equal(t, lock.LoggedOut, st)
}

func TestRestore_ExpiredToken(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}).SignedString([]byte("k"))
	require.NoError(t, err)
	require.NoError(t, f.durable.Put(ctx, "access_token", []byte(expired)))
	require.NoError(t, f.durable.Put(ctx, "username", []byte("alice")))
	require.NoError(t, f.durable.Put(ctx, "key_check", make([]byte, crypto.CheckValueSize)))

	st, err := f.lock.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, lock.LoggedOut, st)
	assert.Nil(t, f.durableValue(t, "access_token"))
	assert.Nil(t, f.durableValue(t, "key_check"))
}

func TestRestore_ExpiredTokenWithRefresh(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t, lock.WithClock(func() time.Time { return time.Now().Add(24 * time.Hour) }))
	f.register(t)
	require.NoError(t, f.lock.Close(ctx))

	f.lock = f.reopen(t, memstore.NewKV(), lock.WithClock(func() time.Time { return time.Now().Add(24 * time.Hour) }))
	st, err := f.lock.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, lock.Locked, st, "a refresh token keeps the session")
}

func TestChangeMasterPassword(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.register(t)
	recs := []entry.Record{f.createEntry(t, "bank"), f.createEntry(t, "mail"), f.createEntry(t, "vpn")}
	oldKey := f.key(t)
	oldCheck := f.durableValue(t, "key_check")

	require.NoError(t, f.lock.ChangeMasterPassword(ctx, testPassword, newPassword))
	assert.Equal(t, 1, f.client.rekeys)
	assert.Equal(t, lock.Unlocked, f.lock.State())
	assert.NotEqual(t, oldKey, f.key(t))
	assert.NotEqual(t, oldCheck, f.durableValue(t, "key_check"))

	all, err := f.client.GetAllEntries(ctx)
	require.NoError(t, err, "transport holds the rotated tokens")
	require.Len(t, all, len(recs))
	require.NoError(t, f.lock.WithKey(func(key []byte) error {
		for _, rec := range all {
			fields, err := entry.Decrypt(rec, key)
			require.NoError(t, err)
			assert.Equal(t, "pw-"+fields.Name, fields.Password)
		}
		return nil
	}))

	require.NoError(t, f.lock.Lock(ctx))
	require.ErrorIs(t, f.lock.Unlock(ctx, testPassword), lock.ErrAuthenticationFailed)
	require.NoError(t, f.lock.Unlock(ctx, newPassword))

	require.NoError(t, f.lock.Logout(ctx))
	require.ErrorIs(t, f.lock.Login(ctx, "alice", testPassword), lock.ErrAuthenticationFailed)
	require.NoError(t, f.lock.Login(ctx, "alice", newPassword))
}

func TestChangeMasterPassword_AbortsOnUndecryptableEntry(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.register(t)
	f.createEntry(t, "good")

	otherKey, err := util.NewAESKey()
	require.NoError(t, err)
	corrupt, err := entry.Encrypt(uuid.New(), entry.Fields{Name: "foreign"}, otherKey)
	require.NoError(t, err)
	_, err = f.client.CreateEntry(ctx, corrupt)
	require.NoError(t, err)

	keyBefore := f.key(t)
	checkBefore := f.durableValue(t, "key_check")
	paramsBefore := f.durableValue(t, "kdf_params")

	err = f.lock.ChangeMasterPassword(ctx, testPassword, newPassword)
	require.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	assert.Contains(t, err.Error(), corrupt.ID)
	assert.Equal(t, 0, f.client.rekeys, "nothing submitted")

	assert.Equal(t, keyBefore, f.key(t))
	assert.Equal(t, checkBefore, f.durableValue(t, "key_check"))
	assert.Equal(t, paramsBefore, f.durableValue(t, "kdf_params"))

	require.NoError(t, f.lock.Lock(ctx))
	require.NoError(t, f.lock.Unlock(ctx, testPassword))
}

func TestChangeMasterPassword_Refusals(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.register(t)

	err := f.lock.ChangeMasterPassword(ctx, "wrong current pw", newPassword)
	require.ErrorIs(t, err, lock.ErrAuthenticationFailed)

	err = f.lock.ChangeMasterPassword(ctx, testPassword, "short")
	require.ErrorIs(t, err, lock.ErrPasswordTooShort)

	require.NoError(t, f.lock.Lock(ctx))
	err = f.lock.ChangeMasterPassword(ctx, testPassword, newPassword)
	require.ErrorIs(t, err, lock.ErrLocked)

	assert.Equal(t, 0, f.client.rekeys)
}

func TestOnChange(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)

	type change struct{ from, to lock.State }
	var got []change
	f.lock.OnChange(func(from, to lock.State) {
		got = append(got, change{from, to})
	})

	f.register(t)
	require.NoError(t, f.lock.Lock(ctx))
	require.NoError(t, f.lock.Lock(ctx))
	require.NoError(t, f.lock.Unlock(ctx, testPassword))
	require.NoError(t, f.lock.Logout(ctx))

	assert.Equal(t, []change{
		{lock.LoggedOut, lock.Unlocked},
		{lock.Unlocked, lock.Locked},
		{lock.Locked, lock.Unlocked},
		{lock.Unlocked, lock.LoggedOut},
	}, got)
}

func TestOnRekey(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t)
	f.register(t)

	var changes, rekeys int
	f.lock.OnChange(func(lock.State, lock.State) { changes++ })
	f.lock.OnRekey(func() { rekeys++ })

	require.Error(t, f.lock.ChangeMasterPassword(ctx, "wrong current pw", newPassword))
	assert.Equal(t, 0, rekeys)

	require.NoError(t, f.lock.ChangeMasterPassword(ctx, testPassword, newPassword))
	assert.Equal(t, 1, rekeys)
	assert.Equal(t, 0, changes, "rotation stays unlocked")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "logged-out", lock.LoggedOut.String())
	assert.Equal(t, "locked", lock.Locked.String())
	assert.Equal(t, "unlocked", lock.Unlocked.String())
	assert.Equal(t, "state(9)", lock.State(9).String())
}
