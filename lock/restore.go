package lock

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/ironkey/crypto"
	"github.com/jmcleod/ironkey/internal/util"
	"github.com/jmcleod/ironkey/storage"
	"github.com/jmcleod/ironkey/transport"
)

// Restore derives the starting state from persisted data:
//
//   - no access token: LoggedOut
//   - an expired JWT access token and no refresh token: LoggedOut, secrets cleared
//   - a session key, or the durable mirror when LockOnClose is off, that
//     verifies against the key check value: Unlocked
//   - otherwise Locked
//
// A stored key that does not verify is evicted, never trusted.
func (l *Lock) Restore(ctx context.Context) (State, error) {
	l.ops.Lock()
	defer l.ops.Unlock()

	if st := l.State(); st != LoggedOut {
		return st, fmt.Errorf("%w: restore from %s", ErrInvalidState, st)
	}

	policy, err := l.loadPolicy(ctx)
	if err != nil {
		return LoggedOut, err
	}
	l.mu.Lock()
	l.policy = policy
	l.mu.Unlock()

	access, err := l.getOptional(ctx, storage.ScopeDurable, keyAccessToken)
	if err != nil {
		return LoggedOut, err
	}
	if len(access) == 0 {
		return LoggedOut, l.clearAccount(ctx)
	}
	refresh, err := l.getOptional(ctx, storage.ScopeDurable, keyRefreshToken)
	if err != nil {
		return LoggedOut, err
	}
	tokens := transport.Tokens{AccessToken: string(access), RefreshToken: string(refresh)}
	if tokens.RefreshToken == "" && l.tokenExpired(tokens.AccessToken) {
		l.logger.Info("stored session expired")
		return LoggedOut, l.clearAccount(ctx)
	}

	username, err := l.getOptional(ctx, storage.ScopeDurable, keyUsername)
	if err != nil {
		return LoggedOut, err
	}
	l.client.SetTokens(tokens)
	l.mu.Lock()
	l.username = string(username)
	l.mu.Unlock()

	key, err := l.residentKey(ctx, policy)
	if err != nil {
		return LoggedOut, err
	}
	if key == nil {
		l.transition(Locked, "restore")
		return Locked, l.evictKey(ctx)
	}
	defer util.WipeBytes(key)

	_, check, err := l.securityState(ctx)
	if err != nil || !crypto.Verify(key, check) {
		l.logger.Warn("stored key rejected, vault locked")
		l.transition(Locked, "restore")
		evictErr := l.evictKey(ctx)
		if errors.Is(err, ErrMissingSecurityState) {
			err = nil
		}
		return Locked, errors.Join(err, evictErr)
	}

	if err := l.installKey(ctx, key, policy); err != nil {
		return LoggedOut, err
	}
	l.transition(Unlocked, "restore")
	l.armTimer()
	return Unlocked, nil
}

// residentKey returns the session key, or the durable mirror when the policy
// allows one. A mirror left behind while LockOnClose is on is ignored.
func (l *Lock) residentKey(ctx context.Context, policy Policy) ([]byte, error) {
	key, err := l.getOptional(ctx, storage.ScopeSession, keyEncryptionKey)
	if err != nil || key != nil {
		return key, err
	}
	if policy.LockOnClose {
		return nil, nil
	}
	return l.getOptional(ctx, storage.ScopeDurable, keyEncryptionKey)
}

// tokenExpired reports whether raw is a JWT whose exp is in the past. Opaque
// tokens are left for the server to judge.
func (l *Lock) tokenExpired(raw string) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !l.now().Before(exp.Time)
}
