package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/jmcleod/ironkey/crypto"
	"github.com/jmcleod/ironkey/transport"
)

func checkNewPassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

func (l *Lock) requireState(want State) error {
	got := l.State()
	if got == want {
		return nil
	}
	switch {
	case want == Unlocked && got == Locked:
		return ErrLocked
	case got == LoggedOut:
		return ErrNotLoggedIn
	default:
		return fmt.Errorf("%w: %s, want %s", ErrInvalidState, got, want)
	}
}

// Register creates an account with fresh KDF parameters and leaves the vault
// Unlocked.
func (l *Lock) Register(ctx context.Context, username, email, password string) error {
	l.ops.Lock()
	defer l.ops.Unlock()

	if st := l.State(); st != LoggedOut {
		return fmt.Errorf("%w: already %s", ErrInvalidState, st)
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("%w: username must not be empty", crypto.ErrInvalidInput)
	}
	if err := checkNewPassword(password); err != nil {
		return err
	}

	params, err := crypto.NewKdfParams(l.iterations)
	if err != nil {
		return err
	}
	keys, err := l.deriveKeys(ctx, password, params)
	if err != nil {
		return err
	}
	defer keys.Wipe()

	tokens, err := l.client.Register(ctx, transport.RegisterRequest{
		Username:  username,
		Email:     email,
		AuthHash:  keys.AuthHash,
		KdfParams: params,
	})
	if err != nil {
		return fmt.Errorf("registering: %w", err)
	}
	if err := l.establish(ctx, username, params, keys, tokens); err != nil {
		return err
	}
	l.transition(Unlocked, "register")
	l.armTimer()
	return nil
}

// Login fetches the account's KDF parameters, authenticates with the derived
// auth hash and leaves the vault Unlocked.
func (l *Lock) Login(ctx context.Context, username, password string) error {
	l.ops.Lock()
	defer l.ops.Unlock()

	if st := l.State(); st != LoggedOut {
		return fmt.Errorf("%w: already %s", ErrInvalidState, st)
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("%w: username must not be empty", crypto.ErrInvalidInput)
	}

	params, err := l.client.GetKdfParams(ctx, username)
	if err != nil {
		return fmt.Errorf("fetching kdf parameters: %w", err)
	}
	keys, err := l.deriveKeys(ctx, password, params)
	if err != nil {
		return err
	}
	defer keys.Wipe()

	tokens, err := l.client.Login(ctx, username, keys.AuthHash)
	if err != nil {
		if errors.Is(err, transport.ErrUnauthorized) {
			l.logger.Warn("login rejected", slog.String("username", username))
			return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
		}
		return fmt.Errorf("logging in: %w", err)
	}
	if err := l.establish(ctx, username, params, keys, tokens); err != nil {
		return err
	}
	l.transition(Unlocked, "login")
	l.armTimer()
	return nil
}

// establish persists a fresh session and installs its key.
func (l *Lock) establish(ctx context.Context, username string, params crypto.KdfParams, keys *crypto.DerivedKeys, tokens transport.Tokens) error {
	check, err := crypto.ComputeCheck(keys.EncryptionKey)
	if err != nil {
		return err
	}
	if err := l.saveAccount(ctx, account{username: username, params: params, check: check, tokens: tokens}); err != nil {
		return fmt.Errorf("persisting account: %w", err)
	}
	policy, err := l.loadPolicy(ctx)
	if err != nil {
		return err
	}
	if err := l.installKey(ctx, keys.EncryptionKey, policy); err != nil {
		return err
	}
	l.client.SetTokens(tokens)

	l.mu.Lock()
	l.username = username
	l.policy = policy
	l.mu.Unlock()
	return nil
}

// Unlock re-derives the encryption key from password and the stored KDF
// parameters and accepts it only if it matches the stored key check value.
// On any failure the state stays Locked.
func (l *Lock) Unlock(ctx context.Context, password string) error {
	l.ops.Lock()
	defer l.ops.Unlock()

	if err := l.requireState(Locked); err != nil {
		return err
	}
	params, check, err := l.securityState(ctx)
	if err != nil {
		l.logger.Error("unlock refused: local security state incomplete", "error", err)
		return err
	}
	keys, err := l.deriveKeys(ctx, password, params)
	if err != nil {
		return err
	}
	defer keys.Wipe()

	if !crypto.Verify(keys.EncryptionKey, check) {
		l.logger.Warn("unlock failed: key check mismatch")
		return fmt.Errorf("%w: wrong password", ErrAuthenticationFailed)
	}

	l.mu.RLock()
	policy := l.policy
	l.mu.RUnlock()
	if err := l.installKey(ctx, keys.EncryptionKey, policy); err != nil {
		return err
	}
	l.transition(Unlocked, "unlock")
	l.armTimer()
	return nil
}

// Lock evicts the key. Locking an already Locked vault is a no-op.
func (l *Lock) Lock(ctx context.Context) error {
	l.ops.Lock()
	defer l.ops.Unlock()
	return l.lockLocked(ctx, "user")
}

func (l *Lock) lockLocked(ctx context.Context, reason string) error {
	switch l.State() {
	case LoggedOut:
		return ErrNotLoggedIn
	case Locked:
		return nil
	}
	l.stopTimer()
	err := l.evictKey(ctx)
	l.transition(Locked, reason)
	return err
}

// Logout clears every secret, the tokens and the KDF state. Logging out
// while LoggedOut is a no-op.
func (l *Lock) Logout(ctx context.Context) error {
	l.ops.Lock()
	defer l.ops.Unlock()
	return l.logoutLocked(ctx, "user")
}

func (l *Lock) logoutLocked(ctx context.Context, reason string) error {
	if l.State() == LoggedOut {
		return nil
	}
	l.stopTimer()
	err := l.clearAccount(ctx)
	l.transition(LoggedOut, reason)
	return err
}

// Close is called on shutdown. With LockOnClose the key is evicted;
// otherwise the durable mirror is left for the next Restore.
func (l *Lock) Close(ctx context.Context) error {
	l.ops.Lock()
	defer l.ops.Unlock()

	l.stopTimer()
	l.mu.RLock()
	lockOnClose := l.policy.LockOnClose
	l.mu.RUnlock()
	if !lockOnClose || l.State() != Unlocked {
		return nil
	}
	return l.lockLocked(ctx, "close")
}
