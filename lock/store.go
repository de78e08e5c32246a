package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ironkey/crypto"
	"github.com/jmcleod/ironkey/internal/util"
	"github.com/jmcleod/ironkey/storage"
	"github.com/jmcleod/ironkey/transport"
)

// Storage keys. Everything durable is non-secret except keyEncryptionKey,
// which is only written durably when LockOnClose is off.
const (
	keyKdfParams     = "kdf_params"
	keyKeyCheck      = "key_check"
	keyUsername      = "username"
	keyAccessToken   = "access_token"
	keyRefreshToken  = "refresh_token"
	keyPolicy        = "policy"
	keyEncryptionKey = "encryption_key"
)

// accountKeys are cleared on logout. The policy is a device preference and
// survives.
var accountKeys = []string{
	keyKdfParams, keyKeyCheck, keyUsername, keyAccessToken, keyRefreshToken, keyEncryptionKey,
}

// account is what a successful login or registration persists.
type account struct {
	username string
	params   crypto.KdfParams
	check    []byte
	tokens   transport.Tokens
}

func (l *Lock) saveAccount(ctx context.Context, a account) error {
	params, err := json.Marshal(a.params)
	if err != nil {
		return fmt.Errorf("encoding kdf params: %w", err)
	}
	return l.store.Batch(ctx, storage.ScopeDurable, func(tx storage.Tx) error {
		if err := tx.Put(keyKdfParams, params); err != nil {
			return err
		}
		if err := tx.Put(keyKeyCheck, a.check); err != nil {
			return err
		}
		if err := tx.Put(keyUsername, []byte(a.username)); err != nil {
			return err
		}
		return putTokens(tx, a.tokens)
	})
}

func putTokens(tx storage.Tx, tokens transport.Tokens) error {
	if err := tx.Put(keyAccessToken, []byte(tokens.AccessToken)); err != nil {
		return err
	}
	if tokens.RefreshToken == "" {
		return tx.Delete(keyRefreshToken)
	}
	return tx.Put(keyRefreshToken, []byte(tokens.RefreshToken))
}

// getOptional returns nil, nil when key is absent.
func (l *Lock) getOptional(ctx context.Context, scope storage.Scope, key string) ([]byte, error) {
	v, err := l.store.Get(ctx, scope, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return v, nil
}

// securityState loads the KDF parameters and key check value. Either one
// missing is ErrMissingSecurityState.
func (l *Lock) securityState(ctx context.Context) (crypto.KdfParams, []byte, error) {
	check, err := l.getOptional(ctx, storage.ScopeDurable, keyKeyCheck)
	if err != nil {
		return crypto.KdfParams{}, nil, err
	}
	if len(check) == 0 {
		return crypto.KdfParams{}, nil, fmt.Errorf("%w: key check value absent", ErrMissingSecurityState)
	}
	raw, err := l.getOptional(ctx, storage.ScopeDurable, keyKdfParams)
	if err != nil {
		return crypto.KdfParams{}, nil, err
	}
	if raw == nil {
		return crypto.KdfParams{}, nil, fmt.Errorf("%w: kdf parameters absent", ErrMissingSecurityState)
	}
	var params crypto.KdfParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return crypto.KdfParams{}, nil, fmt.Errorf("%w: kdf parameters unreadable: %v", ErrMissingSecurityState, err)
	}
	if err := params.Validate(); err != nil {
		return crypto.KdfParams{}, nil, fmt.Errorf("%w: %v", ErrMissingSecurityState, err)
	}
	return params, check, nil
}

func (l *Lock) loadPolicy(ctx context.Context) (Policy, error) {
	raw, err := l.getOptional(ctx, storage.ScopeDurable, keyPolicy)
	if err != nil {
		return Policy{}, err
	}
	if raw == nil {
		return DefaultPolicy(), nil
	}
	p, err := parsePolicy(raw)
	if err != nil {
		l.logger.Warn("stored policy unreadable, using defaults", "error", err)
		return DefaultPolicy(), nil
	}
	return p, nil
}

// installKey makes key the live key and writes its session copy, plus the
// durable mirror when policy allows it. key is not retained.
func (l *Lock) installKey(ctx context.Context, key []byte, policy Policy) error {
	if err := l.store.Put(ctx, storage.ScopeSession, keyEncryptionKey, key); err != nil {
		return fmt.Errorf("storing session key: %w", err)
	}
	if policy.LockOnClose {
		if err := l.store.Delete(ctx, storage.ScopeDurable, keyEncryptionKey); err != nil {
			return fmt.Errorf("removing durable key: %w", err)
		}
	} else if err := l.store.Put(ctx, storage.ScopeDurable, keyEncryptionKey, key); err != nil {
		return fmt.Errorf("storing durable key: %w", err)
	}

	enclave := memguard.NewEnclave(util.CopyBytes(key))
	l.lease.Lock()
	l.mu.Lock()
	l.key = enclave
	l.mu.Unlock()
	l.lease.Unlock()
	return nil
}

// evictKey drops the live key before touching storage, so no caller can
// observe it once eviction has started. Borrowers still inside WithKey
// finish first.
func (l *Lock) evictKey(ctx context.Context) error {
	l.lease.Lock()
	l.mu.Lock()
	l.key = nil
	l.mu.Unlock()
	l.lease.Unlock()

	var errs []error
	if err := l.store.Delete(ctx, storage.ScopeSession, keyEncryptionKey); err != nil {
		errs = append(errs, fmt.Errorf("removing session key: %w", err))
	}
	if err := l.store.Delete(ctx, storage.ScopeDurable, keyEncryptionKey); err != nil {
		errs = append(errs, fmt.Errorf("removing durable key: %w", err))
	}
	return errors.Join(errs...)
}

// clearAccount removes every secret and the tokens.
func (l *Lock) clearAccount(ctx context.Context) error {
	l.lease.Lock()
	l.mu.Lock()
	l.key = nil
	l.username = ""
	l.mu.Unlock()
	l.lease.Unlock()
	l.client.SetTokens(transport.Tokens{})

	var errs []error
	if err := l.store.Clear(ctx, storage.ScopeSession); err != nil {
		errs = append(errs, fmt.Errorf("clearing session storage: %w", err))
	}
	if err := l.store.Delete(ctx, storage.ScopeDurable, accountKeys...); err != nil {
		errs = append(errs, fmt.Errorf("clearing account state: %w", err))
	}
	return errors.Join(errs...)
}
