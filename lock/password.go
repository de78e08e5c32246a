package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jmcleod/ironkey/crypto"
	"github.com/jmcleod/ironkey/entry"
	"github.com/jmcleod/ironkey/storage"
	"github.com/jmcleod/ironkey/transport"
)

// ChangeMasterPassword re-keys the whole vault. The current password is
// verified locally, every entry is decrypted and re-encrypted under a key
// derived from next with a fresh salt, and the result is submitted in one
// transport call. Any entry failing aborts before anything is sent; the live
// key and local security state only change after the server accepts.
func (l *Lock) ChangeMasterPassword(ctx context.Context, current, next string) error {
	l.ops.Lock()
	defer l.ops.Unlock()

	if err := l.requireState(Unlocked); err != nil {
		return err
	}
	if err := checkNewPassword(next); err != nil {
		return err
	}
	l.armTimer()

	params, check, err := l.securityState(ctx)
	if err != nil {
		return err
	}
	oldKeys, err := l.deriveKeys(ctx, current, params)
	if err != nil {
		return err
	}
	defer oldKeys.Wipe()
	if !crypto.Verify(oldKeys.EncryptionKey, check) {
		l.logger.Warn("master password change refused: current password wrong")
		return fmt.Errorf("%w: current password is wrong", ErrAuthenticationFailed)
	}

	recs, err := l.client.GetAllEntries(ctx)
	if err != nil {
		return fmt.Errorf("fetching entries: %w", err)
	}
	plain := make([]entry.Fields, len(recs))
	for i, rec := range recs {
		f, err := entry.Decrypt(rec, oldKeys.EncryptionKey)
		if err != nil {
			l.logger.Warn("master password change aborted", slog.String("entry_id", rec.ID), "error", err)
			return fmt.Errorf("entry %s: %w", rec.ID, err)
		}
		plain[i] = f
	}

	newParams, err := crypto.NewKdfParams(l.iterations)
	if err != nil {
		return err
	}
	newKeys, err := l.deriveKeys(ctx, next, newParams)
	if err != nil {
		return err
	}
	defer newKeys.Wipe()

	rekeyed := make([]entry.Record, len(recs))
	for i, rec := range recs {
		out, err := entry.Encrypt(rec.ID, plain[i], newKeys.EncryptionKey)
		if err != nil {
			l.logger.Warn("master password change aborted", slog.String("entry_id", rec.ID), "error", err)
			return fmt.Errorf("entry %s: %w", rec.ID, err)
		}
		out.CreatedAt, out.UpdatedAt = rec.CreatedAt, rec.UpdatedAt
		rekeyed[i] = out
	}
	clear(plain)

	tokens, err := l.client.UpdateMasterPassword(ctx, transport.MasterPasswordChange{
		OldAuthHash:  oldKeys.AuthHash,
		NewAuthHash:  newKeys.AuthHash,
		NewKdfParams: newParams,
		Entries:      rekeyed,
	})
	if err != nil {
		return fmt.Errorf("submitting master password change: %w", err)
	}

	if err := l.commitRekey(ctx, newParams, newKeys.EncryptionKey, tokens); err != nil {
		// The server already holds the new state; local state can no longer
		// be trusted to match it.
		l.logger.Error("master password changed remotely but local update failed", "error", err)
		return fmt.Errorf("%w: %w", ErrMissingSecurityState, err)
	}
	l.logger.Info("master password changed", slog.Int("entries", len(rekeyed)))
	return nil
}

func (l *Lock) commitRekey(ctx context.Context, params crypto.KdfParams, key []byte, tokens transport.Tokens) error {
	check, err := crypto.ComputeCheck(key)
	if err != nil {
		return err
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return err
	}
	if tokens.Empty() {
		tokens = l.currentTokens(ctx)
	}
	err = l.store.Batch(ctx, storage.ScopeDurable, func(tx storage.Tx) error {
		if err := tx.Put(keyKdfParams, rawParams); err != nil {
			return err
		}
		if err := tx.Put(keyKeyCheck, check); err != nil {
			return err
		}
		return putTokens(tx, tokens)
	})
	if err != nil {
		return err
	}
	l.client.SetTokens(tokens)

	l.mu.RLock()
	policy := l.policy
	l.mu.RUnlock()
	if err := l.installKey(ctx, key, policy); err != nil {
		return err
	}

	l.mu.RLock()
	listeners := append([]func(){}, l.rekeyed...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
	return nil
}

func (l *Lock) currentTokens(ctx context.Context) transport.Tokens {
	access, _ := l.getOptional(ctx, storage.ScopeDurable, keyAccessToken)
	refresh, _ := l.getOptional(ctx, storage.ScopeDurable, keyRefreshToken)
	return transport.Tokens{AccessToken: string(access), RefreshToken: string(refresh)}
}
