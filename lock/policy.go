package lock

import (
	"context"
	"fmt"

	"github.com/jmcleod/ironkey/storage"
)

// Policy returns the active policy.
func (l *Lock) Policy() Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.policy
}

// SetPolicy persists p and applies it: the idle timer is re-armed and, while
// Unlocked, the durable key mirror follows LockOnClose.
func (l *Lock) SetPolicy(ctx context.Context, p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	raw, err := p.marshal()
	if err != nil {
		return err
	}

	l.ops.Lock()
	defer l.ops.Unlock()

	if err := l.store.Put(ctx, storage.ScopeDurable, keyPolicy, raw); err != nil {
		return fmt.Errorf("storing policy: %w", err)
	}
	l.mu.Lock()
	l.policy = p
	l.mu.Unlock()

	if l.State() != Unlocked {
		return nil
	}
	if p.LockOnClose {
		if err := l.store.Delete(ctx, storage.ScopeDurable, keyEncryptionKey); err != nil {
			return fmt.Errorf("removing durable key: %w", err)
		}
	} else {
		err := l.WithKey(func(key []byte) error {
			return l.store.Put(ctx, storage.ScopeDurable, keyEncryptionKey, key)
		})
		if err != nil {
			return fmt.Errorf("storing durable key: %w", err)
		}
	}
	l.armTimer()
	l.logger.Info("lock policy updated",
		"idle_timeout", p.IdleTimeout,
		"timeout_action", string(p.TimeoutAction),
		"lock_on_close", p.LockOnClose)
	return nil
}
