// Package storage provides the persistence boundary of the vault core: a
// key-value store split into a session scope, cleared on lock and restart,
// and a durable scope that survives restarts.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("not found")

// Scope names one of the two storage areas.
type Scope int

const (
	// ScopeSession holds data that must not outlive the running session.
	ScopeSession Scope = iota
	// ScopeDurable holds non-secret data that survives restarts, plus the
	// encryption key mirror when lock-on-close is disabled.
	ScopeDurable
)

func (s Scope) String() string {
	switch s {
	case ScopeSession:
		return "session"
	case ScopeDurable:
		return "durable"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// Tx provides writes within an atomic batch.
type Tx interface {
	Put(key string, value []byte) error
	Delete(key string) error
}

// KV is a flat key-value store backing one scope.
type KV interface {
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// Delete is a no-op when key is absent.
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// Batch runs fn atomically: on error none of its writes are applied.
	Batch(ctx context.Context, fn func(tx Tx) error) error
}

// Adapter is the storage surface the core talks to. It never branches on
// the environment; the backend behind each scope is chosen at wiring time.
type Adapter interface {
	Get(ctx context.Context, scope Scope, key string) ([]byte, error)
	Put(ctx context.Context, scope Scope, key string, value []byte) error
	Delete(ctx context.Context, scope Scope, keys ...string) error
	Clear(ctx context.Context, scope Scope) error
	Batch(ctx context.Context, scope Scope, fn func(tx Tx) error) error
}

// Scoped routes each scope to its own KV.
type Scoped struct {
	session KV
	durable KV
}

var _ Adapter = (*Scoped)(nil)

// NewAdapter returns an Adapter over the given session and durable stores.
func NewAdapter(session, durable KV) *Scoped {
	return &Scoped{session: session, durable: durable}
}

func (s *Scoped) kv(scope Scope) (KV, error) {
	switch scope {
	case ScopeSession:
		return s.session, nil
	case ScopeDurable:
		return s.durable, nil
	default:
		return nil, fmt.Errorf("unknown storage %s", scope)
	}
}

func (s *Scoped) Get(ctx context.Context, scope Scope, key string) ([]byte, error) {
	kv, err := s.kv(scope)
	if err != nil {
		return nil, err
	}
	return kv.Get(ctx, key)
}

func (s *Scoped) Put(ctx context.Context, scope Scope, key string, value []byte) error {
	kv, err := s.kv(scope)
	if err != nil {
		return err
	}
	return kv.Put(ctx, key, value)
}

func (s *Scoped) Delete(ctx context.Context, scope Scope, keys ...string) error {
	kv, err := s.kv(scope)
	if err != nil {
		return err
	}
	if len(keys) == 1 {
		return kv.Delete(ctx, keys[0])
	}
	return kv.Batch(ctx, func(tx Tx) error {
		for _, k := range keys {
			if err := tx.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Scoped) Clear(ctx context.Context, scope Scope) error {
	kv, err := s.kv(scope)
	if err != nil {
		return err
	}
	return kv.Clear(ctx)
}

func (s *Scoped) Batch(ctx context.Context, scope Scope, fn func(tx Tx) error) error {
	kv, err := s.kv(scope)
	if err != nil {
		return err
	}
	return kv.Batch(ctx, fn)
}
