// Package lock owns the encryption key lifecycle: login and registration,
// unlock against the local key check value, lock and logout, idle expiry,
// and master-password rotation. It is the only writer of the live key; other
// packages borrow it for the duration of one WithKey call.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ironkey/crypto"
	"github.com/jmcleod/ironkey/storage"
	"github.com/jmcleod/ironkey/transport"
)

// Timer is a pending idle expiry.
type Timer interface {
	Stop() bool
}

// TimerFunc schedules f after d, like time.AfterFunc.
type TimerFunc func(d time.Duration, f func()) Timer

func afterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Lock is the vault lock state machine.
type Lock struct {
	store  storage.Adapter
	client transport.Client

	iterations int
	newTimer   TimerFunc
	now        func() time.Time
	derive     func(password string, params crypto.KdfParams) (*crypto.DerivedKeys, error)
	logger     *slog.Logger

	// ops serialises transitions, including idle expiry.
	ops sync.Mutex

	// lease is held shared by WithKey callbacks and exclusively while the
	// live key is replaced or dropped, so eviction waits for borrowers.
	lease sync.RWMutex

	mu        sync.RWMutex
	state     State
	username  string
	key       *memguard.Enclave
	policy    Policy
	timer     Timer
	timerGen  uint64
	listeners []func(from, to State)
	rekeyed   []func()
}

// Option configures a Lock.
type Option func(*Lock)

// WithIterations sets the PBKDF2 work factor used for new KDF parameters.
func WithIterations(n int) Option {
	return func(l *Lock) { l.iterations = n }
}

// WithTimerFunc replaces time.AfterFunc for the idle timer.
func WithTimerFunc(f TimerFunc) Option {
	return func(l *Lock) { l.newTimer = f }
}

// WithClock overrides the time source used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(l *Lock) { l.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lock) { l.logger = logger }
}

// New returns a Lock in the LoggedOut state. Call Restore to pick up
// persisted state.
func New(store storage.Adapter, client transport.Client, opts ...Option) (*Lock, error) {
	l := &Lock{
		store:      store,
		client:     client,
		iterations: crypto.DefaultIterations,
		newTimer:   afterFunc,
		now:        time.Now,
		derive:     crypto.DeriveKeys,
		logger:     slog.Default(),
		state:      LoggedOut,
		policy:     DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.iterations <= 0 {
		return nil, fmt.Errorf("%w: iterations must be positive", crypto.ErrInvalidInput)
	}
	return l, nil
}

// State returns the current state.
func (l *Lock) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Username returns the logged-in account, or "" when logged out.
func (l *Lock) Username() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.username
}

// OnChange registers fn to run after every state transition. fn runs with
// transitions blocked and must not call back into transition methods.
func (l *Lock) OnChange(fn func(from, to State)) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// OnRekey registers fn to run after the master password changes and the
// live key has been replaced. The state stays Unlocked, so OnChange
// listeners are not called.
func (l *Lock) OnRekey(fn func()) {
	l.mu.Lock()
	l.rekeyed = append(l.rekeyed, fn)
	l.mu.Unlock()
}

// WithKey calls fn with the live encryption key. The buffer is destroyed
// when fn returns; fn must not retain it. Lock and Logout wait for fn to
// return before they complete, and fn must not call back into the Lock.
func (l *Lock) WithKey(fn func(key []byte) error) error {
	l.lease.RLock()
	defer l.lease.RUnlock()

	l.mu.RLock()
	state, enclave := l.state, l.key
	l.mu.RUnlock()

	switch {
	case state == LoggedOut:
		return ErrNotLoggedIn
	case state != Unlocked || enclave == nil:
		return ErrLocked
	}
	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// transition moves to state to and notifies listeners. Callers hold ops.
func (l *Lock) transition(to State, reason string) {
	l.mu.Lock()
	from := l.state
	l.state = to
	listeners := append([]func(from, to State){}, l.listeners...)
	l.mu.Unlock()

	if from == to {
		return
	}
	l.logger.Info("vault state changed",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("reason", reason))
	for _, fn := range listeners {
		fn(from, to)
	}
}

// deriveKeys runs the password stretch on its own goroutine so the caller
// can give up on ctx. An abandoned derivation finishes and is wiped.
func (l *Lock) deriveKeys(ctx context.Context, password string, params crypto.KdfParams) (*crypto.DerivedKeys, error) {
	type result struct {
		keys *crypto.DerivedKeys
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		keys, err := l.derive(password, params)
		ch <- result{keys, err}
	}()

	select {
	case r := <-ch:
		return r.keys, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.keys != nil {
				r.keys.Wipe()
			}
		}()
		return nil, ctx.Err()
	}
}
