package lock

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the lifecycle state of the encryption key.
type State int

const (
	// LoggedOut: no account, no tokens, no key.
	LoggedOut State = iota
	// Locked: authenticated, key not resident.
	Locked
	// Unlocked: key resident in memory.
	Unlocked
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged-out"
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TimeoutAction is what idle expiry does.
type TimeoutAction string

const (
	ActionLock   TimeoutAction = "lock"
	ActionLogout TimeoutAction = "logout"
)

// Never disables the idle timer.
const Never time.Duration = 0

const (
	DefaultIdleTimeout = 15 * time.Minute
	MinPasswordLength  = 12
)

// Policy is the user-configured lock behaviour. It is persisted durably.
type Policy struct {
	IdleTimeout   time.Duration `json:"idle_timeout"`
	TimeoutAction TimeoutAction `json:"timeout_action"`
	// LockOnClose evicts the key when the process closes. Turning it off
	// mirrors the encryption key to durable storage so the vault reopens
	// unlocked; that weakens the local-only key guarantee and is opt-in.
	LockOnClose bool `json:"lock_on_close"`
}

// DefaultPolicy locks after 15 minutes and on close.
func DefaultPolicy() Policy {
	return Policy{
		IdleTimeout:   DefaultIdleTimeout,
		TimeoutAction: ActionLock,
		LockOnClose:   true,
	}
}

// Validate checks p is usable.
func (p Policy) Validate() error {
	if p.IdleTimeout < 0 {
		return fmt.Errorf("idle timeout must not be negative")
	}
	switch p.TimeoutAction {
	case ActionLock, ActionLogout:
	default:
		return fmt.Errorf("unknown timeout action %q", p.TimeoutAction)
	}
	return nil
}

func (p Policy) marshal() ([]byte, error) {
	return json.Marshal(p)
}

func parsePolicy(b []byte) (Policy, error) {
	var p Policy
	if err := json.Unmarshal(b, &p); err != nil {
		return Policy{}, fmt.Errorf("decoding policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}
