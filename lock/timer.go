package lock

import (
	"context"
	"log/slog"
)

// ResetIdleTimer is the activity signal. It restarts the countdown while
// Unlocked and does nothing otherwise.
func (l *Lock) ResetIdleTimer() {
	if l.State() != Unlocked {
		return
	}
	l.armTimer()
}

// armTimer replaces any pending expiry. Each arming gets a generation so a
// timer that fires after being replaced or stopped is ignored. Only an
// Unlocked vault has a countdown.
func (l *Lock) armTimer() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.timerGen++
	if l.state != Unlocked || l.policy.IdleTimeout == Never {
		return
	}
	gen := l.timerGen
	l.timer = l.newTimer(l.policy.IdleTimeout, func() { l.expire(gen) })
}

func (l *Lock) stopTimer() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.timerGen++
}

func (l *Lock) expire(gen uint64) {
	l.ops.Lock()
	defer l.ops.Unlock()

	l.mu.RLock()
	stale := gen != l.timerGen || l.state != Unlocked
	action := l.policy.TimeoutAction
	l.mu.RUnlock()
	if stale {
		return
	}

	l.logger.Info("idle timeout expired", slog.String("action", string(action)))
	ctx := context.Background()
	var err error
	if action == ActionLogout {
		err = l.logoutLocked(ctx, "idle timeout")
	} else {
		err = l.lockLocked(ctx, "idle timeout")
	}
	if err != nil {
		l.logger.Error("idle timeout transition incomplete", "error", err)
	}
}
