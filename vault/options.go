package vault

import "log/slog"

// Option configures a Vault.
type Option func(*Vault)

// WithLogger sets the structured logger used for per-entry failures.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Vault) {
		v.logger = logger
	}
}
