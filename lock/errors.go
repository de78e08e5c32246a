package lock

import (
	"errors"
	"fmt"

	"github.com/jmcleod/ironkey/crypto"
)

var (
	// ErrAuthenticationFailed means the password did not verify, locally
	// against the key check value or remotely against the auth hash.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrMissingSecurityState means the local key check value or KDF
	// parameters are gone. The local state is inconsistent and a full
	// re-login is required.
	ErrMissingSecurityState = errors.New("missing security state: log in again")
	// ErrLocked is returned when the encryption key is not resident.
	ErrLocked = errors.New("vault is locked")
	// ErrNotLoggedIn is returned when no account is logged in.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrInvalidState is returned when an operation is not allowed from the
	// current state.
	ErrInvalidState = errors.New("invalid state for operation")
	// ErrPasswordTooShort is returned for new passwords under
	// MinPasswordLength characters.
	ErrPasswordTooShort = fmt.Errorf("%w: password must be at least %d characters", crypto.ErrInvalidInput, MinPasswordLength)
)
