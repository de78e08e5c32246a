package entry

import "errors"

var (
	// ErrUnsupportedFormat marks a legacy record without a nonce. Such records
	// must be re-saved by a current client; they are never decrypted.
	ErrUnsupportedFormat = errors.New("unsupported record format: re-save required")
	// ErrInvalidEntry indicates a field set that cannot be stored.
	ErrInvalidEntry = errors.New("invalid entry")
)
