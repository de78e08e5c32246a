package crypto

import "errors"

var (
	// ErrInvalidInput indicates a malformed password, salt, key, or parameter.
	// It is local and not retryable without new input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDecryptionFailed indicates the ciphertext, nonce, and key did not
	// authenticate together: the data was tampered with or the key is wrong.
	ErrDecryptionFailed = errors.New("decryption failed")
)
