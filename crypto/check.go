package crypto

import (
	"crypto/subtle"
	"fmt"

	"github.com/jmcleod/ironkey/internal/util"
)

// CheckValueSize is the size of a key check value.
const CheckValueSize = 64

var keyCheckLabel = []byte("ironkey:key-check:v1")

// ComputeCheck returns SHA-512(key || label), a one-way fingerprint of an
// encryption key that is safe to persist.
func ComputeCheck(key []byte) ([]byte, error) {
	if len(key) != EncryptionKeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrInvalidInput, EncryptionKeySize)
	}
	return util.SHA512(key, keyCheckLabel), nil
}

// Verify reports whether key matches storedCheck. An absent or malformed
// check value never verifies.
func Verify(key, storedCheck []byte) bool {
	if len(storedCheck) != CheckValueSize {
		return false
	}
	candidate, err := ComputeCheck(key)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(candidate, storedCheck) == 1
}
