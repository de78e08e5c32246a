package util

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const PBKDF2KeyLength = 32

// DerivePBKDF2Key stretches passphrase with PBKDF2-HMAC-SHA256. The
// passphrase is NFKD-normalised so the same password typed on different
// platforms yields the same key.
func DerivePBKDF2Key(passphrase string, salt []byte, iterations int) ([]byte, error) {
	if iterations <= 0 {
		return nil, fmt.Errorf("pbkdf2 iterations must be positive, got %d", iterations)
	}
	pw := []byte(Normalize(passphrase))
	defer WipeBytes(pw)
	return pbkdf2.Key(pw, salt, iterations, PBKDF2KeyLength, sha256.New), nil
}
