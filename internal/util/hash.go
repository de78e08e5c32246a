package util

import (
	"crypto/sha256"
	"crypto/sha512"
)

// SHA512 returns the SHA-512 digest of the concatenated parts.
func SHA512(parts ...[]byte) []byte {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// SHA256 returns the SHA-256 digest of the concatenated parts.
func SHA256(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}
