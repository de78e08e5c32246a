package crypto

import (
	"fmt"

	"github.com/jmcleod/ironkey/internal/util"
)

// NonceSize is the size of the per-record nonce.
const NonceSize = util.GCMNonceSize

// NewNonce returns a fresh random nonce.
func NewNonce() ([]byte, error) {
	return util.NewGCMNonce()
}

// EncryptField encrypts plaintext under key with AES-256-GCM and a freshly
// generated nonce.
func EncryptField(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	nonce, err = NewNonce()
	if err != nil {
		return nil, nil, err
	}
	ciphertext, err = EncryptFieldWithNonce(plaintext, key, nonce, nil)
	if err != nil {
		return nil, nil, err
	}
	return ciphertext, nonce, nil
}

// EncryptFieldWithNonce encrypts with a caller-supplied nonce. The caller
// must never reuse a (key, nonce) pair for different plaintexts.
func EncryptFieldWithNonce(plaintext, key, nonce, aad []byte) ([]byte, error) {
	if len(key) != EncryptionKeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrInvalidInput, EncryptionKeySize)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrInvalidInput, NonceSize)
	}
	ct, err := util.SealAES(plaintext, key, nonce, aad)
	if err != nil {
		return nil, fmt.Errorf("encrypting field: %w", err)
	}
	return ct, nil
}

// DecryptField reverses EncryptField.
func DecryptField(ciphertext, key, nonce []byte) ([]byte, error) {
	return DecryptFieldWithAAD(ciphertext, key, nonce, nil)
}

// DecryptFieldWithAAD reverses EncryptFieldWithNonce. Any authentication
// failure, including a malformed nonce, is reported as ErrDecryptionFailed.
func DecryptFieldWithAAD(ciphertext, key, nonce, aad []byte) ([]byte, error) {
	if len(key) != EncryptionKeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrInvalidInput, EncryptionKeySize)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrDecryptionFailed, NonceSize, len(nonce))
	}
	pt, err := util.OpenAES(ciphertext, key, nonce, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return pt, nil
}
