// Package crypto holds the client-side key hierarchy: password stretching,
// the one-way expansions that split the master key into an authentication
// value and an encryption key, field encryption, and the local key check.
package crypto

import (
	"fmt"

	"github.com/jmcleod/ironkey/internal/util"
)

const (
	// DefaultIterations is the PBKDF2 work factor used at registration.
	DefaultIterations = 600000
	// SaltSize is the size of freshly generated salts.
	SaltSize = 16
	// MinSaltSize is the smallest salt accepted for derivation.
	MinSaltSize = 16

	MasterKeySize     = util.PBKDF2KeyLength
	AuthHashSize      = 64
	EncryptionKeySize = util.AESKeySize
)

var encryptionKeyLabel = []byte("ironkey:encryption-key:v1")

// KdfParams are the per-user, non-secret inputs to password stretching.
type KdfParams struct {
	Salt       []byte `json:"salt"`
	Iterations int    `json:"iterations"`
}

// NewKdfParams returns parameters with a fresh random salt.
func NewKdfParams(iterations int) (KdfParams, error) {
	if iterations <= 0 {
		return KdfParams{}, fmt.Errorf("%w: iterations must be positive", ErrInvalidInput)
	}
	salt, err := util.RandomBytes(SaltSize)
	if err != nil {
		return KdfParams{}, err
	}
	return KdfParams{Salt: salt, Iterations: iterations}, nil
}

// Validate checks the parameters are usable for derivation.
func (p KdfParams) Validate() error {
	if len(p.Salt) < MinSaltSize {
		return fmt.Errorf("%w: salt must be at least %d bytes, got %d", ErrInvalidInput, MinSaltSize, len(p.Salt))
	}
	if p.Iterations <= 0 {
		return fmt.Errorf("%w: iterations must be positive", ErrInvalidInput)
	}
	return nil
}

// Clone returns a deep copy of p.
func (p KdfParams) Clone() KdfParams {
	return KdfParams{Salt: util.CopyBytes(p.Salt), Iterations: p.Iterations}
}

// DeriveMasterKey stretches password with PBKDF2-HMAC-SHA256 into a 256-bit
// master key. It is deterministic: the same inputs always yield the same key.
func DeriveMasterKey(password string, salt []byte, iterations int) ([]byte, error) {
	if password == "" {
		return nil, fmt.Errorf("%w: password must not be empty", ErrInvalidInput)
	}
	if err := (KdfParams{Salt: salt, Iterations: iterations}).Validate(); err != nil {
		return nil, err
	}
	return util.DerivePBKDF2Key(password, salt, iterations)
}

// DeriveAuthHash is the value sent to the server in place of the password:
// a single SHA-512 of the master key.
func DeriveAuthHash(masterKey []byte) ([]byte, error) {
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes", ErrInvalidInput, MasterKeySize)
	}
	return util.SHA512(masterKey), nil
}

// DeriveEncryptionKey is SHA-256(masterKey || label). The label keeps it
// independent of the auth hash; neither can be computed from the other.
func DeriveEncryptionKey(masterKey []byte) ([]byte, error) {
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes", ErrInvalidInput, MasterKeySize)
	}
	return util.SHA256(masterKey, encryptionKeyLabel), nil
}

// DerivedKeys holds the two values split from one master key.
type DerivedKeys struct {
	AuthHash      []byte
	EncryptionKey []byte
}

// Wipe zeroes both derived values.
func (k *DerivedKeys) Wipe() {
	if k == nil {
		return
	}
	util.WipeBytes(k.AuthHash)
	util.WipeBytes(k.EncryptionKey)
}

// DeriveKeys runs one stretching pass and both expansions. The master key
// never leaves this call.
func DeriveKeys(password string, params KdfParams) (*DerivedKeys, error) {
	masterKey, err := DeriveMasterKey(password, params.Salt, params.Iterations)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(masterKey)

	authHash, err := DeriveAuthHash(masterKey)
	if err != nil {
		return nil, err
	}
	encKey, err := DeriveEncryptionKey(masterKey)
	if err != nil {
		util.WipeBytes(authHash)
		return nil, err
	}
	return &DerivedKeys{AuthHash: authHash, EncryptionKey: encKey}, nil
}
