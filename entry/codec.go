package entry

import (
	"fmt"

	"github.com/jmcleod/ironkey/crypto"
	icrypto "github.com/jmcleod/ironkey/internal/crypto"
	"github.com/jmcleod/ironkey/internal/util"
)

// Encrypt seals all five fields of an entry under encryptionKey. One nonce
// is generated for the record and every field is a separate cipher call
// with that nonce under its own field subkey. Empty optional fields are
// encrypted as empty strings, never omitted.
func Encrypt(id string, fields Fields, encryptionKey []byte) (Record, error) {
	if id == "" {
		return Record{}, fmt.Errorf("%w: id must not be empty", ErrInvalidEntry)
	}
	if fields.Name == "" {
		return Record{}, fmt.Errorf("%w: name must not be empty", ErrInvalidEntry)
	}
	if len(encryptionKey) != crypto.EncryptionKeySize {
		return Record{}, fmt.Errorf("%w: encryption key must be %d bytes", crypto.ErrInvalidInput, crypto.EncryptionKeySize)
	}

	nonce, err := crypto.NewNonce()
	if err != nil {
		return Record{}, err
	}

	rec := Record{ID: id, Nonce: nonce}
	for _, s := range slots(&fields, &rec) {
		ct, err := sealField(encryptionKey, nonce, id, s.name, *s.plain)
		if err != nil {
			return Record{}, fmt.Errorf("encrypting %s: %w", s.name, err)
		}
		*s.cipher = ct
	}
	return rec, nil
}

// Decrypt opens every field of rec. Failure of any field fails the whole
// record with crypto.ErrDecryptionFailed; partial results are never returned.
func Decrypt(rec Record, encryptionKey []byte) (Fields, error) {
	if rec.IsLegacy() {
		return Fields{}, fmt.Errorf("entry %s: %w", rec.ID, ErrUnsupportedFormat)
	}
	if len(encryptionKey) != crypto.EncryptionKeySize {
		return Fields{}, fmt.Errorf("%w: encryption key must be %d bytes", crypto.ErrInvalidInput, crypto.EncryptionKeySize)
	}

	var out Fields
	for _, s := range slots(&out, &rec) {
		pt, err := openField(encryptionKey, rec.Nonce, rec.ID, s.name, *s.cipher)
		if err != nil {
			return Fields{}, fmt.Errorf("entry %s: field %s: %w", rec.ID, s.name, err)
		}
		*s.plain = string(pt)
		util.WipeBytes(pt)
	}
	return out, nil
}

func sealField(encryptionKey, nonce []byte, recordID, name, plain string) ([]byte, error) {
	fieldKey, err := icrypto.DeriveFieldKey(encryptionKey, nonce, name)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(fieldKey)
	return crypto.EncryptFieldWithNonce([]byte(plain), fieldKey, nonce, icrypto.AADField(recordID, name, formatVersion))
}

func openField(encryptionKey, nonce []byte, recordID, name string, ct []byte) ([]byte, error) {
	if len(nonce) != crypto.NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", crypto.ErrDecryptionFailed, crypto.NonceSize)
	}
	fieldKey, err := icrypto.DeriveFieldKey(encryptionKey, nonce, name)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(fieldKey)
	return crypto.DecryptFieldWithAAD(ct, fieldKey, nonce, icrypto.AADField(recordID, name, formatVersion))
}
