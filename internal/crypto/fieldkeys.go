package icrypto

import "github.com/jmcleod/ironkey/internal/util"

const fieldKeyInfo = "ironkey:field-key:v1:"

// DeriveFieldKey derives the subkey used for one field of one record. The
// record nonce is the HKDF salt, so every (subkey, nonce) pair fed to the
// cipher is unique even though all fields of a record share the nonce.
func DeriveFieldKey(encryptionKey, nonce []byte, fieldName string) ([]byte, error) {
	return util.HKDF(encryptionKey, nonce, []byte(fieldKeyInfo+fieldName))
}
