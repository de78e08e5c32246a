package icrypto

import (
	"encoding/binary"
)

const (
	aadField = "FIELD"
)

// AADField binds a field ciphertext to the record it belongs to and the
// field slot it occupies, so ciphertexts cannot be moved between records or
// swapped between fields.
func AADField(recordID, fieldName string, ver int) []byte {
	return buildAAD(aadField, recordID, fieldName, ver)
}

func buildAAD(parts ...any) []byte {
	var res []byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			res = appendLenPrefix(res, []byte(v))
		case int:
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, uint32(v))
			res = append(res, b...)
		}
	}
	return res
}

func appendLenPrefix(b, data []byte) []byte {
	l := make([]byte, 4)
	binary.BigEndian.PutUint32(l, uint32(len(data)))
	b = append(b, l...)
	b = append(b, data...)
	return b
}
