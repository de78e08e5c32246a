// Package entry converts vault entries between their decrypted field set and
// the encrypted record the server stores.
package entry

import (
	"time"

	"github.com/jmcleod/ironkey/internal/util"
)

const (
	fieldName        = "name"
	fieldUsername    = "username"
	fieldPassword    = "password"
	fieldDescription = "description"
	fieldWebsiteURL  = "website_url"

	formatVersion = 1
)

// Fields is the decrypted projection of an entry. It is transient and must
// never be written to storage in this shape.
type Fields struct {
	Name        string
	Username    string
	Password    string
	Description string
	WebsiteURL  string
}

// Record is the encrypted form of an entry as exchanged with the server.
// All five ciphertexts share Nonce; a record without a nonce is a legacy
// record and is refused.
type Record struct {
	ID                   string    `json:"id"`
	EncryptedName        []byte    `json:"encrypted_name"`
	EncryptedUsername    []byte    `json:"encrypted_username"`
	EncryptedPassword    []byte    `json:"encrypted_password"`
	EncryptedDescription []byte    `json:"encrypted_description"`
	EncryptedWebsiteURL  []byte    `json:"encrypted_website_url"`
	Nonce                []byte    `json:"nonce,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	return Record{
		ID:                   r.ID,
		EncryptedName:        util.CopyBytes(r.EncryptedName),
		EncryptedUsername:    util.CopyBytes(r.EncryptedUsername),
		EncryptedPassword:    util.CopyBytes(r.EncryptedPassword),
		EncryptedDescription: util.CopyBytes(r.EncryptedDescription),
		EncryptedWebsiteURL:  util.CopyBytes(r.EncryptedWebsiteURL),
		Nonce:                util.CopyBytes(r.Nonce),
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

// IsLegacy reports whether r predates per-record nonces.
func (r Record) IsLegacy() bool {
	return len(r.Nonce) == 0
}

type slot struct {
	name   string
	plain  *string
	cipher *[]byte
}

func slots(f *Fields, r *Record) []slot {
	return []slot{
		{fieldName, &f.Name, &r.EncryptedName},
		{fieldUsername, &f.Username, &r.EncryptedUsername},
		{fieldPassword, &f.Password, &r.EncryptedPassword},
		{fieldDescription, &f.Description, &r.EncryptedDescription},
		{fieldWebsiteURL, &f.WebsiteURL, &r.EncryptedWebsiteURL},
	}
}
