package rest

import (
	"time"

	"github.com/jmcleod/ironkey/crypto"
	"github.com/jmcleod/ironkey/entry"
)

// Wire types. Byte fields are standard base64 strings; times are RFC 3339.
// Responses must match these shapes exactly: unknown fields are a transport
// error, never guessed around.

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username  string           `json:"username"`
	Email     string           `json:"email"`
	AuthHash  []byte           `json:"auth_hash"`
	KdfParams crypto.KdfParams `json:"kdf_params"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	AuthHash []byte `json:"auth_hash"`
}

// MasterPasswordRequest is the body of PUT /auth/master-password.
type MasterPasswordRequest struct {
	OldAuthHash  []byte           `json:"old_auth_hash"`
	NewAuthHash  []byte           `json:"new_auth_hash"`
	NewKdfParams crypto.KdfParams `json:"new_kdf_params"`
	Entries      []entry.Record   `json:"entries"`
}

// EntriesResponse is the body of GET /entries.
type EntriesResponse struct {
	Entries []entry.Record `json:"entries"`
}

// LastModifiedResponse is the body of GET /vault/last-modified.
type LastModifiedResponse struct {
	LastModified time.Time `json:"last_modified"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
