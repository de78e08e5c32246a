// Package transport defines the contract between the vault core and the
// server. Payloads are opaque to the server: it only ever sees the auth hash,
// KDF parameters and encrypted records.
package transport

import (
	"context"
	"time"

	"github.com/jmcleod/ironkey/crypto"
	"github.com/jmcleod/ironkey/entry"
)

// Tokens are the credentials issued by a successful login or registration.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Empty reports whether no access token is set.
func (t Tokens) Empty() bool {
	return t.AccessToken == ""
}

// RegisterRequest creates an account. The password never appears here.
type RegisterRequest struct {
	Username  string
	Email     string
	AuthHash  []byte
	KdfParams crypto.KdfParams
}

// MasterPasswordChange re-keys an account in one call. Entries must cover
// every stored entry, each re-encrypted under the new key.
type MasterPasswordChange struct {
	OldAuthHash  []byte
	NewAuthHash  []byte
	NewKdfParams crypto.KdfParams
	Entries      []entry.Record
}

// Client is the transport the core consumes. Calls other than
// GetKdfParams, Register and Login require tokens set by SetTokens.
type Client interface {
	// GetKdfParams returns a plausible value for any username, real or not.
	GetKdfParams(ctx context.Context, username string) (crypto.KdfParams, error)
	Register(ctx context.Context, req RegisterRequest) (Tokens, error)
	Login(ctx context.Context, username string, authHash []byte) (Tokens, error)

	GetAllEntries(ctx context.Context) ([]entry.Record, error)
	GetEntry(ctx context.Context, id string) (entry.Record, error)
	CreateEntry(ctx context.Context, rec entry.Record) (entry.Record, error)
	UpdateEntry(ctx context.Context, rec entry.Record) (entry.Record, error)
	DeleteEntry(ctx context.Context, id string) error

	UpdateMasterPassword(ctx context.Context, change MasterPasswordChange) (Tokens, error)
	GetVaultLastModified(ctx context.Context) (time.Time, error)

	SetTokens(tokens Tokens)
}
