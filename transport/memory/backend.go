// Package memory provides an in-process reference backend and a
// transport.Client bound to it. It stores only what a real server would: a
// server-side hash of the auth hash, KDF parameters and encrypted records.
package memory

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jmcleod/ironkey/crypto"
	"github.com/jmcleod/ironkey/entry"
	"github.com/jmcleod/ironkey/internal/util"
	"github.com/jmcleod/ironkey/internal/uuid"
	"github.com/jmcleod/ironkey/transport"
)

const (
	DefaultTokenTTL   = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour

	verifierSaltSize = 16
)

var decoyLabel = []byte("ironkey:kdf-decoy:v1:")

type account struct {
	username     string
	email        string
	kdf          crypto.KdfParams
	verifierSalt []byte
	verifier     []byte
	generation   int
	entries      map[string]entry.Record
	lastModified time.Time
}

// Backend is a thread-safe in-memory account and entry store.
type Backend struct {
	mu       sync.RWMutex
	accounts map[string]*account

	signingKey []byte
	decoyKey   []byte
	argon      util.Argon2idParams
	tokenTTL   time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	// verifier computed against a fixed salt so unknown-user logins cost the
	// same as real ones.
	dummySalt []byte
}

// Option configures a Backend.
type Option func(*Backend)

// WithTokenTTL sets the access token lifetime.
func WithTokenTTL(d time.Duration) Option {
	return func(b *Backend) { b.tokenTTL = d }
}

// WithRefreshTTL sets the refresh token lifetime.
func WithRefreshTTL(d time.Duration) Option {
	return func(b *Backend) { b.refreshTTL = d }
}

// WithSigningKey sets the HS256 token signing key. A random key is used
// otherwise, so tokens do not survive a restart.
func WithSigningKey(key []byte) Option {
	return func(b *Backend) { b.signingKey = util.CopyBytes(key) }
}

// WithArgon2idParams sets the cost of the server-side auth hash verifier.
func WithArgon2idParams(p util.Argon2idParams) Option {
	return func(b *Backend) { b.argon = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// NewBackend returns an empty backend.
func NewBackend(opts ...Option) (*Backend, error) {
	b := &Backend{
		accounts:   make(map[string]*account),
		argon:      util.DefaultArgon2idParams(),
		tokenTTL:   DefaultTokenTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	var err error
	if b.signingKey == nil {
		if b.signingKey, err = util.RandomBytes(32); err != nil {
			return nil, err
		}
	}
	if b.decoyKey, err = util.RandomBytes(32); err != nil {
		return nil, err
	}
	if b.dummySalt, err = util.RandomBytes(verifierSaltSize); err != nil {
		return nil, err
	}
	return b, nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// KdfParams returns the stored parameters for username, or decoy parameters
// derived from an HMAC of the username when no such account exists. Decoys
// are stable across calls and shaped like real parameters.
func (b *Backend) KdfParams(ctx context.Context, username string) (crypto.KdfParams, error) {
	if err := ctx.Err(); err != nil {
		return crypto.KdfParams{}, err
	}
	name := normalizeUsername(username)
	if name == "" {
		return crypto.KdfParams{}, fmt.Errorf("%w: username required", transport.ErrInvalidRequest)
	}

	b.mu.RLock()
	acct, ok := b.accounts[name]
	var params crypto.KdfParams
	if ok {
		params = acct.kdf.Clone()
	}
	b.mu.RUnlock()
	if ok {
		return params, nil
	}
	return b.decoyParams(name), nil
}

func (b *Backend) decoyParams(name string) crypto.KdfParams {
	mac := hmac.New(sha256.New, b.decoyKey)
	mac.Write(decoyLabel)
	mac.Write([]byte(name))
	return crypto.KdfParams{
		Salt:       mac.Sum(nil)[:crypto.SaltSize],
		Iterations: crypto.DefaultIterations,
	}
}

// Register creates an account and returns tokens for it.
func (b *Backend) Register(ctx context.Context, req transport.RegisterRequest) (transport.Tokens, error) {
	if err := ctx.Err(); err != nil {
		return transport.Tokens{}, err
	}
	name := normalizeUsername(req.Username)
	if name == "" {
		return transport.Tokens{}, fmt.Errorf("%w: username required", transport.ErrInvalidRequest)
	}
	if len(req.AuthHash) != crypto.AuthHashSize {
		return transport.Tokens{}, fmt.Errorf("%w: auth hash must be %d bytes", transport.ErrInvalidRequest, crypto.AuthHashSize)
	}
	if err := req.KdfParams.Validate(); err != nil {
		return transport.Tokens{}, fmt.Errorf("%w: %v", transport.ErrInvalidRequest, err)
	}

	salt, err := util.RandomBytes(verifierSaltSize)
	if err != nil {
		return transport.Tokens{}, err
	}
	verifier, err := util.DeriveArgon2idKey(req.AuthHash, salt, b.argon)
	if err != nil {
		return transport.Tokens{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.accounts[name]; exists {
		return transport.Tokens{}, fmt.Errorf("%w: username already registered", transport.ErrConflict)
	}
	acct := &account{
		username:     name,
		email:        strings.TrimSpace(req.Email),
		kdf:          req.KdfParams.Clone(),
		verifierSalt: salt,
		verifier:     verifier,
		entries:      make(map[string]entry.Record),
		lastModified: b.now().UTC(),
	}
	b.accounts[name] = acct
	return b.issueTokens(acct)
}

// Login verifies authHash and returns fresh tokens.
func (b *Backend) Login(ctx context.Context, username string, authHash []byte) (transport.Tokens, error) {
	if err := ctx.Err(); err != nil {
		return transport.Tokens{}, err
	}
	name := normalizeUsername(username)

	b.mu.RLock()
	acct, ok := b.accounts[name]
	var salt, verifier []byte
	if ok {
		salt, verifier = acct.verifierSalt, acct.verifier
	}
	b.mu.RUnlock()

	if !ok {
		_, _ = util.DeriveArgon2idKey(authHash, b.dummySalt, b.argon)
		return transport.Tokens{}, fmt.Errorf("%w: invalid credentials", transport.ErrUnauthorized)
	}
	match, err := util.CompareArgon2idKey(authHash, salt, b.argon, verifier)
	if err != nil {
		return transport.Tokens{}, err
	}
	if !match {
		return transport.Tokens{}, fmt.Errorf("%w: invalid credentials", transport.ErrUnauthorized)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.issueTokens(acct)
}

// Authenticate resolves an access token to its username.
func (b *Backend) Authenticate(accessToken string) (string, error) {
	claims, err := b.parseToken(accessToken, tokenTypeAccess)
	if err != nil {
		return "", err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	acct, ok := b.accounts[claims.Subject]
	if !ok || acct.generation != claims.Generation {
		return "", fmt.Errorf("%w: token revoked", transport.ErrUnauthorized)
	}
	return acct.username, nil
}

func (b *Backend) account(username string) (*account, error) {
	acct, ok := b.accounts[username]
	if !ok {
		return nil, fmt.Errorf("%w: unknown account", transport.ErrUnauthorized)
	}
	return acct, nil
}

// Entries returns all records of username sorted by id.
func (b *Backend) Entries(ctx context.Context, username string) ([]entry.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	acct, err := b.account(username)
	if err != nil {
		return nil, err
	}
	out := make([]entry.Record, 0, len(acct.entries))
	for _, id := range slices.Sorted(maps.Keys(acct.entries)) {
		out = append(out, acct.entries[id].Clone())
	}
	return out, nil
}

// Entry returns one record.
func (b *Backend) Entry(ctx context.Context, username, id string) (entry.Record, error) {
	if err := ctx.Err(); err != nil {
		return entry.Record{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	acct, err := b.account(username)
	if err != nil {
		return entry.Record{}, err
	}
	rec, ok := acct.entries[id]
	if !ok {
		return entry.Record{}, fmt.Errorf("entry %s: %w", id, transport.ErrNotFound)
	}
	return rec.Clone(), nil
}

func validateRecord(rec entry.Record) error {
	if !uuid.Valid(rec.ID) {
		return fmt.Errorf("%w: entry id must be a uuid", transport.ErrInvalidRequest)
	}
	if rec.IsLegacy() {
		return fmt.Errorf("%w: entry %s has no nonce", transport.ErrInvalidRequest, rec.ID)
	}
	return nil
}

// CreateEntry stores a new record. The id is chosen by the client.
func (b *Backend) CreateEntry(ctx context.Context, username string, rec entry.Record) (entry.Record, error) {
	if err := ctx.Err(); err != nil {
		return entry.Record{}, err
	}
	if err := validateRecord(rec); err != nil {
		return entry.Record{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acct, err := b.account(username)
	if err != nil {
		return entry.Record{}, err
	}
	if _, exists := acct.entries[rec.ID]; exists {
		return entry.Record{}, fmt.Errorf("entry %s: %w", rec.ID, transport.ErrConflict)
	}
	now := b.now().UTC()
	stored := rec.Clone()
	stored.CreatedAt, stored.UpdatedAt = now, now
	acct.entries[stored.ID] = stored
	acct.lastModified = now
	return stored.Clone(), nil
}

// UpdateEntry replaces an existing record, keeping its creation time.
func (b *Backend) UpdateEntry(ctx context.Context, username string, rec entry.Record) (entry.Record, error) {
	if err := ctx.Err(); err != nil {
		return entry.Record{}, err
	}
	if err := validateRecord(rec); err != nil {
		return entry.Record{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acct, err := b.account(username)
	if err != nil {
		return entry.Record{}, err
	}
	old, ok := acct.entries[rec.ID]
	if !ok {
		return entry.Record{}, fmt.Errorf("entry %s: %w", rec.ID, transport.ErrNotFound)
	}
	now := b.now().UTC()
	stored := rec.Clone()
	stored.CreatedAt, stored.UpdatedAt = old.CreatedAt, now
	acct.entries[stored.ID] = stored
	acct.lastModified = now
	return stored.Clone(), nil
}

// DeleteEntry removes a record.
func (b *Backend) DeleteEntry(ctx context.Context, username, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acct, err := b.account(username)
	if err != nil {
		return err
	}
	if _, ok := acct.entries[id]; !ok {
		return fmt.Errorf("entry %s: %w", id, transport.ErrNotFound)
	}
	delete(acct.entries, id)
	acct.lastModified = b.now().UTC()
	return nil
}

// UpdateMasterPassword swaps the auth verifier, KDF parameters and every
// record in one step. Nothing changes unless the old auth hash verifies and
// the submitted records cover the stored set exactly. Tokens issued before
// the change stop working; the returned tokens replace them.
func (b *Backend) UpdateMasterPassword(ctx context.Context, username string, change transport.MasterPasswordChange) (transport.Tokens, error) {
	if err := ctx.Err(); err != nil {
		return transport.Tokens{}, err
	}
	if len(change.NewAuthHash) != crypto.AuthHashSize {
		return transport.Tokens{}, fmt.Errorf("%w: auth hash must be %d bytes", transport.ErrInvalidRequest, crypto.AuthHashSize)
	}
	if err := change.NewKdfParams.Validate(); err != nil {
		return transport.Tokens{}, fmt.Errorf("%w: %v", transport.ErrInvalidRequest, err)
	}
	for _, rec := range change.Entries {
		if err := validateRecord(rec); err != nil {
			return transport.Tokens{}, err
		}
	}

	salt, err := util.RandomBytes(verifierSaltSize)
	if err != nil {
		return transport.Tokens{}, err
	}
	verifier, err := util.DeriveArgon2idKey(change.NewAuthHash, salt, b.argon)
	if err != nil {
		return transport.Tokens{}, err
	}

	// The old hash is checked without the write lock held; a rotation that
	// lands in between bumps the generation and this one is refused.
	b.mu.RLock()
	acct, err := b.account(username)
	var oldSalt, oldVerifier []byte
	var gen int
	if err == nil {
		oldSalt, oldVerifier, gen = acct.verifierSalt, acct.verifier, acct.generation
	}
	b.mu.RUnlock()
	if err != nil {
		return transport.Tokens{}, err
	}
	match, err := util.CompareArgon2idKey(change.OldAuthHash, oldSalt, b.argon, oldVerifier)
	if err != nil {
		return transport.Tokens{}, err
	}
	if !match {
		return transport.Tokens{}, fmt.Errorf("%w: invalid credentials", transport.ErrUnauthorized)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if acct.generation != gen {
		return transport.Tokens{}, fmt.Errorf("%w: master password changed concurrently", transport.ErrConflict)
	}

	if len(change.Entries) != len(acct.entries) {
		return transport.Tokens{}, fmt.Errorf("%w: expected %d entries, got %d", transport.ErrConflict, len(acct.entries), len(change.Entries))
	}
	now := b.now().UTC()
	next := make(map[string]entry.Record, len(change.Entries))
	for _, rec := range change.Entries {
		old, ok := acct.entries[rec.ID]
		if !ok {
			return transport.Tokens{}, fmt.Errorf("%w: unknown entry %s", transport.ErrConflict, rec.ID)
		}
		if _, dup := next[rec.ID]; dup {
			return transport.Tokens{}, fmt.Errorf("%w: duplicate entry %s", transport.ErrConflict, rec.ID)
		}
		stored := rec.Clone()
		stored.CreatedAt, stored.UpdatedAt = old.CreatedAt, now
		next[rec.ID] = stored
	}

	acct.kdf = change.NewKdfParams.Clone()
	acct.verifierSalt = salt
	acct.verifier = verifier
	acct.entries = next
	acct.generation++
	acct.lastModified = now
	return b.issueTokens(acct)
}

// LastModified returns the time of the latest change to username's vault.
func (b *Backend) LastModified(ctx context.Context, username string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	acct, err := b.account(username)
	if err != nil {
		return time.Time{}, err
	}
	return acct.lastModified, nil
}
