package rest_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironkey/api"
	"github.com/jmcleod/ironkey/crypto"
	"github.com/jmcleod/ironkey/entry"
	"github.com/jmcleod/ironkey/internal/util"
	"github.com/jmcleod/ironkey/internal/uuid"
	"github.com/jmcleod/ironkey/transport"
	"github.com/jmcleod/ironkey/transport/memory"
	"github.com/jmcleod/ironkey/transport/rest"
)

func newTestClient(t *testing.T) *rest.Client {
	t.Helper()
	backend, err := memory.NewBackend(memory.WithArgon2idParams(util.Argon2idParams{
		Time: 1, MemoryKiB: 64, Parallelism: 1, KeyLen: 32,
	}))
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Mount("/api/v1", api.New(backend).Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c, err := rest.New(srv.URL+"/api/v1/", rest.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func newRecord(t *testing.T, key []byte, name string) entry.Record {
	t.Helper()
	rec, err := entry.Encrypt(uuid.New(), entry.Fields{Name: name, Password: "pw"}, key)
	require.NoError(t, err)
	return rec
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := rest.New("ftp://example.com")
	require.Error(t, err)
	_, err = rest.New("://")
	require.Error(t, err)
}

func TestClient_EndToEnd(t *testing.T) {
	ctx := t.Context()
	c := newTestClient(t)

	decoy, err := c.GetKdfParams(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, decoy.Validate())

	params, err := crypto.NewKdfParams(1000)
	require.NoError(t, err)
	keys, err := crypto.DeriveKeys("correct horse battery", params)
	require.NoError(t, err)

	tokens, err := c.Register(ctx, transport.RegisterRequest{
		Username: "alice", Email: "alice@example.com", AuthHash: keys.AuthHash, KdfParams: params,
	})
	require.NoError(t, err)

	got, err := c.GetKdfParams(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, params, got)

	_, err = c.GetAllEntries(ctx)
	require.ErrorIs(t, err, transport.ErrUnauthorized, "no token set yet")

	tokens, err = c.Login(ctx, "alice", keys.AuthHash)
	require.NoError(t, err)
	c.SetTokens(tokens)

	rec := newRecord(t, keys.EncryptionKey, "bank")
	created, err := c.CreateEntry(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, created.ID)

	fetched, err := c.GetEntry(ctx, rec.ID)
	require.NoError(t, err)
	fields, err := entry.Decrypt(fetched, keys.EncryptionKey)
	require.NoError(t, err)
	assert.Equal(t, "bank", fields.Name)

	all, err := c.GetAllEntries(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	updated := newRecord(t, keys.EncryptionKey, "bank2")
	updated.ID = rec.ID
	_, err = c.UpdateEntry(ctx, updated)
	require.NoError(t, err)

	lm, err := c.GetVaultLastModified(ctx)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), lm, time.Minute)

	require.NoError(t, c.DeleteEntry(ctx, rec.ID))
	_, err = c.GetEntry(ctx, rec.ID)
	require.ErrorIs(t, err, transport.ErrNotFound)
	assert.True(t, rest.IsStatus(err, http.StatusNotFound))
}

func TestClient_MasterPasswordChange(t *testing.T) {
	ctx := t.Context()
	c := newTestClient(t)

	params, err := crypto.NewKdfParams(1000)
	require.NoError(t, err)
	oldKeys, err := crypto.DeriveKeys("old password!", params)
	require.NoError(t, err)
	tokens, err := c.Register(ctx, transport.RegisterRequest{Username: "bob", AuthHash: oldKeys.AuthHash, KdfParams: params})
	require.NoError(t, err)
	c.SetTokens(tokens)

	rec, err := c.CreateEntry(ctx, newRecord(t, oldKeys.EncryptionKey, "mail"))
	require.NoError(t, err)

	newParams, err := crypto.NewKdfParams(1000)
	require.NoError(t, err)
	newKeys, err := crypto.DeriveKeys("new password!", newParams)
	require.NoError(t, err)
	rekeyed, err := entry.Encrypt(rec.ID, entry.Fields{Name: "mail", Password: "pw"}, newKeys.EncryptionKey)
	require.NoError(t, err)

	tokens, err = c.UpdateMasterPassword(ctx, transport.MasterPasswordChange{
		OldAuthHash:  oldKeys.AuthHash,
		NewAuthHash:  newKeys.AuthHash,
		NewKdfParams: newParams,
		Entries:      []entry.Record{rekeyed},
	})
	require.NoError(t, err)
	c.SetTokens(tokens)

	got, err := c.GetEntry(ctx, rec.ID)
	require.NoError(t, err)
	fields, err := entry.Decrypt(got, newKeys.EncryptionKey)
	require.NoError(t, err)
	assert.Equal(t, "mail", fields.Name)
	_, err = entry.Decrypt(got, oldKeys.EncryptionKey)
	require.ErrorIs(t, err, crypto.ErrDecryptionFailed)
}

func TestClient_StatusMapping(t *testing.T) {
	ctx := t.Context()
	c := newTestClient(t)

	_, err := c.Login(ctx, "nobody", make([]byte, crypto.AuthHashSize))
	require.ErrorIs(t, err, transport.ErrUnauthorized)

	_, err = c.Register(ctx, transport.RegisterRequest{Username: "x", AuthHash: []byte("short")})
	require.ErrorIs(t, err, transport.ErrInvalidRequest)
}

func TestClient_UnexpectedShapeIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"salt":"AAAA","iterations":1}}`))
	}))
	t.Cleanup(srv.Close)

	c, err := rest.New(srv.URL)
	require.NoError(t, err)
	_, err = c.GetKdfParams(t.Context(), "alice")
	require.ErrorIs(t, err, transport.ErrTransport)
}

func TestClient_ServerErrorIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c, err := rest.New(srv.URL)
	require.NoError(t, err)
	c.SetTokens(transport.Tokens{AccessToken: "t"})
	_, err = c.GetVaultLastModified(t.Context())
	require.ErrorIs(t, err, transport.ErrTransport)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := rest.New(url, rest.WithTimeout(time.Second))
	require.NoError(t, err)
	_, err = c.GetKdfParams(t.Context(), "alice")
	require.ErrorIs(t, err, transport.ErrTransport)
}
