package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironkey/api"
	"github.com/jmcleod/ironkey/crypto"
	"github.com/jmcleod/ironkey/internal/util"
	"github.com/jmcleod/ironkey/transport"
	"github.com/jmcleod/ironkey/transport/memory"
	"github.com/jmcleod/ironkey/transport/rest"
)

func setupServer(t *testing.T, opts ...api.Option) *httptest.Server {
	t.Helper()
	backend, err := memory.NewBackend(memory.WithArgon2idParams(util.Argon2idParams{
		Time: 1, MemoryKiB: 64, Parallelism: 1, KeyLen: 32,
	}))
	require.NoError(t, err)
	r := chi.NewRouter()
	r.Mount("/api/v1", api.New(backend, opts...).Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func register(t *testing.T, baseURL, username string) (transport.Tokens, []byte) {
	t.Helper()
	params, err := crypto.NewKdfParams(1000)
	require.NoError(t, err)
	authHash, err := util.RandomBytes(crypto.AuthHashSize)
	require.NoError(t, err)

	resp := doJSON(t, http.MethodPost, baseURL+"/api/v1/auth/register", "", rest.RegisterRequest{
		Username: username, AuthHash: authHash, KdfParams: params,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var tokens transport.Tokens
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tokens))
	return tokens, authHash
}

func TestKdfEndpoint_DecoyForUnknownUser(t *testing.T) {
	srv := setupServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/auth/kdf?username=ghost", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var params crypto.KdfParams
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&params))
	require.NoError(t, params.Validate())

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/auth/kdf", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSecurityHeaders(t *testing.T) {
	srv := setupServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/auth/kdf?username=ghost", "", nil)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Empty(t, resp.Header.Get("Strict-Transport-Security"))
}

func TestEntries_RequireBearer(t *testing.T) {
	srv := setupServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/entries", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/entries", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEntries_EmptyListShape(t *testing.T) {
	srv := setupServer(t)
	tokens, _ := register(t, srv.URL, "alice")

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/entries", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.JSONEq(t, `[]`, string(raw["entries"]))
}

func TestRegister_RejectsUnknownFields(t *testing.T) {
	srv := setupServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/register", "", map[string]string{
		"username": "alice", "password": "plaintext",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateEntry_PathMismatch(t *testing.T) {
	srv := setupServer(t)
	tokens, _ := register(t, srv.URL, "alice")

	resp := doJSON(t, http.MethodPut, srv.URL+"/api/v1/entries/abc", tokens.AccessToken, map[string]string{"id": "def"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogin_RateLimited(t *testing.T) {
	srv := setupServer(t)
	_, authHash := register(t, srv.URL, "alice")
	wrong := bytes.Repeat([]byte{1}, crypto.AuthHashSize)

	for i := 0; i < 5; i++ {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/login", "", rest.LoginRequest{Username: "alice", AuthHash: wrong})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/login", "", rest.LoginRequest{Username: "alice", AuthHash: authHash})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestOpenAPIServed(t *testing.T) {
	srv := setupServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/openapi.yaml", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/yaml", resp.Header.Get("Content-Type"))
}

func TestAlerts_BulkDownload(t *testing.T) {
	var (
		mu     sync.Mutex
		alerts []api.AlertEvent
	)
	srv := setupServer(t, api.WithAlertFunc(func(e api.AlertEvent) {
		mu.Lock()
		alerts = append(alerts, e)
		mu.Unlock()
	}))
	tokens, _ := register(t, srv.URL, "alice")

	for i := 0; i < 30; i++ {
		resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/entries", tokens.AccessToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, alerts, 1)
	assert.Equal(t, api.AlertBulkDownload, alerts[0].Type)
	assert.Equal(t, 30, alerts[0].Count)
}
