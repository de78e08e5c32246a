// Package rest is a transport.Client speaking JSON over HTTP.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jmcleod/ironkey/crypto"
	"github.com/jmcleod/ironkey/entry"
	"github.com/jmcleod/ironkey/transport"
)

// DefaultTimeout bounds each request when no HTTP client is supplied.
const DefaultTimeout = 30 * time.Second

const maxErrorBody = 4 << 10

// Client talks to the REST API rooted at a base URL such as
// https://vault.example.com/api/v1.
type Client struct {
	base *url.URL
	http *http.Client

	mu     sync.RWMutex
	tokens transport.Tokens
}

var _ transport.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = &http.Client{Timeout: d} }
}

// New returns a client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", baseURL)
	}
	c := &Client{base: u, http: &http.Client{Timeout: DefaultTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) SetTokens(tokens transport.Tokens) {
	c.mu.Lock()
	c.tokens = tokens
	c.mu.Unlock()
}

func (c *Client) accessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens.AccessToken
}

func (c *Client) GetKdfParams(ctx context.Context, username string) (crypto.KdfParams, error) {
	var out crypto.KdfParams
	q := url.Values{"username": {username}}
	err := c.do(ctx, http.MethodGet, "/auth/kdf", q, nil, &out, false)
	return out, err
}

func (c *Client) Register(ctx context.Context, req transport.RegisterRequest) (transport.Tokens, error) {
	var out transport.Tokens
	body := RegisterRequest{
		Username:  req.Username,
		Email:     req.Email,
		AuthHash:  req.AuthHash,
		KdfParams: req.KdfParams,
	}
	err := c.do(ctx, http.MethodPost, "/auth/register", nil, body, &out, false)
	return out, err
}

func (c *Client) Login(ctx context.Context, username string, authHash []byte) (transport.Tokens, error) {
	var out transport.Tokens
	body := LoginRequest{Username: username, AuthHash: authHash}
	err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, &out, false)
	return out, err
}

func (c *Client) GetAllEntries(ctx context.Context) ([]entry.Record, error) {
	var out EntriesResponse
	if err := c.do(ctx, http.MethodGet, "/entries", nil, nil, &out, true); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *Client) GetEntry(ctx context.Context, id string) (entry.Record, error) {
	var out entry.Record
	err := c.do(ctx, http.MethodGet, "/entries/"+url.PathEscape(id), nil, nil, &out, true)
	return out, err
}

func (c *Client) CreateEntry(ctx context.Context, rec entry.Record) (entry.Record, error) {
	var out entry.Record
	err := c.do(ctx, http.MethodPost, "/entries", nil, rec, &out, true)
	return out, err
}

func (c *Client) UpdateEntry(ctx context.Context, rec entry.Record) (entry.Record, error) {
	var out entry.Record
	err := c.do(ctx, http.MethodPut, "/entries/"+url.PathEscape(rec.ID), nil, rec, &out, true)
	return out, err
}

func (c *Client) DeleteEntry(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/entries/"+url.PathEscape(id), nil, nil, nil, true)
}

func (c *Client) UpdateMasterPassword(ctx context.Context, change transport.MasterPasswordChange) (transport.Tokens, error) {
	var out transport.Tokens
	body := MasterPasswordRequest{
		OldAuthHash:  change.OldAuthHash,
		NewAuthHash:  change.NewAuthHash,
		NewKdfParams: change.NewKdfParams,
		Entries:      change.Entries,
	}
	err := c.do(ctx, http.MethodPut, "/auth/master-password", nil, body, &out, true)
	return out, err
}

func (c *Client) GetVaultLastModified(ctx context.Context) (time.Time, error) {
	var out LastModifiedResponse
	if err := c.do(ctx, http.MethodGet, "/vault/last-modified", nil, nil, &out, true); err != nil {
		return time.Time{}, err
	}
	return out.LastModified, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any, auth bool) error {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("%w: building request: %v", transport.ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		token := c.accessToken()
		if token == "" {
			return fmt.Errorf("%w: no access token", transport.ErrUnauthorized)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %v", transport.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s %s response: %v", transport.ErrTransport, method, path, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	msg := resp.Status
	var er ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(raw, &er); err == nil && er.Error != "" {
		msg = er.Error
	}

	var kind error
	switch resp.StatusCode {
	case http.StatusBadRequest:
		kind = transport.ErrInvalidRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = transport.ErrUnauthorized
	case http.StatusNotFound:
		kind = transport.ErrNotFound
	case http.StatusConflict:
		kind = transport.ErrConflict
	default:
		return fmt.Errorf("%w: status %d: %s", transport.ErrTransport, resp.StatusCode, msg)
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg, kind: kind}
}

// StatusError is a non-2xx response the server classified.
type StatusError struct {
	StatusCode int
	Message    string
	kind       error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return e.kind }

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
