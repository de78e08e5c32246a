package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jmcleod/ironkey/crypto"
	"github.com/jmcleod/ironkey/entry"
	"github.com/jmcleod/ironkey/transport"
)

// Client is a transport.Client calling a Backend directly.
type Client struct {
	backend *Backend

	mu     sync.RWMutex
	tokens transport.Tokens
}

var _ transport.Client = (*Client)(nil)

// NewClient returns a client for backend.
func NewClient(backend *Backend) *Client {
	return &Client{backend: backend}
}

func (c *Client) SetTokens(tokens transport.Tokens) {
	c.mu.Lock()
	c.tokens = tokens
	c.mu.Unlock()
}

func (c *Client) user() (string, error) {
	c.mu.RLock()
	access := c.tokens.AccessToken
	c.mu.RUnlock()
	return c.backend.Authenticate(access)
}

func (c *Client) GetKdfParams(ctx context.Context, username string) (crypto.KdfParams, error) {
	return c.backend.KdfParams(ctx, username)
}

func (c *Client) Register(ctx context.Context, req transport.RegisterRequest) (transport.Tokens, error) {
	return c.backend.Register(ctx, req)
}

func (c *Client) Login(ctx context.Context, username string, authHash []byte) (transport.Tokens, error) {
	return c.backend.Login(ctx, username, authHash)
}

func (c *Client) GetAllEntries(ctx context.Context) ([]entry.Record, error) {
	user, err := c.user()
	if err != nil {
		return nil, err
	}
	return c.backend.Entries(ctx, user)
}

func (c *Client) GetEntry(ctx context.Context, id string) (entry.Record, error) {
	user, err := c.user()
	if err != nil {
		return entry.Record{}, err
	}
	return c.backend.Entry(ctx, user, id)
}

func (c *Client) CreateEntry(ctx context.Context, rec entry.Record) (entry.Record, error) {
	user, err := c.user()
	if err != nil {
		return entry.Record{}, err
	}
	return c.backend.CreateEntry(ctx, user, rec)
}

func (c *Client) UpdateEntry(ctx context.Context, rec entry.Record) (entry.Record, error) {
	user, err := c.user()
	if err != nil {
		return entry.Record{}, err
	}
	return c.backend.UpdateEntry(ctx, user, rec)
}

func (c *Client) DeleteEntry(ctx context.Context, id string) error {
	user, err := c.user()
	if err != nil {
		return err
	}
	return c.backend.DeleteEntry(ctx, user, id)
}

func (c *Client) UpdateMasterPassword(ctx context.Context, change transport.MasterPasswordChange) (transport.Tokens, error) {
	user, err := c.user()
	if err != nil {
		return transport.Tokens{}, err
	}
	return c.backend.UpdateMasterPassword(ctx, user, change)
}

func (c *Client) GetVaultLastModified(ctx context.Context) (time.Time, error) {
	user, err := c.user()
	if err != nil {
		return time.Time{}, err
	}
	return c.backend.LastModified(ctx, user)
}
