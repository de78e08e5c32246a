// Package vault is the entries service the UI talks to. It keeps a cache of
// encrypted records keyed by id, refreshed by comparing the server's
// last-modified stamp, and decrypts on demand with the key borrowed from the
// lock. Decrypted fields are never cached or persisted.
package vault

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jmcleod/ironkey/entry"
	"github.com/jmcleod/ironkey/internal/uuid"
	"github.com/jmcleod/ironkey/lock"
	"github.com/jmcleod/ironkey/transport"
)

// Keyring lends the live encryption key and reports lock transitions and
// key rotations. *lock.Lock implements it.
type Keyring interface {
	WithKey(fn func(key []byte) error) error
	OnChange(fn func(from, to lock.State))
	OnRekey(fn func())
}

// Item is a decrypted entry.
type Item struct {
	ID        string
	Fields    entry.Fields
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Vault serves decrypted entries.
type Vault struct {
	keys   Keyring
	client transport.Client
	logger *slog.Logger

	mu     sync.Mutex
	cache  map[string]entry.Record
	stamp  time.Time
	loaded bool
}

// New returns a Vault. Its cache is dropped whenever keys leaves Unlocked
// or is rotated, since cached records are sealed under the old key.
func New(keys Keyring, client transport.Client, opts ...Option) *Vault {
	v := &Vault{
		keys:   keys,
		client: client,
		cache:  make(map[string]entry.Record),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	keys.OnChange(func(_, to lock.State) {
		if to != lock.Unlocked {
			v.Invalidate()
		}
	})
	keys.OnRekey(v.Invalidate)
	return v
}

// Invalidate drops every cached record.
func (v *Vault) Invalidate() {
	v.mu.Lock()
	defer v.mu.Unlock()
	clear(v.cache)
	v.stamp = time.Time{}
	v.loaded = false
}

// Refresh refetches all records when the server reports a change newer than
// the cached copy. It reports whether a fetch happened.
func (v *Vault) Refresh(ctx context.Context) (bool, error) {
	lm, err := v.client.GetVaultLastModified(ctx)
	if err != nil {
		return false, fmt.Errorf("checking vault timestamp: %w", err)
	}
	v.mu.Lock()
	fresh := v.loaded && !lm.After(v.stamp)
	v.mu.Unlock()
	if fresh {
		return false, nil
	}

	recs, err := v.client.GetAllEntries(ctx)
	if err != nil {
		return false, fmt.Errorf("fetching entries: %w", err)
	}
	next := make(map[string]entry.Record, len(recs))
	for _, rec := range recs {
		next[rec.ID] = rec
	}

	v.mu.Lock()
	v.cache = next
	v.stamp = lm
	v.loaded = true
	v.mu.Unlock()
	return true, nil
}

func (v *Vault) snapshot() []entry.Record {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]entry.Record, 0, len(v.cache))
	for _, rec := range v.cache {
		out = append(out, rec)
	}
	return out
}

// List decrypts every entry. It is best-effort: entries that fail to
// decrypt are reported in failures by id and logged, and the rest are still
// returned, sorted by name.
func (v *Vault) List(ctx context.Context) (items []Item, failures map[string]error, err error) {
	if _, err := v.Refresh(ctx); err != nil {
		return nil, nil, err
	}
	recs := v.snapshot()

	var fields map[string]entry.Fields
	err = v.keys.WithKey(func(key []byte) error {
		fields, failures = entry.DecryptAll(ctx, recs, key)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	for id, ferr := range failures {
		v.logger.Warn("entry could not be decrypted", slog.String("entry_id", id), "error", ferr)
	}
	items = make([]Item, 0, len(fields))
	for _, rec := range recs {
		f, ok := fields[rec.ID]
		if !ok {
			continue
		}
		items = append(items, Item{ID: rec.ID, Fields: f, CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt})
	}
	slices.SortFunc(items, func(a, b Item) int {
		return cmp.Or(
			cmp.Compare(strings.ToLower(a.Fields.Name), strings.ToLower(b.Fields.Name)),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return items, failures, nil
}

func (v *Vault) record(ctx context.Context, id string) (entry.Record, error) {
	v.mu.Lock()
	rec, ok := v.cache[id]
	v.mu.Unlock()
	if ok {
		return rec, nil
	}
	rec, err := v.client.GetEntry(ctx, id)
	if err != nil {
		return entry.Record{}, err
	}
	v.put(rec)
	return rec, nil
}

func (v *Vault) put(rec entry.Record) {
	v.mu.Lock()
	v.cache[rec.ID] = rec
	v.mu.Unlock()
}

func (v *Vault) decrypt(rec entry.Record) (Item, error) {
	var f entry.Fields
	err := v.keys.WithKey(func(key []byte) error {
		var err error
		f, err = entry.Decrypt(rec, key)
		return err
	})
	if err != nil {
		return Item{}, err
	}
	return Item{ID: rec.ID, Fields: f, CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt}, nil
}

// Get decrypts one entry. Any failure is returned; nothing partial is.
func (v *Vault) Get(ctx context.Context, id string) (Item, error) {
	rec, err := v.record(ctx, id)
	if err != nil {
		return Item{}, err
	}
	return v.decrypt(rec)
}

func (v *Vault) encrypt(id string, fields entry.Fields) (entry.Record, error) {
	var rec entry.Record
	err := v.keys.WithKey(func(key []byte) error {
		var err error
		rec, err = entry.Encrypt(id, fields, key)
		return err
	})
	return rec, err
}

// Create encrypts fields under a new id and stores them.
func (v *Vault) Create(ctx context.Context, fields entry.Fields) (Item, error) {
	if err := validateFields(fields); err != nil {
		return Item{}, err
	}
	rec, err := v.encrypt(uuid.New(), fields)
	if err != nil {
		return Item{}, err
	}
	created, err := v.client.CreateEntry(ctx, rec)
	if err != nil {
		return Item{}, fmt.Errorf("creating entry: %w", err)
	}
	v.put(created)
	return Item{ID: created.ID, Fields: fields, CreatedAt: created.CreatedAt, UpdatedAt: created.UpdatedAt}, nil
}

// Update re-encrypts fields under a fresh nonce and replaces entry id.
func (v *Vault) Update(ctx context.Context, id string, fields entry.Fields) (Item, error) {
	if err := validateFields(fields); err != nil {
		return Item{}, err
	}
	existing, err := v.record(ctx, id)
	if err != nil {
		return Item{}, err
	}
	rec, err := v.encrypt(id, fields)
	if err != nil {
		return Item{}, err
	}
	rec.CreatedAt = existing.CreatedAt
	updated, err := v.client.UpdateEntry(ctx, rec)
	if err != nil {
		return Item{}, fmt.Errorf("updating entry: %w", err)
	}
	v.put(updated)
	return Item{ID: updated.ID, Fields: fields, CreatedAt: updated.CreatedAt, UpdatedAt: updated.UpdatedAt}, nil
}

// Delete removes entry id.
func (v *Vault) Delete(ctx context.Context, id string) error {
	if err := v.client.DeleteEntry(ctx, id); err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	v.mu.Lock()
	delete(v.cache, id)
	v.mu.Unlock()
	return nil
}
