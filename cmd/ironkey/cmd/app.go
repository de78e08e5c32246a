package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmcleod/ironkey/internal/config"
	"github.com/jmcleod/ironkey/lock"
	"github.com/jmcleod/ironkey/storage"
	bboltstorage "github.com/jmcleod/ironkey/storage/bbolt"
	memstore "github.com/jmcleod/ironkey/storage/memory"
	sqlitestorage "github.com/jmcleod/ironkey/storage/sqlite"
	"github.com/jmcleod/ironkey/transport"
	"github.com/jmcleod/ironkey/transport/rest"
	"github.com/jmcleod/ironkey/vault"
)

// app is one client process: a lock over local storage and a vault over the
// remote API.
type app struct {
	lock    *lock.Lock
	vault   *vault.Vault
	logger  *slog.Logger
	closers []io.Closer
}

// openDurable opens the durable scope selected by the configuration.
func openDurable(ctx context.Context, c *config.Config) (storage.KV, io.Closer, error) {
	if dir := filepath.Dir(c.Storage.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	switch c.Storage.Driver {
	case config.DriverBolt:
		kv, err := bboltstorage.NewKVFromFile(c.Storage.Path, bboltstorage.DefaultBucket, nil)
		if err != nil {
			return nil, nil, err
		}
		return kv, kv, nil
	case config.DriverSQLite:
		db, err := sqlitestorage.Open(ctx, c.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return sqlitestorage.NewKV(db, sqlitestorage.DefaultNamespace), db, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
}

// openApp wires storage, transport, lock and vault from c and restores the
// previous session.
func openApp(ctx context.Context, c *config.Config, logger *slog.Logger) (*app, error) {
	durable, closer, err := openDurable(ctx, c)
	if err != nil {
		return nil, err
	}
	client, err := rest.New(c.Server.URL, rest.WithTimeout(c.Server.Timeout))
	if err != nil {
		closer.Close()
		return nil, err
	}
	a, err := newApp(ctx, storage.NewAdapter(memstore.NewKV(), durable), client, logger, lock.WithIterations(c.KDF.Iterations))
	if err != nil {
		closer.Close()
		return nil, err
	}
	a.closers = append(a.closers, closer)
	return a, nil
}

func newApp(ctx context.Context, store storage.Adapter, client transport.Client, logger *slog.Logger, opts ...lock.Option) (*app, error) {
	l, err := lock.New(store, client, append([]lock.Option{lock.WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, err
	}
	a := &app{
		lock:   l,
		vault:  vault.New(l, client, vault.WithLogger(logger)),
		logger: logger,
	}
	state, err := l.Restore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}
	logger.Debug("session restored", "state", state)
	return a, nil
}

// Close applies the close policy and releases local storage.
func (a *app) Close(ctx context.Context) error {
	err := a.lock.Close(ctx)
	for _, c := range a.closers {
		err = errors.Join(err, c.Close())
	}
	return err
}
