// Package sqlite provides a SQLite-backed storage.KV. Several KVs can share
// one database, each under its own namespace.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/jmcleod/ironkey/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DefaultNamespace is the namespace used when none is given.
const DefaultNamespace = "ironkey"

// Open opens the SQLite database at dsn and applies pending migrations.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// SQLite serialises writers; one connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Store implements storage.KV over the kv table.
type Store struct {
	db        *sql.DB
	namespace string
}

var _ storage.KV = (*Store)(nil)

// NewKV returns a KV in namespace of a migrated database.
func NewKV(db *sql.DB, namespace string) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Store{db: db, namespace: namespace}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE namespace = ? AND key = ?`, s.namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kv[%s]: %w", key, err)
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	return put(ctx, s.db, s.namespace, key, value)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return del(ctx, s.db, s.namespace, key)
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ?`, s.namespace)
	if err != nil {
		return fmt.Errorf("failed to clear kv: %w", err)
	}
	return nil
}

func (s *Store) Batch(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&sqlTx{ctx: ctx, tx: tx, namespace: s.namespace}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func put(ctx context.Context, db execer, namespace, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO kv (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value
	`, namespace, key, value)
	if err != nil {
		return fmt.Errorf("failed to set kv[%s]: %w", key, err)
	}
	return nil
}

func del(ctx context.Context, db execer, namespace, key string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return fmt.Errorf("failed to delete kv[%s]: %w", key, err)
	}
	return nil
}

type sqlTx struct {
	ctx       context.Context
	tx        *sql.Tx
	namespace string
}

func (t *sqlTx) Put(key string, value []byte) error {
	return put(t.ctx, t.tx, t.namespace, key, value)
}

func (t *sqlTx) Delete(key string) error {
	return del(t.ctx, t.tx, t.namespace, key)
}
