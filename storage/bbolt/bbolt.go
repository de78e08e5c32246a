// Package bbolt provides a BBolt-backed storage.KV.
package bbolt

import (
	"context"
	"fmt"

	"github.com/jmcleod/ironkey/internal/util"
	"github.com/jmcleod/ironkey/storage"
	"go.etcd.io/bbolt"
)

// DefaultBucket is the bucket used when none is given.
const DefaultBucket = "ironkey"

// Store implements storage.KV in a single BBolt bucket.
type Store struct {
	db     *bbolt.DB
	bucket []byte
	owned  bool
}

var _ storage.KV = (*Store)(nil)

// NewKV returns a KV stored in bucket of the given BBolt database. The
// caller keeps ownership of db.
func NewKV(db *bbolt.DB, bucket string) (*Store, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	s := &Store{db: db, bucket: []byte(bucket)}
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating bucket %q: %w", bucket, err)
	}
	return s, nil
}

// NewKVFromFile opens a BBolt database at the given path and returns a KV
// that owns it.
func NewKVFromFile(path, bucket string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := NewKV(db, bucket)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Close closes the underlying BBolt database if this Store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		// bbolt memory is only valid inside the transaction.
		value = util.CopyBytes(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), util.CopyBytes(value))
	})
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(s.bucket) != nil {
			if err := tx.DeleteBucket(s.bucket); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucket(s.bucket)
		return err
	})
}

type boltTx struct {
	bucket *bbolt.Bucket
}

func (tx *boltTx) Put(key string, value []byte) error {
	return tx.bucket.Put([]byte(key), util.CopyBytes(value))
}

func (tx *boltTx) Delete(key string) error {
	return tx.bucket.Delete([]byte(key))
}

func (s *Store) Batch(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return fn(&boltTx{bucket: b})
	})
}
