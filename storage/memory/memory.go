// Package memory provides a thread-safe in-memory implementation of storage.KV.
package memory

import (
	"context"
	"sync"

	"github.com/jmcleod/ironkey/internal/util"
	"github.com/jmcleod/ironkey/storage"
)

// KV is a thread-safe in-memory key-value store. Its contents live exactly
// as long as the process, which makes it the natural session-scope backend.
type KV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ storage.KV = (*KV)(nil)

// NewKV creates a new empty in-memory store.
func NewKV() *KV {
	return &KV{data: make(map[string][]byte)}
}

func (s *KV) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return util.CopyBytes(v), nil
}

func (s *KV) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(key, value)
	return nil
}

func (s *KV) putLocked(key string, value []byte) {
	if old, ok := s.data[key]; ok {
		util.WipeBytes(old)
	}
	s.data[key] = util.CopyBytes(value)
}

func (s *KV) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(key)
	return nil
}

func (s *KV) deleteLocked(key string) {
	if old, ok := s.data[key]; ok {
		util.WipeBytes(old)
		delete(s.data, key)
	}
}

// Clear removes and wipes every value.
func (s *KV) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.data {
		s.deleteLocked(k)
	}
	return nil
}

// Len returns the number of stored keys.
func (s *KV) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (s *KV) Batch(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshot()

	if err := fn(&memoryTx{kv: s}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *KV) snapshot() map[string][]byte {
	cp := make(map[string][]byte, len(s.data))
	for k, v := range s.data {
		cp[k] = util.CopyBytes(v)
	}
	return cp
}

type memoryTx struct {
	kv *KV
}

func (tx *memoryTx) Put(key string, value []byte) error {
	tx.kv.putLocked(key, value)
	return nil
}

func (tx *memoryTx) Delete(key string) error {
	tx.kv.deleteLocked(key)
	return nil
}
