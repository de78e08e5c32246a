package entry

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DecryptAll decrypts records in parallel. It is best-effort: each record
// that fails lands in the failures map under its id and the others are
// still returned. Records not started before ctx is cancelled fail with the
// context error.
func DecryptAll(ctx context.Context, recs []Record, encryptionKey []byte) (map[string]Fields, map[string]error) {
	var (
		mu       sync.Mutex
		out      = make(map[string]Fields, len(recs))
		failures = make(map[string]error)
	)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, rec := range recs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				failures[rec.ID] = err
				mu.Unlock()
				return nil
			}
			fields, err := Decrypt(rec, encryptionKey)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[rec.ID] = err
				return nil
			}
			out[rec.ID] = fields
			return nil
		})
	}
	_ = g.Wait()
	return out, failures
}
