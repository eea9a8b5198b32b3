package service

import (
	"context"
	"sync"
)

// inMemoryStoreTx serializes marketplace mutations behind a mutex. With the
// in-memory stores and token ledger every step inside fn is in-process, so
// validate-then-apply under the lock is atomic.
type inMemoryStoreTx struct {
	mu sync.Mutex
}

func newInMemoryStoreTx() *inMemoryStoreTx {
	return &inMemoryStoreTx{}
}

func (t *inMemoryStoreTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(ctx)
}
