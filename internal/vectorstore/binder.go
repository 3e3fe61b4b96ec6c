package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Binder resolves (collection name) -> bound Handle with single-winner race
// resolution. Concurrent first accesses to the same collection collapse to
// one EnsureCollection call; losers block until the winner finishes and
// reuse its handle. A successful bind is terminal until Evict or process
// shutdown; a failed bind is not cached, so the next caller retries the
// existence check instead of inheriting a stale error.
type Binder struct {
	adapter Adapter
	group   singleflight.Group

	mu    sync.RWMutex
	bound map[string]Handle
}

// NewBinder wraps an adapter with bind synchronization.
func NewBinder(adapter Adapter) *Binder {
	return &Binder{
		adapter: adapter,
		bound:   make(map[string]Handle),
	}
}

// Bind returns the bound handle for the schema's collection, ensuring it
// exists remotely on first use.
func (b *Binder) Bind(ctx context.Context, schema CollectionSchema) (Handle, error) {
	b.mu.RLock()
	h, ok := b.bound[schema.Name]
	b.mu.RUnlock()
	if ok {
		return h, nil
	}

	v, err, _ := b.group.Do(schema.Name, func() (any, error) {
		// Re-check under the flight: a previous winner may have bound while
		// this caller was queueing on the group.
		b.mu.RLock()
		h, ok := b.bound[schema.Name]
		b.mu.RUnlock()
		if ok {
			return h, nil
		}

		h, err := b.adapter.EnsureCollection(ctx, schema)
		if err != nil {
			return nil, fmt.Errorf("binding collection %q: %w", schema.Name, err)
		}

		b.mu.Lock()
		b.bound[schema.Name] = h
		b.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Handle), nil
}

// Evict drops a cached handle, forcing the next Bind to re-check existence.
// Used after an administrative collection drop.
func (b *Binder) Evict(name string) {
	b.mu.Lock()
	delete(b.bound, name)
	b.mu.Unlock()
}

// Drop removes the collection from the backend and forgets its handle.
func (b *Binder) Drop(ctx context.Context, name string) error {
	if err := b.adapter.DropCollection(ctx, name); err != nil {
		return err
	}
	b.Evict(name)
	return nil
}

// Adapter returns the wrapped adapter.
func (b *Binder) Adapter() Adapter {
	return b.adapter
}
