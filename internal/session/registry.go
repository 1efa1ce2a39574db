// Package session caches per-user, per-organization values with a size bound and a TTL.
package session

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

type Key struct {
	UserID         string
	OrganizationID string
}

func (k Key) String() string {
	return k.UserID + "@" + k.OrganizationID
}

// OpenFunc builds the value for a key on a cache miss.
type OpenFunc[V any] func(ctx context.Context) (V, error)

type Registry[V any] struct {
	cache *lru.LRU[Key, V]
	mu    sync.Mutex
}

// NewRegistry creates a registry holding at most size entries, each for at most ttl.
// onEvict, if set, runs for every entry that leaves the cache.
func NewRegistry[V any](size int, ttl time.Duration, onEvict func(Key, V)) *Registry[V] {
	var cb lru.EvictCallback[Key, V]
	if onEvict != nil {
		cb = func(k Key, v V) { onEvict(k, v) }
	}
	return &Registry[V]{cache: lru.NewLRU[Key, V](size, cb, ttl)}
}

func (r *Registry[V]) Get(key Key) (V, bool) {
	return r.cache.Get(key)
}

// GetOrOpen returns the cached value for key, opening and caching it on a miss.
// Failed opens are not cached.
func (r *Registry[V]) GetOrOpen(ctx context.Context, key Key, open OpenFunc[V]) (V, error) {
	if v, ok := r.cache.Get(key); ok {
		return v, nil
	}

	v, err := open(ctx)
	if err != nil {
		var zero V
		return zero, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// another request may have opened the same key meanwhile; keep the first
	if existing, ok := r.cache.Get(key); ok {
		return existing, nil
	}
	r.cache.Add(key, v)
	return v, nil
}

func (r *Registry[V]) Invalidate(key Key) {
	r.cache.Remove(key)
}

// InvalidateOrganization drops every entry of orgID except keep.
func (r *Registry[V]) InvalidateOrganization(orgID string, keep Key) int {
	n := 0
	for _, k := range r.cache.Keys() {
		if k.OrganizationID == orgID && k != keep {
			if r.cache.Remove(k) {
				n++
			}
		}
	}
	return n
}

func (r *Registry[V]) Len() int {
	return r.cache.Len()
}

func (r *Registry[V]) Purge() {
	r.cache.Purge()
}
