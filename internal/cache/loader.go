package cache

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Loader fills an LRU cache through singleflight: concurrent misses on the
// same key run the load function once and share its result.
type Loader[T any] struct {
	cache *LRUCache[T]
	group singleflight.Group
}

func NewLoader[T any](c *LRUCache[T]) *Loader[T] {
	return &Loader[T]{cache: c}
}

// Get returns the cached value for key, computing and storing it on a miss.
// Errors are returned to every waiter and never cached.
func (l *Loader[T]) Get(ctx context.Context, key string, load func(context.Context) (T, error)) (T, error) {
	if v, ok := l.cache.Get(key); ok {
		return v, nil
	}
	ch := l.group.DoChan(key, func() (any, error) {
		v, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		l.cache.Set(key, v)
		return v, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, ok := res.Val.(T)
		if !ok {
			return zero, fmt.Errorf("cache: unexpected value type %T for key %q", res.Val, key)
		}
		return v, nil
	}
}

// Cache exposes the underlying LRU cache.
func (l *Loader[T]) Cache() *LRUCache[T] {
	return l.cache
}
