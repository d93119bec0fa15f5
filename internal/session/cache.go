package session

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache is an explicit keyed store with teardown. Values that implement
// io.Closer are closed when evicted.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]V
	loads   singleflight.Group
}

// NewCache creates an empty cache.
func NewCache[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{entries: make(map[K]V)}
}

// Get returns the value for key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

// GetOrLoad returns the value for key, loading and storing it when absent.
// Concurrent calls for one key share a single load; loads of different keys
// run in parallel.
func (c *Cache[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	res, err, _ := c.loads.Do(fmt.Sprint(key), func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = v
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Put stores v under key, evicting the previous value.
func (c *Cache[K, V]) Put(key K, v V) error {
	c.mu.Lock()
	prev, ok := c.entries[key]
	c.entries[key] = v
	c.mu.Unlock()
	if ok {
		return closeValue(prev)
	}
	return nil
}

// Evict removes and closes the value for key.
func (c *Cache[K, V]) Evict(key K) error {
	c.mu.Lock()
	v, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return closeValue(v)
}

// Len returns the number of cached values.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close evicts every value.
func (c *Cache[K, V]) Close() error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[K]V)
	c.mu.Unlock()

	var errs []error
	for _, v := range entries {
		if err := closeValue(v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeValue(v any) error {
	if closer, ok := v.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
