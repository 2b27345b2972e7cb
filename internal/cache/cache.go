package cache

import "sync"

// Cache is a generic thread-safe LRU cache. Once it holds more than limit
// entries the least recently used one is evicted. A limit of 0 means
// unlimited.
//
// Cache must not be copied after creation (has mutex).
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*lruNode[K, V]
	order   lruList[K, V]
	limit   int

	hits      uint64
	misses    uint64
	evictions uint64

	// onEvict, if set, is called under the lock with every evicted value.
	onEvict func(K, V)
}

// New creates a cache holding at most limit entries.
func New[K comparable, V any](limit int) *Cache[K, V] {
	return &Cache[K, V]{entries: make(map[K]*lruNode[K, V]), limit: limit}
}

// OnEvict registers f to be called with entries dropped by the limit or by
// Clear. It must not call back into the cache.
func (c *Cache[K, V]) OnEvict(f func(K, V)) {
	c.mu.Lock()
	c.onEvict = f
	c.mu.Unlock()
}

// Get retrieves a value and marks it as recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.order.moveToFront(n)
	return n.value, true
}

// Set stores a value, replacing any previous value for key.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, value)
}

func (c *Cache[K, V]) set(key K, value V) {
	if n, ok := c.entries[key]; ok {
		n.value = value
		c.order.moveToFront(n)
		return
	}
	c.entries[key] = c.order.pushFront(key, value)
	for c.limit > 0 && len(c.entries) > c.limit {
		n := c.order.removeOldest()
		delete(c.entries, n.key)
		c.evictions++
		if c.onEvict != nil {
			c.onEvict(n.key, n.value)
		}
	}
}

// GetOrCreate returns the cached value for key or builds it with create.
// create runs under the cache lock. A value is cached only when create
// succeeds.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.entries[key]; ok {
		c.hits++
		c.order.moveToFront(n)
		return n.value, nil
	}
	c.misses++
	v, err := create()
	if err != nil {
		return v, err
	}
	c.set(key, v)
	return v, nil
}

// Delete removes an entry without calling the eviction callback.
// Returns true if the entry was found and removed.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.entries[key]
	if !ok {
		return false
	}
	c.order.unlink(n)
	delete(c.entries, key)
	return true
}

// Clear evicts every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for n := c.order.removeOldest(); n != nil; n = c.order.removeOldest() {
		delete(c.entries, n.key)
		if c.onEvict != nil {
			c.onEvict(n.key, n.value)
		}
	}
}

// Len returns the number of entries in the cache.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Len:       len(c.entries),
		Capacity:  c.limit,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Stats contains cache statistics.
type Stats struct {
	// Len is the current number of entries.
	Len int
	// Capacity is the entry limit, 0 for unlimited.
	Capacity int
	// Hits and Misses count lookups through Get and GetOrCreate.
	Hits   uint64
	Misses uint64
	// HitRate is Hits / (Hits + Misses), 0 before the first lookup.
	HitRate float64
	// Evictions counts entries dropped by the limit.
	Evictions uint64
}
