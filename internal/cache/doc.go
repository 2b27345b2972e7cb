// Package cache provides a generic, thread-safe LRU cache.
//
// The cache backs lookups whose values are expensive to build and safe to
// share, such as compiled shader modules keyed by their source:
//
//	c := cache.New[string, *shader.Module](64)
//	m, err := c.GetOrCreate(src, func() (*shader.Module, error) {
//	    return shader.Compile(src, shader.Options{})
//	})
//
// Failed creations are not cached, so a later call retries.
//
// # Thread Safety
//
// Cache is safe for concurrent use. GetOrCreate runs create under the
// cache lock, so concurrent callers for the same key build the value once.
package cache
