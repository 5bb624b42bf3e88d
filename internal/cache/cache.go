package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// LRU memoizes values computed from a source text. Concurrent misses on the
// same key share one computation; errors are not cached.
type LRU[V any] struct {
	items *lru.Cache[string, V]
	group singleflight.Group
}

func NewLRU[V any](max int) (*LRU[V], error) {
	if max < 1 {
		max = 1
	}
	items, err := lru.New[string, V](max)
	if err != nil {
		return nil, err
	}
	return &LRU[V]{items: items}, nil
}

func (c *LRU[V]) GetOrCompute(source string, fn func() (V, error)) (V, error) {
	key := hash(source)
	if v, ok := c.items.Get(key); ok {
		return v, nil
	}

	res, err, _ := c.group.Do(key, func() (out any, err error) {
		if v, ok := c.items.Get(key); ok {
			return v, nil
		}
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("cache: compute panicked: %v", r)
			}
		}()
		v, err := fn()
		if err != nil {
			return nil, err
		}
		c.items.Add(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

func (c *LRU[V]) Len() int { return c.items.Len() }

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
