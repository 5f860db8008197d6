package vm

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/parcadei/pyrt/values"
)

// lruStore is the concrete backing store behind values.LruCache.Store,
// keyed by the encoded call-argument repr (see encodeCacheKey). Wrapping
// golang-lru/v2 here, rather than in the values package, keeps the
// cache-key-encoding policy (a vm-layer concern) out of the heap-resident
// payload type.
type lruStore struct {
	cache *lru.Cache[string, values.Value]
}

func newLRUStore(maxSize int) *lruStore {
	size := maxSize
	if size <= 0 {
		size = 1 << 20 // functools.lru_cache(maxsize=None): effectively unbounded
	}
	c, _ := lru.New[string, values.Value](size)
	return &lruStore{cache: c}
}

func (s *lruStore) Get(key string) (values.Value, bool) {
	return s.cache.Get(key)
}

func (s *lruStore) Put(key string, v values.Value) {
	s.cache.Add(key, v)
}
