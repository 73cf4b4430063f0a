package datastore

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultStripes = 256

// stripes serializes mutations per key without a global lock. Keys hashing to
// the same stripe share a mutex; distinct stripes proceed in parallel.
type stripes struct {
	locks []sync.Mutex
	mask  uint64
}

func newStripes(n int) *stripes {
	if n <= 0 {
		n = defaultStripes
	}
	size := 1
	for size < n {
		size <<= 1
	}
	return &stripes{locks: make([]sync.Mutex, size), mask: uint64(size - 1)}
}

func (s *stripes) forKey(key string) *sync.Mutex {
	return &s.locks[xxhash.Sum64String(key)&s.mask]
}
