package freqcache

import (
	"hash/fnv"
	"sync"

	"varfreq/internal/domain"
)

// LockSet provides the per-locus exclusive section the import path holds
// across write, version bump, and invalidation. Striped so unrelated loci
// never serialize against each other; two loci may share a stripe, which
// costs throughput but never correctness.
type LockSet struct {
	stripes [shardCount]sync.Mutex
}

func NewLockSet() *LockSet { return &LockSet{} }

// Lock acquires the stripe for a locus and returns the release func.
func (l *LockSet) Lock(locus domain.Locus) func() {
	h := fnv.New32a()
	h.Write([]byte(locus.String()))
	mu := &l.stripes[h.Sum32()%shardCount]
	mu.Lock()
	return mu.Unlock
}
