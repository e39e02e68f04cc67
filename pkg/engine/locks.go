package engine

import (
	"hash/fnv"
	"sync"
)

// stripedLocks serializes mutations per conversation. Striping keeps the
// lock table bounded; two conversations sharing a stripe only cost a
// little contention, never a correctness issue.
type stripedLocks struct {
	stripes []sync.Mutex
}

func newStripedLocks(n int) *stripedLocks {
	if n <= 0 {
		n = 64
	}
	return &stripedLocks{stripes: make([]sync.Mutex, n)}
}

func (s *stripedLocks) lock(convID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(convID))
	m := &s.stripes[h.Sum32()%uint32(len(s.stripes))]
	m.Lock()
	return m
}
