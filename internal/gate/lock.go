package gate

import (
	"hash/fnv"
	"sync"
)

// stripedLock serializes admissions that share a key. Distinct keys may share
// a stripe, which only costs throughput.
type stripedLock struct {
	stripes []sync.Mutex
}

func newStripedLock(n int) *stripedLock {
	if n <= 0 {
		n = 1
	}
	return &stripedLock{stripes: make([]sync.Mutex, n)}
}

func (l *stripedLock) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	m.Lock()
	return m.Unlock
}
