package memory

import "sync"

// shardedMutex spreads locking across 32 shards keyed by a hash of the
// resource key, so unrelated users rarely contend.
type shardedMutex struct {
	shards [32]sync.Mutex
}

func (m *shardedMutex) lock(key string) func() {
	mu := &m.shards[m.shardFor(key)]
	mu.Lock()
	return mu.Unlock
}

func (m *shardedMutex) shardFor(key string) int {
	var h uint32
	for i := 0; i < len(key); i++ {
		h = h*31 + uint32(key[i])
	}
	return int(h % uint32(len(m.shards)))
}
