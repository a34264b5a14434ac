// Package shardmap provides a string-keyed map split across independently
// locked shards, so operations on unrelated keys do not contend.
package shardmap

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

const DefaultShards = 32

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

type Map[V any] struct {
	shards []*shard[V]
}

func New[V any](shards int) *Map[V] {
	if shards <= 0 {
		shards = DefaultShards
	}
	m := &Map[V]{shards: make([]*shard[V], shards)}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	return m.shards[murmur3.Sum32([]byte(key))%uint32(len(m.shards))]
}

func (m *Map[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// View runs fn on the value under the shard's read lock. fn must not keep
// references into the value past its return.
func (m *Map[V]) View(key string, fn func(value V)) bool {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	if ok {
		fn(v)
	}
	return ok
}

// Set stores value under key and returns the value it replaced, if any.
func (m *Map[V]) Set(key string, value V) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.items[key]
	s.items[key] = value
	return old, ok
}

// Delete removes key and returns the removed value.
func (m *Map[V]) Delete(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	return v, ok
}

// Update runs fn under the shard's write lock. fn receives the current value
// and reports the value to store, or keep=false to delete the key.
func (m *Map[V]) Update(key string, fn func(current V, exists bool) (next V, keep bool)) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.items[key]
	next, keep := fn(current, exists)
	if keep {
		s.items[key] = next
		return
	}
	delete(s.items, key)
}

// Len sums the shard sizes. The total is not a consistent snapshot while
// writers are active.
func (m *Map[V]) Len() int {
	total := 0
	for _, s := range m.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Range calls fn for each entry, one shard at a time, until fn returns false.
func (m *Map[V]) Range(fn func(key string, value V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.items {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}
