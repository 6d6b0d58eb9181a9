package cmap

import (
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultShards is the shard count used by New.
const DefaultShards = 16

// Map is a concurrent string-keyed map.
type Map[V any] struct {
	shards []*shard[V]
	mask   uint32
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// New returns a map with DefaultShards shards.
func New[V any]() *Map[V] {
	return NewWithShards[V](DefaultShards)
}

// NewWithShards returns a map with n shards. n is rounded up to a power of
// two; n <= 0 means DefaultShards.
func NewWithShards[V any](n int) *Map[V] {
	if n <= 0 {
		n = DefaultShards
	}
	size := 1
	for size < n {
		size <<= 1
	}
	m := &Map[V]{shards: make([]*shard[V], size), mask: uint32(size - 1)}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	return m.shards[murmur3.Sum32([]byte(key))&m.mask]
}

// Get returns the value stored under key.
func (m *Map[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	return v, ok
}

// Set stores value under key.
func (m *Map[V]) Set(key string, value V) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
}

// Update replaces the value under key with fn's result and returns it. fn
// runs with the shard locked, so it must not call back into the map.
func (m *Map[V]) Update(key string, fn func(cur V, ok bool) V) V {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[key]
	next := fn(cur, ok)
	s.items[key] = next
	return next
}

// Delete removes key and returns the value it held.
func (m *Map[V]) Delete(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	v, ok := s.items[key]
	delete(s.items, key)
	s.mu.Unlock()
	return v, ok
}

// Count returns the number of entries.
func (m *Map[V]) Count() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// Keys returns the keys in sorted order.
func (m *Map[V]) Keys() []string {
	var keys []string
	m.Range(func(k string, _ V) bool {
		keys = append(keys, k)
		return true
	})
	sort.Strings(keys)
	return keys
}

// Values returns a snapshot of the values in no particular order.
func (m *Map[V]) Values() []V {
	var vals []V
	m.Range(func(_ string, v V) bool {
		vals = append(vals, v)
		return true
	})
	return vals
}

// Range calls fn for each entry until fn returns false. Each shard is read
// locked while it is visited.
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

// Clear removes every entry.
func (m *Map[V]) Clear() {
	for _, s := range m.shards {
		s.mu.Lock()
		s.items = make(map[string]V)
		s.mu.Unlock()
	}
}
