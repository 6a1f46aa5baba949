package tether

import (
	"sync"
	"sync/atomic"
)

const registryBuckets = 16

type registryBucket[T any] struct {
	mu    sync.RWMutex
	items map[uint64]T
}

// registry maps call IDs to calls. Every bucket is locked separately so concurrent calls
// don't contend on a single lock.
type registry[T comparable] struct {
	lastID  atomic.Uint64
	buckets [registryBuckets]registryBucket[T]
}

func newRegistry[T comparable]() *registry[T] {
	r := &registry[T]{}
	for i := range r.buckets {
		r.buckets[i].items = map[uint64]T{}
	}
	return r
}

func (r *registry[T]) bucket(id uint64) *registryBucket[T] {
	return &r.buckets[id%registryBuckets]
}

// NextID allocates new ID. IDs are never reused.
func (r *registry[T]) NextID() uint64 {
	return r.lastID.Add(1)
}

// Register allocates ID for item and stores it.
func (r *registry[T]) Register(newFn func(id uint64) T) (uint64, T) {
	id := r.NextID()
	item := newFn(id)

	b := r.bucket(id)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[id] = item
	return id, item
}

// GetOrRegister returns item stored under id or stores the new one.
func (r *registry[T]) GetOrRegister(id uint64, newFn func() T) (T, bool) {
	b := r.bucket(id)
	b.mu.Lock()
	defer b.mu.Unlock()

	if item, exists := b.items[id]; exists {
		return item, false
	}
	item := newFn()
	b.items[id] = item
	return item, true
}

// Get returns item stored under id.
func (r *registry[T]) Get(id uint64) (T, bool) {
	b := r.bucket(id)
	b.mu.RLock()
	defer b.mu.RUnlock()

	item, exists := b.items[id]
	return item, exists
}

// Unregister removes item if it is still stored under id.
func (r *registry[T]) Unregister(id uint64, item T) bool {
	b := r.bucket(id)
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, exists := b.items[id]; exists && existing == item {
		delete(b.items, id)
		return true
	}
	return false
}

// Len returns number of stored items.
func (r *registry[T]) Len() int {
	var n int
	for i := range r.buckets {
		b := &r.buckets[i]
		b.mu.RLock()
		n += len(b.items)
		b.mu.RUnlock()
	}
	return n
}

// Drain removes and returns all the stored items.
func (r *registry[T]) Drain() []T {
	var items []T
	for i := range r.buckets {
		b := &r.buckets[i]
		b.mu.Lock()
		for id, item := range b.items {
			items = append(items, item)
			delete(b.items, id)
		}
		b.mu.Unlock()
	}
	return items
}
