package tether

// ring keeps the most recent items of the sequence. Pushing into the full ring evicts the oldest
// item.
type ring[T any] struct {
	items []T
	start uint64
	end   uint64
}

func newRing[T any](capacity uint64) *ring[T] {
	return &ring[T]{
		items: make([]T, capacity),
	}
}

// Start returns index of the oldest item kept.
func (r *ring[T]) Start() uint64 {
	return r.start
}

// End returns index of the next item to be pushed.
func (r *ring[T]) End() uint64 {
	return r.end
}

// Len returns the number of items kept.
func (r *ring[T]) Len() uint64 {
	return r.end - r.start
}

// Push appends item.
func (r *ring[T]) Push(item T) {
	r.items[r.end%uint64(len(r.items))] = item
	r.end++
	if r.end-r.start > uint64(len(r.items)) {
		r.start++
	}
}

// Get returns item at index.
func (r *ring[T]) Get(index uint64) (T, bool) {
	if index < r.start || index >= r.end {
		var v T
		return v, false
	}
	return r.items[index%uint64(len(r.items))], true
}
