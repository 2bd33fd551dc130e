package common

import "strconv"

// RollingIndex caches the tail of a gapless sequence by position. It holds at
// most 2*size items; appending to a full window first drops the oldest size
// items, so lookups stay O(1) and memory stays bounded.
type RollingIndex[T any] struct {
	name  string
	size  int
	first int // position of items[0]
	items []T
}

// NewRollingIndex ...
func NewRollingIndex[T any](name string, size int) *RollingIndex[T] {
	return &RollingIndex[T]{
		name:  name,
		size:  size,
		first: -1,
		items: make([]T, 0, 2*size),
	}
}

// LastIndex is the position of the newest item, -1 when empty.
func (r *RollingIndex[T]) LastIndex() int {
	if len(r.items) == 0 {
		return -1
	}
	return r.first + len(r.items) - 1
}

// GetItem returns the item at index.
func (r *RollingIndex[T]) GetItem(index int) (T, error) {
	var zero T
	switch {
	case index > r.LastIndex():
		return zero, NewStoreErr(r.name, KeyNotFound, strconv.Itoa(index))
	case index < r.first:
		return zero, NewStoreErr(r.name, TooLate, strconv.Itoa(index))
	}
	return r.items[index-r.first], nil
}

// Since returns the cached items after index. It fails with TooLate when some
// of them were already rolled out.
func (r *RollingIndex[T]) Since(index int) ([]T, error) {
	last := r.LastIndex()
	if index >= last {
		return []T{}, nil
	}
	if index+1 < r.first {
		return nil, NewStoreErr(r.name, TooLate, strconv.Itoa(index))
	}
	return append([]T{}, r.items[index+1-r.first:]...), nil
}

// Set replaces the item at index, or appends it when index is LastIndex()+1.
// The first item of an empty window may have any index.
func (r *RollingIndex[T]) Set(item T, index int) error {
	last := r.LastIndex()

	if last < 0 {
		r.first = index
		r.items = append(r.items, item)
		return nil
	}

	switch {
	case index == last+1:
		if len(r.items) >= 2*r.size {
			r.roll()
		}
		r.items = append(r.items, item)
	case index > last+1:
		return NewStoreErr(r.name, SkippedIndex, strconv.Itoa(index))
	case index < r.first:
		return NewStoreErr(r.name, TooLate, strconv.Itoa(index))
	default:
		r.items[index-r.first] = item
	}

	return nil
}

func (r *RollingIndex[T]) roll() {
	kept := make([]T, 0, 2*r.size)
	kept = append(kept, r.items[r.size:]...)
	r.first += r.size
	r.items = kept
}
