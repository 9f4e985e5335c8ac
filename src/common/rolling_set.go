package common

import (
	"sync"

	"github.com/google/uuid"
)

// RollingSet remembers the most recently added GUIDs. It keeps at most 2*size
// items; when full, the oldest half is dropped in one go, like the window of a
// RollingIndex. It is safe for concurrent use.
type RollingSet struct {
	sync.Mutex
	size  int
	items []uuid.UUID
	index map[uuid.UUID]struct{}
}

// NewRollingSet ...
func NewRollingSet(size int) *RollingSet {
	return &RollingSet{
		size:  size,
		items: make([]uuid.UUID, 0, 2*size),
		index: make(map[uuid.UUID]struct{}, 2*size),
	}
}

// Contains ...
func (r *RollingSet) Contains(id uuid.UUID) bool {
	r.Lock()
	defer r.Unlock()
	_, ok := r.index[id]
	return ok
}

// Add inserts id and reports whether it was new.
func (r *RollingSet) Add(id uuid.UUID) bool {
	r.Lock()
	defer r.Unlock()

	if _, ok := r.index[id]; ok {
		return false
	}
	if len(r.items) >= 2*r.size {
		r.roll()
	}
	r.items = append(r.items, id)
	r.index[id] = struct{}{}
	return true
}

// Len ...
func (r *RollingSet) Len() int {
	r.Lock()
	defer r.Unlock()
	return len(r.items)
}

func (r *RollingSet) roll() {
	for _, id := range r.items[:r.size] {
		delete(r.index, id)
	}
	newList := make([]uuid.UUID, 0, 2*r.size)
	newList = append(newList, r.items[r.size:]...)
	r.items = newList
}
