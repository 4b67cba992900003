package handle

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("handle table closed")

// Handle is an opaque, generation-checked reference to a table entry.
// Handle 0 is reserved and always invalid.
type Handle uint64

func makeHandle(index, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index+1))
}

func (h Handle) slot() (index uint32, gen uint32, ok bool) {
	lo := uint32(h)
	if lo == 0 {
		return 0, 0, false
	}
	return lo - 1, uint32(h >> 32), true
}

// Dropper is optionally implemented by values that need cleanup when the table closes.
type Dropper interface {
	Drop()
}

type entry[T any] struct {
	value T
	gen   uint32
	valid bool
}

// Table maps handles to values of a single type.
type Table[T any] struct {
	entries  []entry[T]
	freeList []uint32
	mu       sync.RWMutex
	live     int
	closed   bool
}

// NewTable creates an empty table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{
		entries:  make([]entry[T], 0, 64),
		freeList: make([]uint32, 0, 16),
	}
}

// Insert stores a value and returns its handle.
func (t *Table[T]) Insert(value T) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, ErrClosed
	}

	if n := len(t.freeList); n > 0 {
		idx := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		e := &t.entries[idx]
		e.value = value
		e.valid = true
		t.live++
		return makeHandle(idx, e.gen), nil
	}

	t.entries = append(t.entries, entry[T]{value: value, gen: 1, valid: true})
	t.live++
	return makeHandle(uint32(len(t.entries)-1), 1), nil
}

// Get retrieves a value by handle. Stale and unknown handles report false.
func (t *Table[T]) Get(h Handle) (T, bool) {
	var zero T
	idx, gen, ok := h.slot()
	if !ok {
		return zero, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if int(idx) >= len(t.entries) {
		return zero, false
	}
	e := t.entries[idx]
	if !e.valid || e.gen != gen {
		return zero, false
	}
	return e.value, true
}

// Remove drops an entry and returns its value. The handle becomes stale.
func (t *Table[T]) Remove(h Handle) (T, bool) {
	var zero T
	idx, gen, ok := h.slot()
	if !ok {
		return zero, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if int(idx) >= len(t.entries) {
		return zero, false
	}
	e := &t.entries[idx]
	if !e.valid || e.gen != gen {
		return zero, false
	}

	value := e.value
	e.value = zero
	e.valid = false
	e.gen++
	t.live--
	t.freeList = append(t.freeList, idx)
	return value, true
}

// Len returns the number of live entries.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

// Each iterates over live entries until fn returns false.
func (t *Table[T]) Each(fn func(Handle, T) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i, e := range t.entries {
		if e.valid {
			if !fn(makeHandle(uint32(i), e.gen), e.value) {
				break
			}
		}
	}
}

// Close drops every live entry and stops accepting inserts.
func (t *Table[T]) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	for i := range t.entries {
		if t.entries[i].valid {
			if d, ok := any(t.entries[i].value).(Dropper); ok {
				d.Drop()
			}
		}
	}

	t.entries = nil
	t.freeList = nil
	t.live = 0
	return nil
}
