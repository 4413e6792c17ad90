package runtime

import (
	"context"
	"sync"
)

// Callback is a host function exposed to a tab script by reference. The
// script never holds the function itself, only an opaque handle; arguments
// cross the boundary as plain values.
type Callback func(ctx context.Context, args []any) (any, error)

// handleTable is a reference-counted arena of host callbacks. A handle is
// registered with one reference owned by the sandbox call; every pending
// host call invocation retains one more. The callback is dropped only when
// the count reaches zero, so teardown is deterministic rather than left to
// garbage collection.
type handleTable struct {
	mu      sync.Mutex
	next    uint64
	entries map[uint64]*handleEntry
}

type handleEntry struct {
	callback Callback
	refs     int
}

func newHandleTable() *handleTable {
	return &handleTable{entries: map[uint64]*handleEntry{}}
}

// register adds a callback with an initial reference count of one and
// returns its handle.
func (t *handleTable) register(cb Callback) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.entries[t.next] = &handleEntry{callback: cb, refs: 1}
	return t.next
}

// retain increments the reference count for a pending invocation.
func (t *handleTable) retain(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[id]
	if !ok {
		return false
	}
	entry.refs++
	return true
}

// release decrements the reference count, dropping the entry at zero.
func (t *handleTable) release(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[id]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(t.entries, id)
	}
}

// get returns the callback for id, if still alive.
func (t *handleTable) get(id uint64) (Callback, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	return entry.callback, true
}

// size reports the number of live handles.
func (t *handleTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
