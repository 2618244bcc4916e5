package state

import (
	"sync"
	"time"
)

// Entry is one timestamped record in a bounded history.
// The same shape is used for connection events and for logged errors;
// Detail carries the event detail or the error message respectively.
type Entry struct {
	Time     time.Time `json:"time"`
	Category string    `json:"category"`
	Detail   string    `json:"detail"`
}

// EntryRing is a thread-safe circular buffer of history entries.
//
// It is fixed-size and overwrites the oldest entry when full, so history
// memory stays bounded no matter how noisy the pipeline gets. Writes go to
// head, which wraps at capacity; once full, head always points at the
// oldest entry.
type EntryRing struct {
	mu sync.RWMutex

	entries []Entry
	head    int // next write position, wraps at cap
	size    int // current count, 0..cap
	cap     int
}

// NewEntryRing creates a ring with the given capacity.
// If capacity is <= 0, it defaults to 100 entries.
func NewEntryRing(capacity int) *EntryRing {
	if capacity <= 0 {
		capacity = 100
	}
	return &EntryRing{
		entries: make([]Entry, capacity),
		cap:     capacity,
	}
}

// Append adds an entry, evicting the oldest when the ring is full.
func (r *EntryRing) Append(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.head] = e
	r.head = (r.head + 1) % r.cap
	if r.size < r.cap {
		r.size++
	}
}

// Entries returns all entries in order from oldest to newest.
// The returned slice is a copy, safe to use without further locking.
func (r *EntryRing) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Entry, r.size)
	if r.size == 0 {
		return result
	}

	if r.size < r.cap {
		copy(result, r.entries[:r.size])
	} else {
		// Full ring: head is the oldest entry, read around the wrap.
		for i := 0; i < r.size; i++ {
			result[i] = r.entries[(r.head+i)%r.cap]
		}
	}

	return result
}

// Newest returns the most recently appended entry and true, or a zero
// Entry and false when the ring is empty.
func (r *EntryRing) Newest() (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size == 0 {
		return Entry{}, false
	}
	idx := (r.head - 1 + r.cap) % r.cap
	return r.entries[idx], true
}

// Size returns the current number of entries.
func (r *EntryRing) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Capacity returns the maximum capacity of the ring.
// No locking needed because cap never changes after creation.
func (r *EntryRing) Capacity() int {
	return r.cap
}
