// Package cache implements a bounded, strictly least-recently-used
// key/value store. It is the storage backend behind the gofastd text
// protocol: every byte written against a key counts against a single
// capacity budget, and insertion past that budget evicts the oldest
// entries until the new write fits.
package cache

import "sync"

// noHandle marks the absence of an entry, and is never a valid arena index.
const noHandle = -1

// entry is a single cached (key, value) pair plus its position in the
// recency list. Entries live in a flat arena and are addressed by handle
// rather than pointer, so the list and the index only ever hold integers.
type entry struct {
	key   string
	value []byte
	flags uint32 // protocol-level metadata; fixed-size and excluded from size()
	prev  int
	next  int
	used  bool
}

func (e *entry) size() int {
	return len(e.key) + len(e.value)
}

// LRU is a byte-bounded cache with strict least-recently-used eviction.
// All operations are O(1) amortized: the index is a Go map and the
// recency list is a doubly linked list of arena handles.
//
// A single mutex serializes every public method; none of them block
// internally, so callers never wait on I/O or another goroutine while
// holding the lock.
type LRU struct {
	mu sync.Mutex

	maxBytes int64
	curBytes int64

	index map[string]int
	arena []entry
	free  []int // reclaimed handles, reused before growing the arena

	head int // least recently used
	tail int // most recently used
}

// New creates an LRU cache bounded at maxBytes total (key+value) bytes.
// maxBytes must be positive; New panics otherwise, since a non-positive
// budget makes every Put/PutIfAbsent/Set vacuously fail.
func New(maxBytes int64) *LRU {
	if maxBytes <= 0 {
		panic("cache: maxBytes must be positive")
	}
	return &LRU{
		maxBytes: maxBytes,
		index:    make(map[string]int),
		head:     noHandle,
		tail:     noHandle,
	}
}

// MaxBytes returns the configured capacity.
func (c *LRU) MaxBytes() int64 {
	return c.maxBytes
}

// Len returns the number of live entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// CurrentBytes returns the sum of len(key)+len(value) across live entries.
func (c *LRU) CurrentBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

// Put inserts or replaces key's value, making it most recently used.
// It returns false without modifying the cache if key's entry, alone,
// could never fit (|k|+|v| > maxBytes). flags is protocol-level metadata
// carried alongside the value; it is not counted against maxBytes.
func (c *LRU) Put(key string, value []byte, flags uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(key) + len(value))
	if size > c.maxBytes {
		return false
	}

	if h, ok := c.index[key]; ok {
		c.update(h, value, flags)
		return true
	}
	c.insert(key, value, flags)
	return true
}

// PutIfAbsent inserts key only if it is not already present.
func (c *LRU) PutIfAbsent(key string, value []byte, flags uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index[key]; ok {
		return false
	}
	if int64(len(key)+len(value)) > c.maxBytes {
		return false
	}
	c.insert(key, value, flags)
	return true
}

// Set replaces key's value only if key is already present.
func (c *LRU) Set(key string, value []byte, flags uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.index[key]
	if !ok {
		return false
	}
	if int64(len(key)+len(value)) > c.maxBytes {
		return false
	}
	c.update(h, value, flags)
	return true
}

// Delete removes key if present and reports whether it was present.
func (c *LRU) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.index[key]
	if !ok {
		return false
	}
	c.remove(h)
	return true
}

// Get returns key's value and flags and marks it most recently used. The
// returned slice is the cache's own backing array and must not be mutated.
func (c *LRU) Get(key string) (value []byte, flags uint32, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.index[key]
	if !ok {
		return nil, 0, false
	}
	c.touch(h)
	return c.arena[h].value, c.arena[h].flags, true
}

// Mutate performs an atomic read-modify-write against key's current value
// and flags, holding the cache lock for the whole operation. fn receives
// the existing value and flags (never mutate the value in place — it is
// the cache's own backing array) and returns the replacement value,
// flags, and whether to proceed. Mutate fails (false) if key is absent,
// fn declines, or the replacement would exceed capacity. This is the
// primitive append/prepend build on, so a concurrent Get from another
// connection can never observe a half-updated value.
func (c *LRU) Mutate(key string, fn func(old []byte, oldFlags uint32) (newValue []byte, newFlags uint32, ok bool)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.index[key]
	if !ok {
		return false
	}
	newValue, newFlags, proceed := fn(c.arena[h].value, c.arena[h].flags)
	if !proceed {
		return false
	}
	if int64(len(key)+len(newValue)) > c.maxBytes {
		return false
	}
	c.update(h, newValue, newFlags)
	return true
}

// insert allocates a fresh arena slot for key, evicting from head as
// needed to make room, and links it in as the most recently used entry.
func (c *LRU) insert(key string, value []byte, flags uint32) {
	need := int64(len(key) + len(value))
	for c.curBytes+need > c.maxBytes {
		c.remove(c.head)
	}

	h := c.alloc()
	c.arena[h] = entry{key: key, value: value, flags: flags, prev: noHandle, next: noHandle, used: true}
	c.index[key] = h
	c.curBytes += need
	c.linkTail(h)
}

// update replaces the value and flags stored at handle h, evicting other
// entries as needed, then moves h to the tail. Eviction always skips h
// itself: the entry being updated must survive its own update even when
// it currently sits at head.
func (c *LRU) update(h int, value []byte, flags uint32) {
	e := &c.arena[h]
	delta := int64(len(value) - len(e.value))
	for c.curBytes+delta > c.maxBytes {
		victim := c.head
		if victim == h {
			victim = e.next
		}
		c.remove(victim)
	}
	c.curBytes += delta
	e.value = value
	e.flags = flags
	c.touch(h)
}

// touch relinks h to the tail if it isn't already there.
func (c *LRU) touch(h int) {
	if h == c.tail {
		return
	}
	c.unlink(h)
	c.linkTail(h)
}

// remove evicts the entry at handle h entirely: unlinks it from the
// recency list, deletes it from the index, reclaims its bytes, and
// returns the slot to the free list.
func (c *LRU) remove(h int) {
	e := &c.arena[h]
	c.curBytes -= int64(e.size())
	delete(c.index, e.key)
	c.unlink(h)
	e.value = nil
	e.key = ""
	e.used = false
	c.free = append(c.free, h)
}

// alloc returns a handle for a new entry, reusing a reclaimed slot when
// one is available instead of growing the arena.
func (c *LRU) alloc() int {
	if n := len(c.free); n > 0 {
		h := c.free[n-1]
		c.free = c.free[:n-1]
		return h
	}
	c.arena = append(c.arena, entry{})
	return len(c.arena) - 1
}

// unlink splices handle h out of the recency list without touching the
// index or arena slot contents.
func (c *LRU) unlink(h int) {
	e := &c.arena[h]
	if e.prev != noHandle {
		c.arena[e.prev].next = e.next
	} else {
		c.head = e.next
	}
	if e.next != noHandle {
		c.arena[e.next].prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = noHandle, noHandle
}

// linkTail appends handle h as the new most-recently-used tail.
func (c *LRU) linkTail(h int) {
	e := &c.arena[h]
	e.prev = c.tail
	e.next = noHandle
	if c.tail != noHandle {
		c.arena[c.tail].next = h
	}
	c.tail = h
	if c.head == noHandle {
		c.head = h
	}
}
