package cache

import "fmt"

// checkInvariants walks the recency list and the index and reports the
// first violation of the container invariants described in the design
// doc. It is only ever called from tests; production code never pays for
// the O(n) walk.
func (c *LRU) checkInvariants() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sum int64
	seen := make(map[string]bool, len(c.index))

	prev := noHandle
	count := 0
	for h := c.head; h != noHandle; h = c.arena[h].next {
		e := &c.arena[h]
		if !e.used {
			return fmt.Errorf("recency list visits reclaimed handle %d", h)
		}
		if e.prev != prev {
			return fmt.Errorf("entry %q has prev=%d, want %d", e.key, e.prev, prev)
		}
		sum += int64(e.size())
		seen[e.key] = true
		prev = h
		count++
		if count > len(c.arena)+1 {
			return fmt.Errorf("recency list appears cyclic")
		}
	}
	if prev != c.tail {
		return fmt.Errorf("forward walk ends at %d, tail is %d", prev, c.tail)
	}

	if sum != c.curBytes {
		return fmt.Errorf("sum of live entry sizes %d != curBytes %d", sum, c.curBytes)
	}
	if c.curBytes > c.maxBytes {
		return fmt.Errorf("curBytes %d exceeds maxBytes %d", c.curBytes, c.maxBytes)
	}
	if len(seen) != len(c.index) {
		return fmt.Errorf("recency list has %d keys, index has %d", len(seen), len(c.index))
	}
	for k := range c.index {
		if !seen[k] {
			return fmt.Errorf("key %q in index but not in recency list", k)
		}
	}

	if c.tail != noHandle {
		tailKey := c.arena[c.tail].key
		if h, ok := c.index[tailKey]; !ok || h != c.tail {
			return fmt.Errorf("index for tail key %q does not resolve back to tail handle %d", tailKey, c.tail)
		}
	}
	return nil
}
