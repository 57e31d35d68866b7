package hash

// Pair is one (key, value) yielded by a Cursor.
type Pair[K any, V any] struct {
	Key   K
	Value V
}

// Cursor walks every live pair in the index, one bucket at a time in
// directory-slot order. It is a physical, unordered enumeration primitive,
// not a range scan by key: distinct directory slots that still share a
// bucket (because it hasn't split to the slot's local depth) are visited
// once, and there is no ordering guarantee across or within buckets.
//
// A Cursor holds no page pinned between calls to Next; each call fetches,
// reads, and releases its bucket independently, so a long-lived Cursor
// does not starve the buffer pool.
type Cursor[K any, V any] struct {
	table    *HashTable[K, V]
	slot     int64
	slotSize int64
	visited  map[int64]bool
	pending  []Pair[K, V]
}

// NewCursor returns a Cursor positioned before the first pair.
func (h *HashTable[K, V]) NewCursor() (*Cursor[K, V], error) {
	h.tableLatch.RLock()
	defer h.tableLatch.RUnlock()

	dh, err := fetchDirectory(h.pgr, h.directoryPageID)
	if err != nil {
		return nil, err
	}
	defer dh.release(false)

	return &Cursor[K, V]{
		table:    h,
		slot:     0,
		slotSize: dh.dir.Size(),
		visited:  make(map[int64]bool),
	}, nil
}

// Next advances the cursor and reports whether a pair was produced.
func (c *Cursor[K, V]) Next() (Pair[K, V], bool, error) {
	for len(c.pending) == 0 {
		if c.slot >= c.slotSize {
			return Pair[K, V]{}, false, nil
		}
		if _, _, err := c.fillFromSlot(c.slot); err != nil {
			return Pair[K, V]{}, false, err
		}
		c.slot++
	}
	p := c.pending[0]
	c.pending = c.pending[1:]
	return p, true, nil
}

// fillFromSlot reads every live pair out of the bucket referenced by
// directory slot i, appending them to c.pending, unless that bucket was
// already visited via an earlier, lower-numbered slot.
func (c *Cursor[K, V]) fillFromSlot(i int64) (Pair[K, V], bool, error) {
	h := c.table
	h.tableLatch.RLock()
	defer h.tableLatch.RUnlock()

	dh, err := fetchDirectory(h.pgr, h.directoryPageID)
	if err != nil {
		return Pair[K, V]{}, false, err
	}
	bucketID := dh.dir.GetBucketPageID(i)
	dh.release(false)

	if c.visited[bucketID] {
		return Pair[K, V]{}, false, nil
	}
	c.visited[bucketID] = true

	bh, err := h.fetchBucket(bucketID)
	if err != nil {
		return Pair[K, V]{}, false, err
	}
	bh.page.RLock()
	for s := 0; s < bh.bucket.Capacity(); s++ {
		if bh.bucket.IsReadable(s) {
			c.pending = append(c.pending, Pair[K, V]{Key: bh.bucket.KeyAt(s), Value: bh.bucket.ValueAt(s)})
		}
	}
	bh.page.RUnlock()
	bh.release(false)
	return Pair[K, V]{}, len(c.pending) > 0, nil
}
