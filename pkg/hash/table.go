// Package hash implements an on-disk, page-backed extendible hash index:
// a directory page routing hash prefixes to bucket pages, split-on-full
// insertion with directory growth, and merge-on-empty directory
// contraction, all under a two-tier latch protocol (a table-wide latch for
// structural changes, per-page latches for payload changes).
package hash

import (
	"fmt"

	"xhash/pkg/hash/txn"
	"xhash/pkg/pager"
	"xhash/pkg/pair"

	"sync"
)

// Config bundles the collaborators a HashTable needs but does not itself
// implement: key/value codecs, a three-valued comparator, a hash function,
// and value equality (a bucket may hold several values under one key).
type Config[K any, V any] struct {
	KeyCodec   pair.Codec[K]
	ValueCodec pair.Codec[V]
	Compare    func(a, b K) int
	Hash       HashFunc[K]
	ValueEqual func(a, b V) bool
}

// HashTable is a generic, disk-backed extendible hash index over one
// pager's file. The zeroth page of the file is always the directory page;
// every other page is a bucket page.
type HashTable[K any, V any] struct {
	pgr             *pager.Pager
	directoryPageID int64
	cfg             Config[K, V]
	tableLatch      sync.RWMutex
}

// New allocates a fresh, empty hash table in pgr: a directory page at
// global depth 1 pointing at two empty buckets. pgr must not already have
// any pages (a fresh file).
func New[K any, V any](pgr *pager.Pager, cfg Config[K, V]) (*HashTable[K, V], error) {
	dirPage, err := pgr.GetNewPage()
	if err != nil {
		return nil, fmt.Errorf("allocating directory page: %w", err)
	}
	dir := newDirectoryPage(dirPage)
	dir.Init()
	dir.SetPageID(dirPage.GetPageNum())

	b0, err := newBucket[K, V](pgr, cfg.KeyCodec, cfg.ValueCodec)
	if err != nil {
		pgr.PutPage(dirPage, true)
		return nil, fmt.Errorf("allocating initial bucket: %w", err)
	}
	b1, err := newBucket[K, V](pgr, cfg.KeyCodec, cfg.ValueCodec)
	if err != nil {
		b0.release(true)
		pgr.PutPage(dirPage, true)
		return nil, fmt.Errorf("allocating initial bucket: %w", err)
	}

	dir.IncrGlobalDepth()
	dir.SetBucketPageID(0, b0.page.GetPageNum())
	dir.SetLocalDepth(0, 1)
	dir.SetBucketPageID(1, b1.page.GetPageNum())
	dir.SetLocalDepth(1, 1)

	b0.release(true)
	b1.release(true)
	pgr.PutPage(dirPage, true)

	return &HashTable[K, V]{pgr: pgr, directoryPageID: dirPage.GetPageNum(), cfg: cfg}, nil
}

// Open wraps an existing pager whose page 0 is already an initialized
// directory page (eg. one built by New in an earlier process).
func Open[K any, V any](pgr *pager.Pager, cfg Config[K, V]) (*HashTable[K, V], error) {
	if pgr.GetNumPages() == 0 {
		return New(pgr, cfg)
	}
	return &HashTable[K, V]{pgr: pgr, directoryPageID: 0, cfg: cfg}, nil
}

// Close flushes and closes the backing pager.
func (h *HashTable[K, V]) Close() error {
	return h.pgr.Close()
}

// directoryIndex computes directory_index(k) = hash32(k) & global_depth_mask.
func (h *HashTable[K, V]) directoryIndex(dir *DirectoryPage, key K) int64 {
	low32 := uint32(h.cfg.Hash(key))
	return int64(low32) & dir.GetGlobalDepthMask()
}

func (h *HashTable[K, V]) fetchBucket(pagenum int64) (*pinnedBucket[K, V], error) {
	return fetchBucket[K, V](h.pgr, pagenum, h.cfg.KeyCodec, h.cfg.ValueCodec)
}

// GetValue returns every value stored under key.
func (h *HashTable[K, V]) GetValue(t *txn.Txn, key K) ([]V, error) {
	h.tableLatch.RLock()
	defer h.tableLatch.RUnlock()

	dh, err := fetchDirectory(h.pgr, h.directoryPageID)
	if err != nil {
		return nil, err
	}
	defer dh.release(false)

	idx := h.directoryIndex(dh.dir, key)
	bh, err := h.fetchBucket(dh.dir.GetBucketPageID(idx))
	if err != nil {
		return nil, err
	}
	defer bh.release(false)

	bh.page.RLock()
	var out []V
	bh.bucket.GetValue(key, h.cfg.Compare, &out)
	bh.page.RUnlock()
	return out, nil
}

// Insert places (key, value) into the index. Returns false if an identical
// pair already exists. If the target bucket is full, releases the table
// read latch and retries under splitInsert.
func (h *HashTable[K, V]) Insert(t *txn.Txn, key K, value V) (bool, error) {
	h.tableLatch.RLock()

	dh, err := fetchDirectory(h.pgr, h.directoryPageID)
	if err != nil {
		h.tableLatch.RUnlock()
		return false, err
	}
	idx := h.directoryIndex(dh.dir, key)
	bh, err := h.fetchBucket(dh.dir.GetBucketPageID(idx))
	if err != nil {
		dh.release(false)
		h.tableLatch.RUnlock()
		return false, err
	}

	bh.page.WLock()
	if !bh.bucket.IsFull() {
		ok := bh.bucket.Insert(key, value, h.cfg.Compare, h.cfg.ValueEqual)
		bh.page.WUnlock()
		bh.release(ok)
		dh.release(false)
		h.tableLatch.RUnlock()
		return ok, nil
	}
	bh.page.WUnlock()
	bh.release(false)
	dh.release(false)
	h.tableLatch.RUnlock()

	return h.splitInsert(t, key, value)
}

// splitInsert grows the directory and splits buckets as needed to make
// room for (key, value), looping until the pair fits (a single split can
// be insufficient if every colliding pair shares the new discriminating
// bit). Runs under the exclusive table latch.
func (h *HashTable[K, V]) splitInsert(t *txn.Txn, key K, value V) (bool, error) {
	h.tableLatch.Lock()
	defer h.tableLatch.Unlock()

	dh, err := fetchDirectory(h.pgr, h.directoryPageID)
	if err != nil {
		return false, err
	}
	dir := dh.dir
	dirDirty := false
	defer func() { dh.release(dirDirty) }()

	for {
		oldGlobal := dir.GetGlobalDepth()
		idx := h.directoryIndex(dir, key)
		bh, err := h.fetchBucket(dir.GetBucketPageID(idx))
		if err != nil {
			return false, err
		}

		bh.page.WLock()
		if !bh.bucket.IsFull() {
			ok := bh.bucket.Insert(key, value, h.cfg.Compare, h.cfg.ValueEqual)
			bh.page.WUnlock()
			bh.release(ok)
			return ok, nil
		}

		if dir.GetLocalDepth(idx) == dir.GetGlobalDepth() {
			if dir.GetGlobalDepth() >= MaxDepth {
				bh.page.WUnlock()
				bh.release(false)
				return false, ErrDirectoryFull
			}
			dir.IncrGlobalDepth()
		}
		dir.IncrLocalDepth(idx)
		dirDirty = true
		newLocal := dir.GetLocalDepth(idx)
		splitIdx := dir.GetSplitImageIndex(idx)

		sh, err := newBucket[K, V](h.pgr, h.cfg.KeyCodec, h.cfg.ValueCodec)
		if err != nil {
			bh.page.WUnlock()
			bh.release(false)
			return false, err
		}
		dir.SetBucketPageID(splitIdx, sh.page.GetPageNum())
		dir.SetLocalDepth(splitIdx, newLocal)

		newMask := (int64(1) << uint(newLocal)) - 1
		for i := 0; i < bh.bucket.Capacity(); i++ {
			if !bh.bucket.IsReadable(i) {
				continue
			}
			k := bh.bucket.KeyAt(i)
			which := int64(uint32(h.cfg.Hash(k))) & newMask
			if which == splitIdx {
				v := bh.bucket.ValueAt(i)
				sh.bucket.Insert(k, v, h.cfg.Compare, h.cfg.ValueEqual)
				bh.bucket.RemoveAt(i)
			}
		}
		sh.release(true)

		// Every directory slot beyond the old size is a fresh copy of its
		// low-order twin; redirect the ones that don't refer to the bucket
		// that just split (that twin already points at splitIdx above).
		oldSize := int64(1) << uint(oldGlobal)
		size := dir.Size()
		for i := oldSize; i < size; i++ {
			if i == splitIdx {
				continue
			}
			src := i & (oldSize - 1)
			dir.SetBucketPageID(i, dir.GetBucketPageID(src))
			dir.SetLocalDepth(i, dir.GetLocalDepth(src))
		}

		bh.page.WUnlock()
		bh.release(true)
		// Loop: re-route key against the now-updated directory. It may
		// still land in a full bucket if the split didn't relieve it.
	}
}

// Remove deletes the (key, value) pair if present. If doing so empties the
// bucket, attempts to merge it with its split image.
func (h *HashTable[K, V]) Remove(t *txn.Txn, key K, value V) (bool, error) {
	h.tableLatch.RLock()

	dh, err := fetchDirectory(h.pgr, h.directoryPageID)
	if err != nil {
		h.tableLatch.RUnlock()
		return false, err
	}
	idx := h.directoryIndex(dh.dir, key)
	bh, err := h.fetchBucket(dh.dir.GetBucketPageID(idx))
	if err != nil {
		dh.release(false)
		h.tableLatch.RUnlock()
		return false, err
	}

	bh.page.WLock()
	removed := bh.bucket.Remove(key, value, h.cfg.Compare, h.cfg.ValueEqual)
	empty := bh.bucket.IsEmpty()
	bh.page.WUnlock()
	bh.release(removed)
	dh.release(false)
	h.tableLatch.RUnlock()

	if empty {
		if err := h.merge(key); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// merge attempts to coalesce the bucket holding key with its split image,
// then repeatedly shrinks the directory while every slot's local depth
// stays strictly under the global depth. A no-op if the bucket isn't
// (still) empty by the time the exclusive table latch is acquired, or if
// its local depth is already 1.
func (h *HashTable[K, V]) merge(key K) error {
	h.tableLatch.Lock()
	defer h.tableLatch.Unlock()

	dh, err := fetchDirectory(h.pgr, h.directoryPageID)
	if err != nil {
		return err
	}
	dir := dh.dir
	changed := false
	defer func() { dh.release(changed) }()

	idx := h.directoryIndex(dir, key)
	if dir.GetLocalDepth(idx) <= 1 {
		return nil
	}

	bh, err := h.fetchBucket(dir.GetBucketPageID(idx))
	if err != nil {
		return err
	}
	bh.page.RLock()
	empty := bh.bucket.IsEmpty()
	bh.page.RUnlock()
	bh.release(false)
	if !empty {
		// Reinserted between Remove's unlatched observation and here.
		return nil
	}

	splitIdx := dir.GetSplitImageIndex(idx)
	if dir.GetLocalDepth(splitIdx) == dir.GetLocalDepth(idx) {
		survivor := dir.GetBucketPageID(splitIdx)
		orphan := dir.GetBucketPageID(idx)
		dir.DecrLocalDepth(idx)
		dir.DecrLocalDepth(splitIdx)
		newDepth := dir.GetLocalDepth(splitIdx)

		size := dir.Size()
		for i := int64(0); i < size; i++ {
			bid := dir.GetBucketPageID(i)
			if bid == orphan || bid == survivor {
				dir.SetBucketPageID(i, survivor)
				dir.SetLocalDepth(i, newDepth)
			}
		}
		changed = true
	}

	for dir.CanShrink() {
		dir.DecrGlobalDepth()
		changed = true
	}
	return nil
}

// GetGlobalDepth returns the directory's current global depth.
func (h *HashTable[K, V]) GetGlobalDepth() (int64, error) {
	h.tableLatch.RLock()
	defer h.tableLatch.RUnlock()

	dh, err := fetchDirectory(h.pgr, h.directoryPageID)
	if err != nil {
		return 0, err
	}
	defer dh.release(false)
	return dh.dir.GetGlobalDepth(), nil
}

// VerifyIntegrity checks the directory's structural invariants (local
// depth bounds, same-bucket local-depth agreement, fan-out).
func (h *HashTable[K, V]) VerifyIntegrity() error {
	h.tableLatch.RLock()
	defer h.tableLatch.RUnlock()

	dh, err := fetchDirectory(h.pgr, h.directoryPageID)
	if err != nil {
		return err
	}
	defer dh.release(false)
	return dh.dir.VerifyIntegrity()
}
