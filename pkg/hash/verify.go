package hash

import "fmt"

// DeepVerifyIntegrity re-derives the fourth universal invariant that
// VerifyIntegrity's directory-only check cannot see: that every live pair
// in every bucket actually hashes to the slot holding it. It takes a
// whole-buffer-pool snapshot (Pager.LockAllPages) so concurrent bucket
// writers can't be caught mid-mutation, then walks the directory's
// distinct buckets by Peek, which only sees pages that are currently
// resident in the buffer pool. A bucket that is not resident (never paged
// in since the pager was opened, or evicted since) is skipped, so its
// pairs are not checked.
func (h *HashTable[K, V]) DeepVerifyIntegrity() error {
	h.tableLatch.RLock()
	defer h.tableLatch.RUnlock()

	h.pgr.LockAllPages()
	defer h.pgr.UnlockAllPages()

	dirRaw, ok := h.pgr.Peek(h.directoryPageID)
	if !ok {
		return fmt.Errorf("directory page %d is not resident", h.directoryPageID)
	}
	dir := newDirectoryPage(dirRaw)
	if err := dir.VerifyIntegrity(); err != nil {
		return err
	}

	size := dir.Size()
	visited := make(map[int64]bool)
	for i := int64(0); i < size; i++ {
		bucketID := dir.GetBucketPageID(i)
		if visited[bucketID] {
			continue
		}
		visited[bucketID] = true

		bucketRaw, ok := h.pgr.Peek(bucketID)
		if !ok {
			continue
		}
		bucket := newBucketPage[K, V](bucketRaw, h.cfg.KeyCodec, h.cfg.ValueCodec)
		mask := dir.GetLocalDepthMask(i)
		want := i & mask
		for s := 0; s < bucket.Capacity(); s++ {
			if !bucket.IsReadable(s) {
				continue
			}
			k := bucket.KeyAt(s)
			got := int64(uint32(h.cfg.Hash(k))) & mask
			if got != want {
				return fmt.Errorf("bucket %d slot %d holds a key that hashes to prefix %d, not %d", bucketID, s, got, want)
			}
		}
	}
	return nil
}
