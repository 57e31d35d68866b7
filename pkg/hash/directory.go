package hash

import (
	"fmt"

	"xhash/pkg/pager"
)

// DirectoryPage is the routing page mapping hash prefixes to bucket
// pages. It is a pure in-memory view over one buffer-pool page's raw
// bytes: no I/O, no latching. Every accessor reads or writes straight
// through to the backing page, which remains the source of truth for
// persistence.
type DirectoryPage struct {
	page *pager.Page
}

// newDirectoryPage constructs a view over page, asserting that the page
// is large enough to hold the fixed directory layout.
func newDirectoryPage(page *pager.Page) *DirectoryPage {
	if int64(len(page.GetData())) < dirPageHeaderSize {
		panic(fmt.Sprintf("directory page layout (%d bytes) does not fit in a %d byte page", dirPageHeaderSize, len(page.GetData())))
	}
	return &DirectoryPage{page: page}
}

// Init resets a freshly allocated page to an empty directory (global
// depth 0, every slot pointing nowhere).
func (d *DirectoryPage) Init() {
	data := d.page.GetData()
	for i := int64(dirPageIDOffset); i < dirPageHeaderSize; i++ {
		data[i] = 0
	}
	for i := int64(0); i < DirSize; i++ {
		d.SetBucketPageID(i, pager.NoPage)
	}
}

// GetPageID returns this directory page's own page identifier.
func (d *DirectoryPage) GetPageID() int64 {
	return int64(byteOrder.Uint32(d.page.GetData()[dirPageIDOffset:]))
}

// SetPageID sets this directory page's own page identifier.
func (d *DirectoryPage) SetPageID(id int64) {
	byteOrder.PutUint32(d.page.GetData()[dirPageIDOffset:], uint32(id))
}

// GetLSN returns the log-sequence number stamped on this directory page,
// for a WAL collaborator's use; the engine itself never interprets it.
func (d *DirectoryPage) GetLSN() int64 {
	return int64(byteOrder.Uint32(d.page.GetData()[dirLSNOffset:]))
}

// SetLSN stamps a log-sequence number on this directory page.
func (d *DirectoryPage) SetLSN(lsn int64) {
	byteOrder.PutUint32(d.page.GetData()[dirLSNOffset:], uint32(lsn))
}

// GetGlobalDepth returns the number of low-order hash bits currently used
// to index the directory.
func (d *DirectoryPage) GetGlobalDepth() int64 {
	return int64(byteOrder.Uint32(d.page.GetData()[dirGlobalDepthOff:]))
}

func (d *DirectoryPage) setGlobalDepth(depth int64) {
	byteOrder.PutUint32(d.page.GetData()[dirGlobalDepthOff:], uint32(depth))
}

// IncrGlobalDepth doubles the directory's effective size by incrementing
// the global depth. The caller is responsible for populating the newly
// exposed slots (see split's redirection step).
func (d *DirectoryPage) IncrGlobalDepth() {
	d.setGlobalDepth(d.GetGlobalDepth() + 1)
}

// DecrGlobalDepth halves the directory's effective size. Slots beyond the
// new size become inaccessible but are not physically cleared.
func (d *DirectoryPage) DecrGlobalDepth() {
	d.setGlobalDepth(d.GetGlobalDepth() - 1)
}

// Size returns the number of directory slots currently in use: 2^global_depth.
func (d *DirectoryPage) Size() int64 {
	return int64(1) << uint(d.GetGlobalDepth())
}

// GetGlobalDepthMask returns (1<<global_depth)-1.
func (d *DirectoryPage) GetGlobalDepthMask() int64 {
	return d.Size() - 1
}

// GetLocalDepth returns the local depth of directory slot i.
func (d *DirectoryPage) GetLocalDepth(i int64) int64 {
	return int64(d.page.GetData()[dirLocalDepthsOff+i])
}

// SetLocalDepth sets the local depth of directory slot i.
func (d *DirectoryPage) SetLocalDepth(i int64, depth int64) {
	d.page.GetData()[dirLocalDepthsOff+i] = byte(depth)
}

// IncrLocalDepth increments the local depth of directory slot i.
func (d *DirectoryPage) IncrLocalDepth(i int64) {
	d.SetLocalDepth(i, d.GetLocalDepth(i)+1)
}

// DecrLocalDepth decrements the local depth of directory slot i.
func (d *DirectoryPage) DecrLocalDepth(i int64) {
	d.SetLocalDepth(i, d.GetLocalDepth(i)-1)
}

// GetLocalDepthMask returns (1<<local_depth(i))-1.
func (d *DirectoryPage) GetLocalDepthMask(i int64) int64 {
	return (int64(1) << uint(d.GetLocalDepth(i))) - 1
}

// GetBucketPageID returns the page id of the bucket referenced by
// directory slot i.
func (d *DirectoryPage) GetBucketPageID(i int64) int64 {
	off := dirBucketIDsOffset + i*4
	return int64(int32(byteOrder.Uint32(d.page.GetData()[off:])))
}

// SetBucketPageID points directory slot i at the given bucket page.
func (d *DirectoryPage) SetBucketPageID(i int64, pageID int64) {
	off := dirBucketIDsOffset + i*4
	byteOrder.PutUint32(d.page.GetData()[off:], uint32(int32(pageID)))
}

// GetSplitImageIndex returns the directory index obtained by flipping bit
// local_depth(i)-1 of i: the sibling slot created by splitting i's
// bucket. Only meaningful once local_depth(i) >= 1.
func (d *DirectoryPage) GetSplitImageIndex(i int64) int64 {
	depth := d.GetLocalDepth(i)
	if depth == 0 {
		return i
	}
	return i ^ (int64(1) << uint(depth-1))
}

// CanShrink reports whether every slot's local depth is strictly less
// than the global depth, ie. whether the directory can lose a bit without
// any bucket losing discriminating power.
func (d *DirectoryPage) CanShrink() bool {
	size := d.Size()
	for i := int64(0); i < size; i++ {
		if d.GetLocalDepth(i) >= d.GetGlobalDepth() {
			return false
		}
	}
	return true
}

// VerifyIntegrity checks the directory invariants:
//  1. local_depth(i) <= global_depth for every i.
//  2. two slots pointing at the same bucket have identical local depth.
//  3. fan-out: for every bucket at slot i with local depth d, every slot j
//     whose low-d bits equal those of i points at the same bucket.
//
// Returns the first violation found, or nil.
func (d *DirectoryPage) VerifyIntegrity() error {
	size := d.Size()
	global := d.GetGlobalDepth()
	bucketDepth := make(map[int64]int64)
	for i := int64(0); i < size; i++ {
		depth := d.GetLocalDepth(i)
		if depth > global {
			return fmt.Errorf("directory slot %d has local depth %d exceeding global depth %d", i, depth, global)
		}
		bucketID := d.GetBucketPageID(i)
		if prior, ok := bucketDepth[bucketID]; ok && prior != depth {
			return fmt.Errorf("bucket %d is referenced with differing local depths %d and %d", bucketID, prior, depth)
		}
		bucketDepth[bucketID] = depth
	}
	for i := int64(0); i < size; i++ {
		depth := d.GetLocalDepth(i)
		mask := d.GetLocalDepthMask(i)
		want := d.GetBucketPageID(i)
		for j := int64(0); j < size; j++ {
			if j&mask == i&mask {
				if got := d.GetBucketPageID(j); got != want {
					return fmt.Errorf("fan-out violated: slot %d (depth %d) and slot %d share low bits but point at buckets %d and %d", i, depth, j, want, got)
				}
			}
		}
	}
	return nil
}
