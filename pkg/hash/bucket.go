package hash

import (
	"fmt"

	"xhash/pkg/pager"
	"xhash/pkg/pair"

	"github.com/bits-and-blooms/bitset"
)

// BucketPage is a fixed-capacity slotted container of (key, value) pairs
// backed by one buffer-pool page. Each slot i carries an occupied bit
// (slot i has ever held a pair) and a readable bit (slot i currently
// holds a live pair); a removed pair clears readable but keeps occupied,
// so the slot is a tombstone rather than a hole.
type BucketPage[K any, V any] struct {
	page     *pager.Page
	keyCodec pair.Codec[K]
	valCodec pair.Codec[V]
	capacity int
	pairSize int
}

// bucketCapacity returns the largest N such that the occupied/readable
// bitmaps plus N pairs fit in a page of the given size:
// (4*pageSize) / (4*sizeof(pair) + 1).
func bucketCapacity(pageSize int64, pairSize int) int {
	return int((4 * pageSize) / int64(4*pairSize+1))
}

func bitmapBytes(capacity int) int {
	return (capacity + 7) / 8
}

// newBucketPage constructs a view over page for the given key/value
// codecs. It does not initialize the page's contents; callers allocating
// a fresh bucket must call Init.
func newBucketPage[K any, V any](page *pager.Page, keyCodec pair.Codec[K], valCodec pair.Codec[V]) *BucketPage[K, V] {
	pairSize := keyCodec.Size() + valCodec.Size()
	capacity := bucketCapacity(int64(len(page.GetData())), pairSize)
	if capacity <= 0 {
		panic(fmt.Sprintf("pair of size %d does not fit in a %d byte page", pairSize, len(page.GetData())))
	}
	return &BucketPage[K, V]{page: page, keyCodec: keyCodec, valCodec: valCodec, capacity: capacity, pairSize: pairSize}
}

func (b *BucketPage[K, V]) occupiedOffset() int { return 0 }
func (b *BucketPage[K, V]) readableOffset() int { return bitmapBytes(b.capacity) }
func (b *BucketPage[K, V]) pairsOffset() int    { return 2 * bitmapBytes(b.capacity) }

// Init clears a freshly allocated bucket page's occupied/readable
// bitmaps. Page frames are recycled by the buffer pool, so a new bucket
// must not inherit a previous tenant's bits.
func (b *BucketPage[K, V]) Init() {
	data := b.page.GetData()
	n := 2 * bitmapBytes(b.capacity)
	for i := 0; i < n; i++ {
		data[i] = 0
	}
}

// Capacity returns CAPACITY: the maximum number of pairs this bucket can
// hold.
func (b *BucketPage[K, V]) Capacity() int {
	return b.capacity
}

func testBit(data []byte, i int) bool {
	return data[i/8]&(1<<uint(i%8)) != 0
}

func setBit(data []byte, i int, v bool) {
	if v {
		data[i/8] |= 1 << uint(i%8)
	} else {
		data[i/8] &^= 1 << uint(i%8)
	}
}

// IsOccupied reports whether slot i has ever held a pair.
func (b *BucketPage[K, V]) IsOccupied(i int) bool {
	return testBit(b.page.GetData()[b.occupiedOffset():], i)
}

// IsReadable reports whether slot i currently holds a live pair.
func (b *BucketPage[K, V]) IsReadable(i int) bool {
	return testBit(b.page.GetData()[b.readableOffset():], i)
}

// loadBits decodes the bitmap at the given byte offset into an in-memory
// bitset.BitSet for convenient manipulation; bitset's own word packing is
// not wire-compatible, so this is only ever used as working storage
// between a read here and a matching storeBits.
func (b *BucketPage[K, V]) loadBits(offset int) *bitset.BitSet {
	bs := bitset.New(uint(b.capacity))
	data := b.page.GetData()[offset:]
	for i := 0; i < b.capacity; i++ {
		if testBit(data, i) {
			bs.Set(uint(i))
		}
	}
	return bs
}

// storeBits writes bs back out to the page's raw bytes at offset, using
// the spec's bit-exact, LSB-first-within-byte layout.
func (b *BucketPage[K, V]) storeBits(offset int, bs *bitset.BitSet) {
	data := b.page.GetData()[offset:]
	n := bitmapBytes(b.capacity)
	for i := 0; i < n; i++ {
		data[i] = 0
	}
	for i := 0; i < b.capacity; i++ {
		setBit(data, i, bs.Test(uint(i)))
	}
}

func (b *BucketPage[K, V]) pairOffset(i int) int {
	return b.pairsOffset() + i*b.pairSize
}

// KeyAt returns the key stored at slot i.
func (b *BucketPage[K, V]) KeyAt(i int) K {
	off := b.pairOffset(i)
	return b.keyCodec.Decode(b.page.GetData()[off : off+b.keyCodec.Size()])
}

// ValueAt returns the value stored at slot i.
func (b *BucketPage[K, V]) ValueAt(i int) V {
	off := b.pairOffset(i) + b.keyCodec.Size()
	return b.valCodec.Decode(b.page.GetData()[off : off+b.valCodec.Size()])
}

func (b *BucketPage[K, V]) writePair(i int, k K, v V) {
	b.page.SetDirty(true)
	off := b.pairOffset(i)
	data := b.page.GetData()
	b.keyCodec.Encode(k, data[off:off+b.keyCodec.Size()])
	b.valCodec.Encode(v, data[off+b.keyCodec.Size():off+b.pairSize])
}

// NumReadable returns the number of slots currently holding a live pair.
func (b *BucketPage[K, V]) NumReadable() int {
	n := 0
	for i := 0; i < b.capacity; i++ {
		if b.IsReadable(i) {
			n++
		}
	}
	return n
}

// IsEmpty reports whether no slot is readable.
func (b *BucketPage[K, V]) IsEmpty() bool {
	data := b.page.GetData()[b.readableOffset():]
	nbytes := bitmapBytes(b.capacity)
	for i := 0; i < nbytes; i++ {
		if data[i] != 0 {
			return false
		}
	}
	return true
}

// IsFull reports whether every slot is readable.
func (b *BucketPage[K, V]) IsFull() bool {
	return b.NumReadable() >= b.capacity
}

// Insert places (k, v) into the first available slot, preferring an
// empty (never-occupied) one over a tombstone. Returns false if an
// identical (k, v) pair already exists (duplicate rejection) or if the
// bucket is full.
func (b *BucketPage[K, V]) Insert(k K, v V, cmp func(K, K) int, valEqual func(V, V) bool) bool {
	firstFree := -1
	for i := 0; i < b.capacity; i++ {
		if b.IsReadable(i) {
			if cmp(b.KeyAt(i), k) == 0 && valEqual(b.ValueAt(i), v) {
				return false
			}
			continue
		}
		if firstFree == -1 && !b.IsOccupied(i) {
			firstFree = i
		}
	}
	if firstFree == -1 {
		// No never-occupied slot; fall back to the first tombstone.
		for i := 0; i < b.capacity; i++ {
			if !b.IsReadable(i) {
				firstFree = i
				break
			}
		}
	}
	if firstFree == -1 {
		return false
	}
	occupied := b.loadBits(b.occupiedOffset())
	readable := b.loadBits(b.readableOffset())
	occupied.Set(uint(firstFree))
	readable.Set(uint(firstFree))
	b.storeBits(b.occupiedOffset(), occupied)
	b.storeBits(b.readableOffset(), readable)
	b.writePair(firstFree, k, v)
	return true
}

// Remove clears the readable bit of the first slot holding exactly
// (k, v). Returns false if no such slot is found. occupied is left set,
// so the slot becomes a tombstone rather than a hole.
func (b *BucketPage[K, V]) Remove(k K, v V, cmp func(K, K) int, valEqual func(V, V) bool) bool {
	for i := 0; i < b.capacity; i++ {
		if b.IsReadable(i) && cmp(b.KeyAt(i), k) == 0 && valEqual(b.ValueAt(i), v) {
			b.RemoveAt(i)
			return true
		}
	}
	return false
}

// RemoveAt unconditionally clears the readable bit of slot i, used by
// split when relocating pairs to the sibling bucket.
func (b *BucketPage[K, V]) RemoveAt(i int) {
	readable := b.loadBits(b.readableOffset())
	readable.Clear(uint(i))
	b.storeBits(b.readableOffset(), readable)
	b.page.SetDirty(true)
}

// GetValue appends every value whose key equals k to out, returning true
// iff at least one was appended.
func (b *BucketPage[K, V]) GetValue(k K, cmp func(K, K) int, out *[]V) bool {
	found := false
	for i := 0; i < b.capacity; i++ {
		if b.IsReadable(i) && cmp(b.KeyAt(i), k) == 0 {
			*out = append(*out, b.ValueAt(i))
			found = true
		}
	}
	return found
}
