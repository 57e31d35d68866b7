package hash

import "encoding/binary"

// MaxDepth bounds the directory's global depth; DirSize is therefore the
// largest the directory can ever grow to.
const (
	MaxDepth int64 = 9
	DirSize  int64 = 1 << MaxDepth
)

// Directory page layout (bit-exact, little-endian):
//
//	u32 page_id
//	u32 lsn
//	u32 global_depth
//	u8[DirSize] local_depths
//	u32[DirSize] bucket_page_ids
const (
	dirPageIDOffset    = 0
	dirLSNOffset       = dirPageIDOffset + 4
	dirGlobalDepthOff  = dirLSNOffset + 4
	dirLocalDepthsOff  = dirGlobalDepthOff + 4
	dirBucketIDsOffset = dirLocalDepthsOff + int64(DirSize)
	dirPageHeaderSize  = dirBucketIDsOffset + int64(DirSize)*4
)

var byteOrder = binary.LittleEndian
