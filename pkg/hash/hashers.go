package hash

import (
	"xhash/pkg/pair"

	"github.com/cespare/xxhash"
	"github.com/spaolacci/murmur3"
)

// HashFunc is the hash-function collaborator: a 64-bit digest over a key,
// which the engine truncates to its low 32 bits before masking against
// the directory depth.
type HashFunc[K any] func(k K) uint64

// hasherFromCodec builds a HashFunc out of a byte-level hasher and a key
// codec, so any fixed-width key type can be hashed without a
// type-specific implementation.
func hasherFromCodec[K any](hasher func([]byte) uint64, codec pair.Codec[K]) HashFunc[K] {
	size := codec.Size()
	return func(k K) uint64 {
		// A fresh buffer per call keeps this safe for concurrent callers,
		// since many goroutines invoke it at once under the shared table
		// read latch.
		buf := make([]byte, size)
		codec.Encode(k, buf)
		return hasher(buf)
	}
}

// XXHash64 returns an xxHash-based HashFunc for keys encodable by codec.
func XXHash64[K any](codec pair.Codec[K]) HashFunc[K] {
	return hasherFromCodec(xxhash.Sum64, codec)
}

// Murmur64 returns a MurmurHash3-based HashFunc for keys encodable by codec.
func Murmur64[K any](codec pair.Codec[K]) HashFunc[K] {
	return hasherFromCodec(murmur3.Sum64, codec)
}
