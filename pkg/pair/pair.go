// Package pair defines the fixed-width encode/decode collaborator that
// lets the hash index's bucket pages store arbitrary key/value types as
// raw page bytes.
package pair

import "encoding/binary"

// Codec serializes values of type T to and from a fixed-width byte
// encoding. Every value of T must encode to exactly Size() bytes, since
// bucket pages lay pairs out at fixed offsets.
type Codec[T any] interface {
	// Size returns the fixed number of bytes an encoded T occupies.
	Size() int
	// Encode writes the fixed-width encoding of v into dst, which is
	// guaranteed to have length Size().
	Encode(v T, dst []byte)
	// Decode reads a T out of src, which is guaranteed to have length
	// Size().
	Decode(src []byte) T
}

// Int64Codec is the Codec for plain int64 keys/values, the canonical case
// (eg. mapping a table's int64 primary key to an int64 record id).
type Int64Codec struct{}

// Size implements Codec.
func (Int64Codec) Size() int { return binary.MaxVarintLen64 }

// Encode implements Codec.
func (Int64Codec) Encode(v int64, dst []byte) {
	binary.PutVarint(dst, v)
}

// Decode implements Codec.
func (Int64Codec) Decode(src []byte) int64 {
	v, _ := binary.Varint(src)
	return v
}
