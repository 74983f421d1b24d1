package dc

import "encoding/binary"

// MaxVarintLen is the maximum number of bytes either codec in this file
// can produce for a signed 64-bit value (spec.md §4.6: "len <= 10").
const MaxVarintLen = binary.MaxVarintLen64 // 10

// CompressInt encodes v into the TAIL of out (which must be exactly 10
// bytes), returning the number of bytes written. The encoded bytes occupy
// out[10-n:], matching spec.md §4.6's tail-anchored layout; the caller
// keeps the returned n to locate the start of the encoding. Round-trips the full signed 64-bit range in
// at most MaxVarintLen bytes (spec.md §8 invariant 4).
func CompressInt(v int64, out *[10]byte) int {
	var scratch [10]byte
	n := binary.PutVarint(scratch[:], v)
	copy(out[10-n:], scratch[:n])
	return n
}

// DecompressInt decodes a value encoded by CompressInt. ptr must point to
// the first of the n encoded bytes (i.e. ptr == &out[10-n] from the
// corresponding CompressInt call); decoding is self-terminating so the
// caller does not need to also pass n.
func DecompressInt(ptr []byte) (v int64, n int) {
	return binary.Varint(ptr)
}

// CompressInt2 is the head-anchored variant of CompressInt: it writes the
// encoding starting at out[0], for callers that advance a read cursor
// rather than anchoring to a fixed-size tail buffer. Same algorithm,
// same bound on encoded length.
func CompressInt2(v int64, out []byte) int {
	return binary.PutVarint(out, v)
}

// DecompressInt2 decodes a value encoded by CompressInt2, starting at
// ptr[0].
func DecompressInt2(ptr []byte) (v int64, n int) {
	return binary.Varint(ptr)
}
