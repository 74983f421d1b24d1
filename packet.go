package dc

import (
	"encoding/binary"
	"fmt"
)

// PacketKind is the packet_type_mask bitmask from spec.md §3.
type PacketKind uint8

const (
	// StandardCall is an ordinary RPC; counts toward per-peer call
	// accounting and bytes_sent.
	StandardCall PacketKind = 1 << 0
	// FastCall is routed for low-latency handling; counts the same as
	// StandardCall.
	FastCall PacketKind = 1 << 1
	// ControlPacket is internal framing/liveness traffic. It does NOT
	// increment call accounting and does NOT count toward bytes_sent,
	// but its bytes DO count toward network_bytes_sent/received
	// (spec.md §9 open question (a), preserved).
	ControlPacket PacketKind = 1 << 2

	// reservedMask covers the bits spec.md §3 calls "additional reserved
	// bits ... carried opaquely". Receivers must pass them through
	// unchanged, never reject on them.
	reservedMask PacketKind = 0xF8
)

// IsCall reports whether kind is a call packet (StandardCall or FastCall)
// for the purposes of call accounting, per spec.md §4.2 step 2.
func (k PacketKind) IsCall() bool {
	return k&(StandardCall|FastCall) != 0
}

// IsControl reports whether kind carries the ControlPacket bit.
func (k PacketKind) IsControl() bool {
	return k&ControlPacket != 0
}

// Header is the fixed-layout record preceding every payload on the wire
// (spec.md §3). Field order and sizes are fixed; fields are encoded in
// headerByteOrder (little-endian) regardless of the host's native byte
// order — see spec.md §9 open question (c).
type Header struct {
	Len                  uint32
	Src                  ProcID
	SequentializationKey uint64
	PacketTypeMask       PacketKind
	_                    [7]byte // reserved padding, fixes HeaderSize at 24 bytes
}

// HeaderSize is sizeof(packet_hdr) in spec.md's terms.
const HeaderSize = 24

// headerByteOrder is the encoding used for Header fields. The spec assumes
// native endianness across a homogeneous cluster; this implementation picks
// one fixed order (little-endian, the overwhelmingly common native order for
// the deployment targets this module builds for) rather than calling
// binary.NativeEndian, so the encoded bytes are stable and testable without
// depending on the build host's architecture.
var headerByteOrder = binary.LittleEndian

// EncodeHeader writes h to out, which must be at least HeaderSize bytes.
func EncodeHeader(out []byte, h Header) {
	if len(out) < HeaderSize {
		panic("dc: EncodeHeader: out too small")
	}
	headerByteOrder.PutUint32(out[0:4], h.Len)
	headerByteOrder.PutUint32(out[4:8], uint32(h.Src))
	headerByteOrder.PutUint64(out[8:16], h.SequentializationKey)
	out[16] = byte(h.PacketTypeMask)
	for i := 17; i < HeaderSize; i++ {
		out[i] = 0
	}
}

// DecodeHeader reads a Header from buf, which must be at least HeaderSize
// bytes.
func DecodeHeader(buf []byte) Header {
	if len(buf) < HeaderSize {
		panic("dc: DecodeHeader: buf too small")
	}
	return Header{
		Len:                  headerByteOrder.Uint32(buf[0:4]),
		Src:                  ProcID(headerByteOrder.Uint32(buf[4:8])),
		SequentializationKey: headerByteOrder.Uint64(buf[8:16]),
		PacketTypeMask:       PacketKind(buf[16]),
	}
}

// maxSanePayload is the "configurable sanity limit" from spec.md §4.3
// that a decoded header.Len must not exceed, or the framing is treated as
// a ProtocolError. 256 MiB comfortably covers every legitimate payload
// this transport is expected to carry while still catching a garbled
// length field before it causes an enormous allocation.
const maxSanePayload = 256 << 20

func validatePayloadLen(n uint32) error {
	if n > maxSanePayload {
		return fmt.Errorf("dc: payload length %d exceeds sanity limit %d: %w", n, maxSanePayload, ErrProtocolError)
	}
	return nil
}
