package dc

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{Len: 0, Src: 0, SequentializationKey: 0, PacketTypeMask: StandardCall},
		{Len: 1024, Src: 7, SequentializationKey: 1 << 40, PacketTypeMask: FastCall},
		{Len: 1 << 20, Src: 255, SequentializationKey: ^uint64(0), PacketTypeMask: ControlPacket},
		{Len: 42, Src: 3, SequentializationKey: 9, PacketTypeMask: StandardCall | reservedMask},
	}
	for _, h := range cases {
		buf := make([]byte, HeaderSize)
		EncodeHeader(buf, h)
		got := DecodeHeader(buf)
		if got != h {
			t.Fatalf("round trip: got %+v, want %+v", got, h)
		}
	}
}

func TestHeaderSize(t *testing.T) {
	var h Header
	buf := make([]byte, HeaderSize)
	EncodeHeader(buf, h)
	if len(buf) != HeaderSize || HeaderSize != 24 {
		t.Fatalf("HeaderSize: got %d, want 24", HeaderSize)
	}
}

func TestPacketKindClassification(t *testing.T) {
	tests := []struct {
		kind      PacketKind
		wantCall  bool
		wantCtrl  bool
	}{
		{StandardCall, true, false},
		{FastCall, true, false},
		{ControlPacket, false, true},
		{StandardCall | ControlPacket, true, true},
		{0, false, false},
	}
	for _, tt := range tests {
		if got := tt.kind.IsCall(); got != tt.wantCall {
			t.Errorf("IsCall(%v): got %v, want %v", tt.kind, got, tt.wantCall)
		}
		if got := tt.kind.IsControl(); got != tt.wantCtrl {
			t.Errorf("IsControl(%v): got %v, want %v", tt.kind, got, tt.wantCtrl)
		}
	}
}

func TestValidatePayloadLen(t *testing.T) {
	if err := validatePayloadLen(1024); err != nil {
		t.Fatalf("validatePayloadLen(1024): unexpected error %v", err)
	}
	if err := validatePayloadLen(maxSanePayload + 1); err == nil {
		t.Fatal("validatePayloadLen(over limit): expected error, got nil")
	}
}

func TestEncodeHeaderReservedBytesZero(t *testing.T) {
	buf := bytes.Repeat([]byte{0xFF}, HeaderSize)
	EncodeHeader(buf, Header{Len: 1, Src: 1, SequentializationKey: 1, PacketTypeMask: StandardCall})
	for i := 17; i < HeaderSize; i++ {
		if buf[i] != 0 {
			t.Fatalf("reserved byte %d: got %#x, want 0", i, buf[i])
		}
	}
}
