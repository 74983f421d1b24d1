package dc

import "testing"

func TestVarintRoundTrip(t *testing.T) {
	values := []int64{
		0, 1, -1, 63, 64, -64, -65,
		1 << 20, -(1 << 20),
		1 << 40, -(1 << 40),
		9223372036854775807,  // max int64
		-9223372036854775808, // min int64
	}
	for _, v := range values {
		var out [10]byte
		n := CompressInt(v, &out)
		if n < 1 || n > MaxVarintLen {
			t.Fatalf("CompressInt(%d): n=%d out of [1,%d]", v, n, MaxVarintLen)
		}
		got, m := DecompressInt(out[10-n:])
		if got != v || m != n {
			t.Fatalf("DecompressInt(CompressInt(%d)): got (%d, %d), want (%d, %d)", v, got, m, v, n)
		}

		buf := make([]byte, MaxVarintLen)
		n2 := CompressInt2(v, buf)
		got2, m2 := DecompressInt2(buf)
		if got2 != v || m2 != n2 {
			t.Fatalf("DecompressInt2(CompressInt2(%d)): got (%d, %d), want (%d, %d)", v, got2, m2, v, n2)
		}
		if n2 != n {
			t.Fatalf("CompressInt and CompressInt2 disagree on length for %d: %d vs %d", v, n, n2)
		}
	}
}

func TestCompressIntTailAnchored(t *testing.T) {
	var out [10]byte
	for i := range out {
		out[i] = 0xAA
	}
	n := CompressInt(5, &out)
	for i := 0; i < 10-n; i++ {
		if out[i] != 0xAA {
			t.Fatalf("byte %d was overwritten outside the tail-anchored region", i)
		}
	}
}
