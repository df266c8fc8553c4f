package encoding

import (
	"bytes"
	"encoding/binary"
	"hash/fnv"
	"math/rand/v2"
	"testing"
	"unsafe"
)

const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210
)

func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return rand.New(rand.NewPCG(testSeed1^s1, testSeed2^s2))
}

// TestWriteLocationMatchesPut checks the unsafe writer against the portable
// encoding, slot by slot, with no bleed into neighbours.
func TestWriteLocationMatchesPut(t *testing.T) {
	rng := newTestRNG(t)
	const slots = 257
	fast := make([]byte, slots*LocationSize)
	slow := make([]byte, slots*LocationSize)

	type loc struct {
		off uint64
		n   uint32
	}
	want := make([]loc, slots)
	for _, slot := range rng.Perm(slots) {
		l := loc{rng.Uint64(), rng.Uint32()}
		want[slot] = l
		WriteLocation(unsafe.Pointer(&fast[0]), slot, l.off, l.n)
		putLocation(slow, slot, l.off, l.n)
	}
	if !bytes.Equal(fast, slow) {
		t.Fatal("WriteLocation and putLocation disagree")
	}
	for slot, l := range want {
		off, n := ReadLocation(fast, slot)
		if off != l.off || n != l.n {
			t.Fatalf("slot %d: got (%d, %d), want (%d, %d)", slot, off, n, l.off, l.n)
		}
	}
}

func TestLocationLayout(t *testing.T) {
	buf := make([]byte, 2*LocationSize)
	putLocation(buf, 1, 0x0102030405060708, 0x0a0b0c0d)
	want := []byte{
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01, 0x0d, 0x0c, 0x0b, 0x0a,
	}
	if !bytes.Equal(buf, want) {
		t.Fatalf("got % x", buf)
	}
}

// putLocation is the portable form of WriteLocation for byte slices.
func putLocation(buf []byte, slot int, offset uint64, length uint32) {
	e := buf[slot*LocationSize : (slot+1)*LocationSize]
	binary.LittleEndian.PutUint64(e[0:8], offset)
	binary.LittleEndian.PutUint32(e[8:12], length)
}
