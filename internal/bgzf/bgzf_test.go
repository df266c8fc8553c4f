package bgzf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/fnv"
	"io"
	"math/rand/v2"
	"testing"

	"github.com/klauspost/compress/flate"
	ifqerrors "github.com/tamirms/indexedfastq/errors"
)

func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	return rand.New(rand.NewPCG(binary.LittleEndian.Uint64(sum[:8]), binary.LittleEndian.Uint64(sum[8:])))
}

func compress(t *testing.T, data []byte, blockSize int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := newWriterSize(&buf, flate.DefaultCompression, blockSize)
	if err != nil {
		t.Fatalf("newWriterSize: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

func randomText(rng *rand.Rand, n int) []byte {
	const alphabet = "ACGT\n"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rng.IntN(len(alphabet))]
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	rng := newTestRNG(t)
	incompressible := make([]byte, 3*DefaultBlockDataSize+17)
	for i := range incompressible {
		incompressible[i] = byte(rng.Uint32())
	}

	tests := []struct {
		name      string
		data      []byte
		blockSize int
	}{
		{"empty", nil, DefaultBlockDataSize},
		{"small", []byte("@r1\nACGT\n+\nIIII\n"), DefaultBlockDataSize},
		{"tiny blocks", randomText(rng, 5000), 7},
		{"multi block", randomText(rng, 200_000), DefaultBlockDataSize},
		{"incompressible", incompressible, DefaultBlockDataSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := compress(t, tt.data, tt.blockSize)
			if !bytes.HasSuffix(file, eofMarker) {
				t.Fatal("stream does not end with EOF marker")
			}
			r := NewReader(bytes.NewReader(file))
			defer r.Close()
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if !bytes.Equal(got, tt.data) {
				t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(tt.data))
			}
		})
	}
}

// TestTellSeek records Tell before every line and checks that seeking back
// to each offset reproduces the line, including lines that cross blocks.
func TestTellSeek(t *testing.T) {
	rng := newTestRNG(t)
	data := randomText(rng, 20_000)
	file := compress(t, data, 100)
	ra := bytes.NewReader(file)

	type mark struct {
		vo   VirtualOffset
		line []byte
	}
	var marks []mark

	r := NewReader(ra)
	for {
		vo := r.Tell()
		if vo.Within() >= 100 {
			t.Fatalf("Tell not normalized: %s", vo)
		}
		line, err := r.ReadLine(nil)
		if len(line) > 0 {
			marks = append(marks, mark{vo, line})
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadLine: %v", err)
		}
	}
	r.Close()

	var joined []byte
	for _, m := range marks {
		joined = append(joined, m.line...)
	}
	if !bytes.Equal(joined, data) {
		t.Fatal("lines do not reassemble the stream")
	}

	for i, m := range marks {
		got, err := ReadAt(ra, m.vo, len(m.line), nil)
		if err != nil {
			t.Fatalf("line %d: ReadAt(%s): %v", i, m.vo, err)
		}
		if !bytes.Equal(got, m.line) {
			t.Fatalf("line %d: got %q, want %q", i, got, m.line)
		}
	}
}

func TestWriterTell(t *testing.T) {
	var buf bytes.Buffer
	w, err := newWriterSize(&buf, flate.BestSpeed, 10)
	if err != nil {
		t.Fatal(err)
	}
	var offsets []VirtualOffset
	for i := 0; i < 5; i++ {
		offsets = append(offsets, w.Tell())
		if _, err := w.Write([]byte("abcdef")); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	ra := bytes.NewReader(buf.Bytes())
	for i, vo := range offsets {
		got, err := ReadAt(ra, vo, 6, nil)
		if err != nil {
			t.Fatalf("write %d: ReadAt(%s): %v", i, vo, err)
		}
		if string(got) != "abcdef" {
			t.Fatalf("write %d: got %q", i, got)
		}
	}
}

func TestCorruption(t *testing.T) {
	rng := newTestRNG(t)
	data := randomText(rng, 4000)
	file := compress(t, data, DefaultBlockDataSize)

	t.Run("crc", func(t *testing.T) {
		bad := bytes.Clone(file)
		size, err := parseHeader(bad)
		if err != nil {
			t.Fatal(err)
		}
		bad[size-8] ^= 0xff
		r := NewReader(bytes.NewReader(bad))
		defer r.Close()
		if _, err := io.ReadAll(r); !errors.Is(err, ifqerrors.ErrInvalidBGZF) {
			t.Fatalf("got %v, want ErrInvalidBGZF", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		bad := file[:len(file)/2]
		r := NewReader(bytes.NewReader(bad))
		defer r.Close()
		if _, err := io.ReadAll(r); !errors.Is(err, ifqerrors.ErrInvalidBGZF) {
			t.Fatalf("got %v, want ErrInvalidBGZF", err)
		}
	})

	t.Run("seek past block", func(t *testing.T) {
		r := NewReader(bytes.NewReader(file))
		defer r.Close()
		if err := r.Seek(NewVirtualOffset(0, 60000)); !errors.Is(err, ifqerrors.ErrInvalidBGZF) {
			t.Fatalf("got %v, want ErrInvalidBGZF", err)
		}
	})
}

func TestIsBGZF(t *testing.T) {
	file := compress(t, []byte("hello\n"), DefaultBlockDataSize)

	var gz bytes.Buffer
	fw, _ := flate.NewWriter(&gz, flate.DefaultCompression)
	fw.Write([]byte("hello\n"))
	fw.Close()
	// Plain gzip member without FEXTRA.
	plain := append([]byte{0x1f, 0x8b, 0x08, 0x00, 0, 0, 0, 0, 0, 0xff}, gz.Bytes()...)
	plain = append(plain, make([]byte, 8)...)

	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"bgzf", file, true},
		{"eof marker only", eofMarker, true},
		{"plain gzip", plain, false},
		{"text", []byte("@read\nACGT\n+\nIIII\n"), false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IsBGZF(bytes.NewReader(tt.data))
			if err != nil {
				t.Fatalf("IsBGZF: %v", err)
			}
			if got != tt.want {
				t.Fatalf("IsBGZF = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompress(t *testing.T) {
	rng := newTestRNG(t)
	data := randomText(rng, 150_000)
	var out bytes.Buffer
	if err := Compress(&out, bytes.NewReader(data), flate.BestSpeed); err != nil {
		t.Fatalf("Compress: %v", err)
	}
	r := NewReader(bytes.NewReader(out.Bytes()))
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("Compress round trip mismatch")
	}
}

func TestVirtualOffset(t *testing.T) {
	vo := NewVirtualOffset(123456789, 4321)
	if vo.BlockStart() != 123456789 || vo.Within() != 4321 {
		t.Fatalf("got %s", vo)
	}
	if vo.String() != "123456789:4321" {
		t.Fatalf("String = %q", vo.String())
	}
}
