package bgzf

import (
	"bytes"
	"errors"
	"io"
	"testing"

	htsbgzf "github.com/biogo/hts/bgzf"
	"github.com/klauspost/compress/flate"
)

// Streams written here must be readable by htslib-compatible readers and
// the other way round, and virtual offsets must mean the same thing to both.

func TestWriterOutputReadByHTS(t *testing.T) {
	rng := newTestRNG(t)
	for _, blockSize := range []int{7, 100, DefaultBlockDataSize} {
		data := randomText(rng, 50_000)
		file := compress(t, data, blockSize)

		ok, err := htsbgzf.HasEOF(bytes.NewReader(file))
		if err != nil || !ok {
			t.Fatalf("block size %d: HasEOF = %v, %v", blockSize, ok, err)
		}

		r, err := htsbgzf.NewReader(bytes.NewReader(file), 1)
		if err != nil {
			t.Fatalf("block size %d: NewReader: %v", blockSize, err)
		}
		got, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			t.Fatalf("block size %d: ReadAll: %v", blockSize, err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("block size %d: got %d bytes, want %d", blockSize, len(got), len(data))
		}
	}
}

// TestOffsetsMatchHTS seeks an hts reader to the offsets our Reader reports
// for every line and checks both read the same bytes.
func TestOffsetsMatchHTS(t *testing.T) {
	rng := newTestRNG(t)
	data := randomText(rng, 20_000)
	file := compress(t, data, 100)

	type mark struct {
		vo   VirtualOffset
		line []byte
	}
	var marks []mark
	r := NewReader(bytes.NewReader(file))
	for {
		vo := r.Tell()
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

	hr, err := htsbgzf.NewReader(bytes.NewReader(file), 1)
	if err != nil {
		t.Fatal(err)
	}
	defer hr.Close()
	for i, m := range marks {
		off := htsbgzf.Offset{File: m.vo.BlockStart(), Block: uint16(m.vo.Within())}
		if err := hr.Seek(off); err != nil {
			t.Fatalf("line %d: Seek(%s): %v", i, m.vo, err)
		}
		got := make([]byte, len(m.line))
		if _, err := io.ReadFull(hr, got); err != nil {
			t.Fatalf("line %d: ReadFull: %v", i, err)
		}
		if !bytes.Equal(got, m.line) {
			t.Fatalf("line %d at %s: hts read %q, want %q", i, m.vo, got, m.line)
		}
	}
}

func TestReadHTSOutput(t *testing.T) {
	rng := newTestRNG(t)
	data := randomText(rng, 200_000)

	var buf bytes.Buffer
	w, err := htsbgzf.NewWriterLevel(&buf, flate.BestSpeed, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	file := buf.Bytes()
	ra := bytes.NewReader(file)

	ok, err := IsBGZF(ra)
	if err != nil || !ok {
		t.Fatalf("IsBGZF = %v, %v", ok, err)
	}

	r := NewReader(ra)
	got, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got %d bytes, want %d", len(got), len(data))
	}

	chunk, err := ReadAt(ra, 0, 1000, nil)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(chunk, data[:1000]) {
		t.Fatal("ReadAt at the first offset does not match")
	}
}

// BenchmarkSingleRecordRead compares ReadAt with what an hts reader needs
// for the same lookup on a shared file: a private section reader, a new
// Reader, Seek and ReadFull.
func BenchmarkSingleRecordRead(b *testing.B) {
	const recordLen = 320
	rng := newTestRNG(b)

	var buf bytes.Buffer
	w := NewWriter(&buf)
	var offsets []VirtualOffset
	for i := 0; i < 10_000; i++ {
		offsets = append(offsets, w.Tell())
		if _, err := w.Write(randomText(rng, recordLen)); err != nil {
			b.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		b.Fatal(err)
	}
	file := buf.Bytes()
	ra := bytes.NewReader(file)

	b.Run("ReadAt", func(b *testing.B) {
		dst := make([]byte, recordLen)
		b.ReportAllocs()
		for i := range b.N {
			var err error
			if dst, err = ReadAt(ra, offsets[i%len(offsets)], recordLen, dst); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("hts", func(b *testing.B) {
		dst := make([]byte, recordLen)
		b.ReportAllocs()
		for i := range b.N {
			vo := offsets[i%len(offsets)]
			hr, err := htsbgzf.NewReader(io.NewSectionReader(ra, 0, int64(len(file))), 1)
			if err != nil {
				b.Fatal(err)
			}
			if err := hr.Seek(htsbgzf.Offset{File: vo.BlockStart(), Block: uint16(vo.Within())}); err != nil {
				b.Fatal(err)
			}
			if _, err := io.ReadFull(hr, dst); err != nil {
				b.Fatal(err)
			}
			hr.Close()
		}
	})
}
