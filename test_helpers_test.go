package indexedfastq

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/tamirms/indexedfastq/internal/bgzf"
)

const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210
)

// newTestRNG returns an RNG seeded from the test name, so every test and
// subtest draws its own reproducible sequence.
func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return rand.New(rand.NewPCG(testSeed1^s1, testSeed2^s2))
}

// testRecord is a record as written to a test source.
type testRecord struct {
	Header   string
	Sequence string
	Quality  string
}

// name returns the record's name under mode.
func (r testRecord) name(mode NameMode) string {
	return mode.Extract(r.Header)
}

func randomSequence(rng *rand.Rand, n int) string {
	const bases = "ACGTN"
	b := make([]byte, n)
	for i := range b {
		b[i] = bases[rng.IntN(len(bases))]
	}
	return string(b)
}

func randomQuality(rng *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('!' + rng.IntN(42))
	}
	return string(b)
}

// generateRecords creates n records with unique names and a comment field,
// with sequence lengths between 1 and maxLen.
func generateRecords(rng *rand.Rand, n, maxLen int) []testRecord {
	recs := make([]testRecord, n)
	for i := range recs {
		l := 1 + rng.IntN(maxLen)
		recs[i] = testRecord{
			Header:   fmt.Sprintf("SRR%07d.%d %d/1 length=%d", rng.IntN(1e7), i, rng.Uint32(), l),
			Sequence: randomSequence(rng, l),
			Quality:  randomQuality(rng, l),
		}
	}
	return recs
}

// sourceOptions controls how writeSource lays out a test source.
type sourceOptions struct {
	// chunk > 0 flushes a BGZF block every chunk bytes, so records straddle
	// block boundaries.
	chunk int
	crlf  bool
	// blankLines inserts an empty line before every other record.
	blankLines bool
	// noFinalNewline drops the terminator of the last quality line.
	noFinalNewline bool
}

func renderSource(recs []testRecord, opts sourceOptions) []byte {
	eol := "\n"
	if opts.crlf {
		eol = "\r\n"
	}
	var buf bytes.Buffer
	for i, r := range recs {
		if opts.blankLines && i%2 == 1 {
			buf.WriteString(eol)
		}
		fmt.Fprintf(&buf, "@%s%s%s%s+%s%s%s", r.Header, eol, r.Sequence, eol, eol, r.Quality, eol)
	}
	out := buf.Bytes()
	if opts.noFinalNewline && len(recs) > 0 {
		out = bytes.TrimSuffix(out, []byte(eol))
	}
	return out
}

// writeSource writes recs as a BGZF FASTQ file in dir and returns its path.
func writeSource(t testing.TB, dir string, recs []testRecord, opts sourceOptions) string {
	t.Helper()
	path := filepath.Join(dir, "reads.fastq.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := bgzf.NewWriter(f)
	data := renderSource(recs, opts)
	if opts.chunk <= 0 {
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	} else {
		for len(data) > 0 {
			n := min(opts.chunk, len(data))
			if _, err := w.Write(data[:n]); err != nil {
				t.Fatal(err)
			}
			if err := w.Flush(); err != nil {
				t.Fatal(err)
			}
			data = data[n:]
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

// quietLogger discards log output and records entries for inspection.
func quietLogger() (*logrus.Logger, *test.Hook) {
	return test.NewNullLogger()
}

// buildIndex writes recs to a source, builds an index over it and returns
// both paths.
func buildIndex(t testing.TB, recs []testRecord, srcOpts sourceOptions, opts ...BuildOption) (string, string) {
	t.Helper()
	dir := t.TempDir()
	src := writeSource(t, dir, recs, srcOpts)
	idxPath := src + ".fqi"
	logger, _ := quietLogger()
	opts = append([]BuildOption{WithLogger(logger)}, opts...)
	if err := Build(context.Background(), src, idxPath, opts...); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return src, idxPath
}

// buildAndOpen is buildIndex followed by Open. The index is closed when the
// test ends.
func buildAndOpen(t testing.TB, recs []testRecord, srcOpts sourceOptions, opts ...BuildOption) *Index {
	t.Helper()
	src, idxPath := buildIndex(t, recs, srcOpts, opts...)
	logger, _ := quietLogger()
	idx, err := Open(src, idxPath, WithOpenLogger(logger))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

// checkAllRecords fetches every record and compares it with what was
// written.
func checkAllRecords(t testing.TB, idx *Index, recs []testRecord, mode NameMode) {
	t.Helper()
	for _, r := range recs {
		name := r.name(mode)
		got, ok, err := idx.Fetch(name)
		if err != nil {
			t.Fatalf("Fetch(%q): %v", name, err)
		}
		if !ok {
			t.Fatalf("Fetch(%q): not found", name)
		}
		want := Record{Name: name, Sequence: r.Sequence, Quality: r.Quality}
		if got != want {
			t.Fatalf("Fetch(%q) = %+v, want %+v", name, got, want)
		}
	}
}
