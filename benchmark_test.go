package indexedfastq

import (
	"context"
	"testing"

	"github.com/tamirms/indexedfastq/internal/fastq"
)

func benchmarkBuildN(b *testing.B, n int) {
	rng := newTestRNG(b)
	recs := generateRecords(rng, n, 100)
	src := writeSource(b, b.TempDir(), recs, sourceOptions{})
	indexPath := src + ".fqi"
	logger, _ := quietLogger()
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()
	for range b.N {
		if err := Build(ctx, src, indexPath, WithLogger(logger)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBuild1K(b *testing.B)   { benchmarkBuildN(b, 1000) }
func BenchmarkBuild10K(b *testing.B)  { benchmarkBuildN(b, 10000) }
func BenchmarkBuild100K(b *testing.B) { benchmarkBuildN(b, 100000) }

func benchmarkFetchN(b *testing.B, n int) {
	rng := newTestRNG(b)
	recs := generateRecords(rng, n, 100)
	idx := buildAndOpen(b, recs, sourceOptions{})
	names := make([]string, len(recs))
	for i, r := range recs {
		names[i] = r.name(NameFullLine)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := range b.N {
		if _, ok, err := idx.Fetch(names[i%len(names)]); err != nil || !ok {
			b.Fatalf("Fetch = %v, %v", ok, err)
		}
	}
}

func BenchmarkFetch1K(b *testing.B)   { benchmarkFetchN(b, 1000) }
func BenchmarkFetch10K(b *testing.B)  { benchmarkFetchN(b, 10000) }
func BenchmarkFetch100K(b *testing.B) { benchmarkFetchN(b, 100000) }

func BenchmarkFetchMiss(b *testing.B) {
	rng := newTestRNG(b)
	idx := buildAndOpen(b, generateRecords(rng, 10000, 100), sourceOptions{})

	b.ResetTimer()
	b.ReportAllocs()
	for range b.N {
		if _, ok, err := idx.Fetch("not-a-read"); err != nil || ok {
			b.Fatalf("Fetch = %v, %v", ok, err)
		}
	}
}

func BenchmarkFetchConcurrent(b *testing.B) {
	rng := newTestRNG(b)
	recs := generateRecords(rng, 10000, 100)
	idx := buildAndOpen(b, recs, sourceOptions{})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, ok, err := idx.Fetch(recs[i%len(recs)].Header); err != nil || !ok {
				b.Errorf("Fetch = %v, %v", ok, err)
				return
			}
			i++
		}
	})
}

func BenchmarkFetchParallel(b *testing.B) {
	rng := newTestRNG(b)
	recs := generateRecords(rng, 10000, 100)
	idx := buildAndOpen(b, recs, sourceOptions{})
	names := make([]string, 1000)
	for i := range names {
		names[i] = recs[rng.IntN(len(recs))].Header
	}
	ctx := context.Background()

	b.ResetTimer()
	for range b.N {
		got, err := idx.FetchParallel(ctx, names, 8)
		if err != nil || len(got) != len(names) {
			b.Fatalf("FetchParallel = %d records, %v", len(got), err)
		}
	}
}

func BenchmarkHeaderEncode(b *testing.B) {
	hdr := &header{
		Magic:      magic,
		Version:    version,
		NumRecords: 1000000,
		SourceSize: 1 << 30,
	}
	buf := make([]byte, headerSize)

	b.ResetTimer()
	for range b.N {
		hdr.encodeTo(buf)
	}
}

func BenchmarkPreHash(b *testing.B) {
	for _, h := range []Hasher{HasherXXH3, HasherMurmur3} {
		b.Run(h.String(), func(b *testing.B) {
			name := "SRR0000001.12345 12345/1 length=150"
			b.ReportAllocs()
			for range b.N {
				prehash(h, 0x1234, name)
			}
		})
	}
}

func BenchmarkScanRecords(b *testing.B) {
	rng := newTestRNG(b)
	recs := generateRecords(rng, 10000, 100)
	data := renderSource(recs, sourceOptions{})

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for range b.N {
		rest := data
		for len(rest) > 0 {
			_, n, err := fastq.Parse(rest)
			if err != nil {
				b.Fatal(err)
			}
			rest = rest[n:]
		}
	}
}
