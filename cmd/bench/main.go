// Bench measures index build time, query latency and memory use over a
// synthetic BGZF-compressed FASTQ file.
//
// Usage:
//
//	go run ./cmd/bench -records 1000000 -hasher xxh3
//
// Flags:
//
//	-records   Number of FASTQ records to generate (default: 1,000,000)
//	-length    Sequence length of each record (default: 150)
//	-workers   Number of goroutines solving hash partitions (default: 1)
//	-hasher    Name hash: xxh3 or murmur3 (default: xxh3)
//	-queries   Number of timed lookups (default: 100,000)
//	-parallel  Workers for the FetchParallel pass, 0 to skip (default: 8)
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	mrand "math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"runtime/metrics"
	"runtime/pprof"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tamirms/indexedfastq"
	"github.com/tamirms/indexedfastq/internal/bgzf"
)

const bases = "ACGT"

// getMaxRSS returns the maximum resident set size in bytes.
func getMaxRSS() uint64 {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}
	// KB on Linux, bytes on macOS.
	maxRSS := uint64(rusage.Maxrss)
	if runtime.GOOS == "linux" {
		maxRSS *= 1024
	}
	return maxRSS
}

func recordName(i int) string {
	return fmt.Sprintf("SRR%07d.%d", i/1000, i)
}

// writeSource writes n records to a BGZF file at path and returns the time
// spent generating and compressing them.
func writeSource(path string, n, length int, rng *mrand.Rand) (time.Duration, error) {
	start := time.Now()
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	bw, err := bgzf.NewWriterLevel(f, 1)
	if err != nil {
		f.Close()
		return 0, err
	}
	w := bufio.NewWriterSize(bw, 1<<20)

	seq := make([]byte, length)
	qual := make([]byte, length)
	for i := 0; i < n; i++ {
		for j := range seq {
			seq[j] = bases[rng.IntN(4)]
			qual[j] = byte('!' + rng.IntN(41))
		}
		fmt.Fprintf(w, "@%s length=%d\n%s\n+\n%s\n", recordName(i), length, seq, qual)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return 0, err
	}
	if err := bw.Close(); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// peakSampler polls heap and RSS every 10ms until stopped.
type peakSampler struct {
	alloc atomic.Uint64
	rss   atomic.Uint64
	done  chan struct{}
}

func startSampler(baseAlloc, baseRSS uint64) *peakSampler {
	s := &peakSampler{done: make(chan struct{})}
	s.alloc.Store(baseAlloc)
	s.rss.Store(baseRSS)
	go func() {
		// runtime/metrics avoids the stop-the-world of ReadMemStats.
		samples := []metrics.Sample{{Name: "/memory/classes/heap/objects:bytes"}}
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				metrics.Read(samples)
				storeMax(&s.alloc, samples[0].Value.Uint64())
				storeMax(&s.rss, getMaxRSS())
			}
		}
	}()
	return s
}

func (s *peakSampler) stop() {
	close(s.done)
	var final runtime.MemStats
	runtime.ReadMemStats(&final)
	storeMax(&s.alloc, final.Alloc)
	storeMax(&s.rss, getMaxRSS())
}

func storeMax(v *atomic.Uint64, x uint64) {
	for {
		old := v.Load()
		if x <= old || v.CompareAndSwap(old, x) {
			return
		}
	}
}

func main() {
	recordsFlag := flag.Int("records", 1_000_000, "number of records")
	lengthFlag := flag.Int("length", 150, "sequence length")
	workersFlag := flag.Int("workers", 1, "number of parallel workers for building")
	hasherFlag := flag.String("hasher", "xxh3", "name hash: xxh3 or murmur3")
	queriesFlag := flag.Int("queries", 100_000, "number of timed lookups")
	parallelFlag := flag.Int("parallel", 8, "workers for the FetchParallel pass (0 to skip)")
	cpuprofile := flag.String("cpuprofile", "", "write cpu profile to file (build phase only)")
	memprofile := flag.String("memprofile", "", "write memory profile to file (build phase only)")
	flag.Parse()

	numRecords := *recordsFlag
	if numRecords <= 0 {
		fmt.Println("-records must be positive")
		os.Exit(1)
	}
	hasher, err := indexedfastq.ParseHasher(*hasherFlag)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	tmpDir, err := os.MkdirTemp("", "bench-")
	if err != nil {
		fmt.Printf("Failed to create temp dir: %v\n", err)
		return
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	sourcePath := filepath.Join(tmpDir, "reads.fastq.gz")
	indexPath := sourcePath + ".fqi"

	rng := mrand.New(mrand.NewPCG(0x5eed, 0xfa57))

	fmt.Println("Generating source...")
	genDuration, err := writeSource(sourcePath, numRecords, *lengthFlag, rng)
	if err != nil {
		fmt.Printf("Writing source failed: %v\n", err)
		return
	}

	runtime.GC()
	time.Sleep(50 * time.Millisecond)
	var baseline runtime.MemStats
	runtime.ReadMemStats(&baseline)
	baselineRSS := getMaxRSS()
	sampler := startSampler(baseline.Alloc, baselineRSS)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Printf("could not create CPU profile: %v\n", err)
			return
		}
		defer func() { _ = f.Close() }()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Printf("could not start CPU profile: %v\n", err)
			return
		}
	}

	fmt.Println("Building index...")
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	buildStart := time.Now()
	err = indexedfastq.Build(context.Background(), sourcePath, indexPath,
		indexedfastq.WithWorkers(*workersFlag),
		indexedfastq.WithHasher(hasher),
		indexedfastq.WithNameMode(indexedfastq.NameFirstField),
		indexedfastq.WithLogger(logger),
	)
	buildDuration := time.Since(buildStart)

	if *cpuprofile != "" {
		pprof.StopCPUProfile()
	}
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Printf("could not create memory profile: %v\n", err)
		} else {
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Printf("could not write memory profile: %v\n", err)
			}
			_ = f.Close()
		}
	}
	sampler.stop()

	if err != nil {
		fmt.Printf("Build failed: %v\n", err)
		return
	}

	idx, err := indexedfastq.Open(sourcePath, indexPath)
	if err != nil {
		fmt.Printf("Open failed: %v\n", err)
		return
	}
	defer func() { _ = idx.Close() }()
	st := idx.Stats()

	numQueries := *queriesFlag
	names := make([]string, numQueries)
	for i := range names {
		names[i] = recordName(rng.IntN(numRecords))
	}

	fmt.Println("Warming up queries...")
	for i := 0; i < 10000 && i < numQueries; i++ {
		_, _, _ = idx.Fetch(names[i])
	}

	fmt.Println("Benchmarking queries...")
	queryStart := time.Now()
	for _, name := range names {
		if _, ok, err := idx.Fetch(name); err != nil || !ok {
			fmt.Printf("Fetch(%s) = %v, %v\n", name, ok, err)
			return
		}
	}
	queryDuration := time.Since(queryStart)
	avgLatency := float64(queryDuration.Nanoseconds()) / float64(numQueries) / 1000

	var parallelDuration time.Duration
	if *parallelFlag > 0 {
		fmt.Println("Benchmarking parallel queries...")
		start := time.Now()
		recs, err := idx.FetchParallel(context.Background(), names, *parallelFlag)
		if err != nil || len(recs) != len(names) {
			fmt.Printf("FetchParallel returned %d records, %v\n", len(recs), err)
			return
		}
		parallelDuration = time.Since(start)
	}

	peakHeapMem := sampler.alloc.Load() - baseline.Alloc
	peakRSSMem := sampler.rss.Load() - baselineRSS

	fmt.Printf("\n")
	fmt.Printf("╔═════════════════════╦════════════════╗\n")
	fmt.Printf("║ Hasher: %-12s║ Workers: %-5d ║\n", hasher, *workersFlag)
	fmt.Printf("╠═════════════════════╬════════════════╣\n")
	fmt.Printf("║ Records             ║ %14d ║\n", st.NumRecords)
	fmt.Printf("║ Source size         ║ %9.1f MB   ║\n", float64(st.SourceSize)/1_000_000)
	fmt.Printf("║ Index size          ║ %9.1f MB   ║\n", float64(st.IndexSize)/1_000_000)
	fmt.Printf("║ Bits per record     ║ %6.3f bits   ║\n", float64(st.IndexSize*8)/float64(st.NumRecords))
	fmt.Printf("║   - Hash function   ║ %6.3f bits   ║\n", st.BitsPerRecord)
	fmt.Printf("║ Generate time       ║ %6.2f sec     ║\n", genDuration.Seconds())
	fmt.Printf("║ Build time          ║ %6.2f sec     ║\n", buildDuration.Seconds())
	fmt.Printf("║ Build throughput    ║ %6.2f M/sec   ║\n", float64(numRecords)/buildDuration.Seconds()/1_000_000)
	fmt.Printf("║ Fetch latency       ║ %6.2f μs      ║\n", avgLatency)
	if parallelDuration > 0 {
		fmt.Printf("║ Parallel throughput ║ %6.2f K/sec   ║\n", float64(numQueries)/parallelDuration.Seconds()/1000)
	}
	fmt.Printf("║ Peak heap memory    ║ %6.1f MB      ║\n", float64(peakHeapMem)/1_000_000)
	fmt.Printf("║ Peak RSS memory     ║ %6.1f MB      ║\n", float64(peakRSSMem)/1_000_000)
	fmt.Printf("╚═════════════════════╩════════════════╝\n")
}
