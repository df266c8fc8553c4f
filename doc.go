// Package indexedfastq provides random access to individual records of a
// BGZF-compressed FASTQ file by record name.
//
// An index is built once per source file. Building scans the source a
// single time, records where every record starts in the compressed stream,
// and stores a minimal perfect hash function over the record names next to
// a slot-ordered array of those locations. A lookup hashes the name, seeks
// to the stored location, inflates one or two BGZF blocks and re-parses the
// record. The parsed name is always compared with the query, so names that
// were never in the file are reported as not found.
//
// # Basic Usage
//
// Building an index:
//
//	err := indexedfastq.Build(ctx, "reads.fastq.gz", "reads.fastq.gz.fqi")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Querying an index:
//
//	idx, err := indexedfastq.Open("reads.fastq.gz", "reads.fastq.gz.fqi")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer idx.Close()
//
//	rec, ok, err := idx.Fetch("read1")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if ok {
//	    fmt.Print(rec)
//	}
//
// # Package Structure
//
//   - Public API: builder.go (Build), index.go (Open, Fetch, FetchMany, FetchParallel)
//   - Configuration: builder_options.go (BuildOption, OpenOption)
//   - Serialization: header.go (header, footer), index_writer.go
//   - Name hashing: prehash.go (Hasher)
//   - Metrics: metrics.go
//   - Components: internal/bgzf, internal/fastq, internal/mphf, internal/encoding, internal/bits
//   - Platform: fadvise_*.go, fallocate_*.go, prefault_*.go
//   - Commands: cmd/indexfastq (CLI and HTTP server, using internal/config and
//     internal/serve), cmd/bench
package indexedfastq
