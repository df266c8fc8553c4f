package indexedfastq

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	ifqerrors "github.com/tamirms/indexedfastq/errors"
	"github.com/tamirms/indexedfastq/internal/bgzf"
	"github.com/tamirms/indexedfastq/internal/encoding"
	"github.com/tamirms/indexedfastq/internal/fastq"
	"github.com/tamirms/indexedfastq/internal/mphf"
)

// minFileSize is the size of an index over zero records.
const minFileSize = headerSize + blobLenSize + footerSize

// slotter maps a name key to a slot in [0, n).
type slotter interface {
	Slot(k mphf.Key) uint64
}

// Index answers record lookups by name over a FASTQ source.
//
// Thread Safety:
//   - Fetch, FetchMany, FetchParallel and the other read methods are safe for
//     concurrent use
//   - Close is NOT safe to call concurrently with fetches
//   - After Close returns, fetches fail with ErrIndexClosed
type Index struct {
	// Memory map of the index file (no file handle needed after mmap)
	mmap mmap.MMap
	data []byte

	header    *header
	layout    layout
	blob      []byte
	locations []byte
	fn        slotter

	// src is read with ReadAt only, so fetches share it without locking.
	src *os.File

	bufs    sync.Pool // *[]byte decompression buffers
	logger  logrus.FieldLogger
	metrics *Metrics

	closed atomic.Bool // Atomic for lock-free close check
}

// Stats holds index statistics.
type Stats struct {
	NumRecords uint64
	Hasher     Hasher
	NameMode   NameMode
	// HashBytes is the size of the hash function blob.
	HashBytes int64
	// BitsPerRecord counts the hash function only, not the locations.
	BitsPerRecord float64
	IndexSize     int64
	SourceSize    int64
}

// Open opens the index at indexPath over the source at sourcePath.
// The index file is memory-mapped and its descriptor closed; the source
// stays open until Close.
func Open(sourcePath, indexPath string, opts ...OpenOption) (*Index, error) {
	cfg := defaultOpenConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	idx, err := openIndexFile(indexPath)
	if err != nil {
		return nil, err
	}
	idx.logger = cfg.logger
	idx.metrics = cfg.metrics

	src, err := os.Open(sourcePath)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open source: %w", err), idx.Close())
	}
	idx.src = src

	fi, err := src.Stat()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("stat source: %w", err), idx.Close())
	}
	if uint64(fi.Size()) != idx.header.SourceSize {
		primaryErr := fmt.Errorf("%w: %s is %d bytes, index was built over %d",
			ifqerrors.ErrSourceMismatch, sourcePath, fi.Size(), idx.header.SourceSize)
		return nil, errors.Join(primaryErr, idx.Close())
	}
	adviseRandom(src)

	idx.logger.WithFields(logrus.Fields{
		"index":   indexPath,
		"source":  sourcePath,
		"records": idx.header.NumRecords,
	}).Debug("index opened")
	return idx, nil
}

// openIndexFile maps and validates an index file without its source.
func openIndexFile(path string) (*Index, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat index file: %w", err)
	}
	if stat.Size() < minFileSize {
		return nil, ifqerrors.ErrTruncatedFile
	}

	mm, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap index file: %w", err)
	}

	idx := &Index{
		mmap:   mm,
		data:   []byte(mm),
		logger: logrus.StandardLogger(),
	}
	idx.bufs.New = func() any {
		b := make([]byte, 0, 1024)
		return &b
	}
	if err := idx.initFromData(); err != nil {
		return nil, errors.Join(err, idx.Close())
	}
	return idx, nil
}

// initFromData parses the header, checks the region layout against the file
// size and decodes the hash function. The footer is left to Verify.
func (idx *Index) initFromData() error {
	fileSize := uint64(len(idx.data))

	hdr, err := decodeHeader(idx.data[:headerSize])
	if err != nil {
		return err
	}
	idx.header = hdr
	if hdr.NumRecords > mphf.MaxKeys {
		return fmt.Errorf("%w: record count %d", ifqerrors.ErrCorruptIndex, hdr.NumRecords)
	}

	blobLen := binary.LittleEndian.Uint64(idx.data[headerSize:])
	if blobLen > fileSize {
		return ifqerrors.ErrTruncatedFile
	}
	l := computeLayout(hdr.NumRecords, blobLen)
	if l.size > fileSize {
		return ifqerrors.ErrTruncatedFile
	}
	if l.size < fileSize {
		return fmt.Errorf("%w: %d trailing bytes", ifqerrors.ErrCorruptIndex, fileSize-l.size)
	}
	idx.layout = l
	idx.blob = idx.data[l.blobOffset : l.blobOffset+l.blobLen]
	idx.locations = idx.data[l.locationOffset:l.footerOffset]

	if hdr.NumRecords == 0 {
		if blobLen != 0 {
			return fmt.Errorf("%w: hash blob in an empty index", ifqerrors.ErrCorruptIndex)
		}
		return nil
	}

	fn, err := mphf.New(idx.blob)
	if err != nil {
		return err
	}
	if fn.Len() != hdr.NumRecords {
		return fmt.Errorf("%w: hash function covers %d keys, header says %d",
			ifqerrors.ErrCorruptIndex, fn.Len(), hdr.NumRecords)
	}
	idx.fn = fn
	adviseWillNeed(idx.blob)
	return nil
}

// Close releases the mapping and the source file. Idempotent.
func (idx *Index) Close() error {
	if idx.closed.Swap(true) {
		return nil // Already closed
	}

	var unmapErr, closeErr error
	if idx.mmap != nil {
		unmapErr = idx.mmap.Unmap()
	}
	if idx.src != nil {
		closeErr = idx.src.Close()
	}
	return errors.Join(unmapErr, closeErr)
}

// Fetch returns the record named name. A name that is not in the index
// yields (Record{}, false, nil). Errors come from reading or parsing the
// source and do not affect later fetches.
func (idx *Index) Fetch(name string) (Record, bool, error) {
	if idx.closed.Load() {
		return Record{}, false, ifqerrors.ErrIndexClosed
	}

	start := time.Now()
	rec, ok, err := idx.fetch(name)
	switch {
	case err != nil:
		idx.metrics.observeFetch(start, resultError)
	case !ok:
		idx.metrics.observeFetch(start, resultMiss)
	default:
		idx.metrics.observeFetch(start, resultHit)
	}
	return rec, ok, err
}

func (idx *Index) fetch(name string) (Record, bool, error) {
	n := idx.header.NumRecords
	if n == 0 {
		return Record{}, false, nil
	}

	slot := idx.fn.Slot(prehash(idx.header.Hasher, idx.header.HashSeed, name))
	if slot >= n {
		return Record{}, false, fmt.Errorf("%w: slot %d of %d", ifqerrors.ErrCorruptIndex, slot, n)
	}
	off, length := encoding.ReadLocation(idx.locations, int(slot))
	vo := bgzf.VirtualOffset(off)

	bufp := idx.bufs.Get().(*[]byte)
	defer idx.bufs.Put(bufp)
	buf, err := bgzf.ReadAt(idx.src, vo, int(length), (*bufp)[:0])
	*bufp = buf
	if err != nil {
		return Record{}, false, fmt.Errorf("read record at %s: %w", vo, err)
	}

	rec, _, err := fastq.Parse(buf)
	if err != nil {
		return Record{}, false, fmt.Errorf("parse record at %s: %w", vo, err)
	}

	// Any name hashes to some slot; only the record itself can confirm it.
	parsed := idx.header.NameMode.Extract(rec.Header)
	if parsed != name {
		return Record{}, false, nil
	}
	return Record{Name: parsed, Sequence: rec.Sequence, Quality: rec.Quality}, true, nil
}

// FetchMany looks up names lazily as the returned sequence is consumed.
// Names not in the index are skipped. A failed lookup yields its error and
// iteration continues with the next name unless the consumer stops.
func (idx *Index) FetchMany(names iter.Seq[string]) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for name := range names {
			rec, ok, err := idx.Fetch(name)
			if err != nil {
				if !yield(Record{}, fmt.Errorf("fetch %q: %w", name, err)) {
					return
				}
				continue
			}
			if !ok {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// FetchParallel looks up names with up to workers goroutines and returns
// the records found, in the order of names. Misses are skipped. The first
// error cancels the remaining lookups and is returned.
func (idx *Index) FetchParallel(ctx context.Context, names []string, workers int) ([]Record, error) {
	if idx.closed.Load() {
		return nil, ifqerrors.ErrIndexClosed
	}

	results := make([]Record, len(names))
	found := make([]bool, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, name := range names {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, ok, err := idx.Fetch(name)
			if err != nil {
				return fmt.Errorf("fetch %q: %w", name, err)
			}
			results[i], found[i] = rec, ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := results[:0]
	for i, ok := range found {
		if ok {
			out = append(out, results[i])
		}
	}
	return out, nil
}

// Len returns the number of records in the index.
func (idx *Index) Len() uint64 {
	return idx.header.NumRecords
}

// NameMode returns how record names were taken from header lines at build.
func (idx *Index) NameMode() NameMode {
	return idx.header.NameMode
}

// GetStats returns statistics for an index file. The source is not opened.
func GetStats(indexPath string) (*Stats, error) {
	idx, err := openIndexFile(indexPath)
	if err != nil {
		return nil, err
	}

	return idx.Stats(), idx.Close()
}

// Stats returns statistics for the index.
func (idx *Index) Stats() *Stats {
	n := idx.header.NumRecords
	bitsPerRecord := float64(0)
	if n > 0 {
		bitsPerRecord = float64(len(idx.blob)*8) / float64(n)
	}

	return &Stats{
		NumRecords:    n,
		Hasher:        idx.header.Hasher,
		NameMode:      idx.header.NameMode,
		HashBytes:     int64(len(idx.blob)),
		BitsPerRecord: bitsPerRecord,
		IndexSize:     int64(len(idx.data)),
		SourceSize:    int64(idx.header.SourceSize),
	}
}

// Verify checks the footer checksums of the hash function blob and the
// location array.
//
// The footer is decoded on each Verify call rather than at Open time, so
// Open only touches the header and the hash function.
func (idx *Index) Verify() error {
	if idx.closed.Load() {
		return ifqerrors.ErrIndexClosed
	}

	ft, err := decodeFooter(idx.data[idx.layout.footerOffset:])
	if err != nil {
		return err
	}
	if xxhash.Sum64(idx.blob) != ft.BlobHash {
		return fmt.Errorf("%w: hash function blob", ifqerrors.ErrChecksumFailed)
	}
	if xxhash.Sum64(idx.locations) != ft.LocationHash {
		return fmt.Errorf("%w: location array", ifqerrors.ErrChecksumFailed)
	}
	return nil
}
