package indexedfastq

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	ifqerrors "github.com/tamirms/indexedfastq/errors"
	"github.com/tamirms/indexedfastq/internal/bgzf"
	"github.com/tamirms/indexedfastq/internal/fastq"
	"github.com/tamirms/indexedfastq/internal/mphf"
)

const (
	// contextCheckInterval is how often the scan checks for cancellation
	// and logs progress, in records.
	contextCheckInterval = 10000

	// maxSeedRetries bounds the extra hash function builds tried after a
	// pilot search fails. One retry almost always suffices.
	maxSeedRetries = 8

	seedStep = 0x9e3779b97f4a7c15
)

// entry is one scanned record: its name key and where it lives.
type entry struct {
	key mphf.Key
	loc Location
}

func compareEntries(a, b entry) int {
	if c := cmp.Compare(a.key.K0, b.key.K0); c != 0 {
		return c
	}
	if c := cmp.Compare(a.key.K1, b.key.K1); c != 0 {
		return c
	}
	return cmp.Compare(a.loc.Offset, b.loc.Offset)
}

// Build scans the BGZF-compressed FASTQ file at sourcePath once and writes
// an index for it to indexPath.
//
// The index is written to a temporary file in the same directory and renamed
// over indexPath only when complete; on any error no file is left at
// indexPath that was not there before.
//
// Usage:
//
//	err := indexedfastq.Build(ctx, "reads.fastq.gz", "reads.fastq.gz.fqi",
//	    indexedfastq.WithWorkers(8))
func Build(ctx context.Context, sourcePath, indexPath string, opts ...BuildOption) error {
	cfg := defaultBuildConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	start := time.Now()
	logger := cfg.logger.WithFields(logrus.Fields{"source": sourcePath, "index": indexPath})

	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	ok, err := bgzf.IsBGZF(src)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ifqerrors.ErrNotBGZF, sourcePath)
	}
	adviseSequential(src)

	entries, err := scanSource(ctx, src, cfg, logger)
	if err != nil {
		return err
	}
	scanned := len(entries)

	slices.SortFunc(entries, compareEntries)
	entries, err = resolveCollisions(src, entries, cfg, logger)
	if err != nil {
		return err
	}

	keys := make([]mphf.Key, len(entries))
	for i := range entries {
		keys[i] = entries[i].key
	}

	var (
		blob []byte
		fn   *mphf.Function
	)
	if len(keys) > 0 {
		blob, err = buildFunction(ctx, keys, cfg, logger)
		if err != nil {
			return err
		}
		if fn, err = mphf.New(blob); err != nil {
			return fmt.Errorf("decode built hash function: %w", err)
		}
	}

	hdr := header{
		Magic:      magic,
		Version:    version,
		Hasher:     cfg.hasher,
		NameMode:   cfg.nameMode,
		NumRecords: uint64(len(entries)),
		HashSeed:   cfg.globalSeed,
		SourceSize: uint64(fi.Size()),
	}
	if err := writeIndex(indexPath, hdr, blob, fn, entries); err != nil {
		return err
	}

	cfg.metrics.observeBuild(start, hdr.NumRecords)
	logger.WithFields(logrus.Fields{
		"records":   hdr.NumRecords,
		"dropped":   scanned - len(entries),
		"hasher":    cfg.hasher,
		"name_mode": cfg.nameMode,
		"elapsed":   time.Since(start).Round(time.Millisecond),
	}).Info("index built")
	return nil
}

// scanSource walks every record of src and returns its key and location,
// in file order.
func scanSource(ctx context.Context, src io.ReaderAt, cfg *buildConfig, logger logrus.FieldLogger) ([]entry, error) {
	r := bgzf.NewReader(src)
	defer r.Close()
	sc := fastq.NewScanner(r, cfg.maxLineLength)

	var entries []entry
	for {
		rec, off, length, err := sc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		if uint64(len(entries)) >= mphf.MaxKeys {
			return nil, fmt.Errorf("%w: more than %d records", ifqerrors.ErrTooManyRecords, uint64(mphf.MaxKeys))
		}
		name := cfg.nameMode.Extract(rec.Header)
		entries = append(entries, entry{
			key: prehash(cfg.hasher, cfg.globalSeed, name),
			loc: Location{Offset: off, Length: length},
		})

		if len(entries)%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			logger.WithFields(logrus.Fields{
				"records": len(entries),
				"offset":  off,
			}).Debug("scanning")
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// resolveCollisions handles runs of equal keys in sorted entries. Records in
// a run are re-read to compare their names: the same name is a duplicate and
// goes to the configured policy, different names cannot be told apart by the
// hash function at all.
func resolveCollisions(src io.ReaderAt, entries []entry, cfg *buildConfig, logger logrus.FieldLogger) ([]entry, error) {
	out := entries[:0]
	var buf []byte
	for i := 0; i < len(entries); {
		j := i + 1
		for j < len(entries) && entries[j].key == entries[i].key {
			j++
		}
		if j == i+1 {
			out = append(out, entries[i])
			i = j
			continue
		}

		run := entries[i:j]
		var first string
		for k, e := range run {
			var name string
			var err error
			name, buf, err = readName(src, e.loc, cfg.nameMode, buf)
			if err != nil {
				return nil, fmt.Errorf("re-read record at %s: %w", e.loc.Offset, err)
			}
			if k == 0 {
				first = name
				continue
			}
			if name != first {
				return nil, fmt.Errorf("%w: %q and %q", ifqerrors.ErrIndistinguishableHashes, first, name)
			}
		}

		if cfg.duplicates != DuplicateKeepLast {
			return nil, &ifqerrors.DuplicateKeyError{Name: first}
		}
		// Ties are ordered by offset, so the last entry of the run is the
		// last occurrence in the file.
		for _, e := range run[:len(run)-1] {
			logger.WithFields(logrus.Fields{
				"name":   first,
				"offset": e.loc.Offset,
			}).Warn("dropping duplicate record")
		}
		out = append(out, run[len(run)-1])
		i = j
	}
	return out, nil
}

// readName decompresses and parses the record at loc and returns its name.
func readName(src io.ReaderAt, loc Location, mode fastq.NameMode, buf []byte) (string, []byte, error) {
	buf, err := bgzf.ReadAt(src, loc.Offset, int(loc.Length), buf)
	if err != nil {
		return "", buf, err
	}
	rec, _, err := fastq.Parse(buf)
	if err != nil {
		return "", buf, err
	}
	return mode.Extract(rec.Header), buf, nil
}

// buildFunction builds the hash function over sorted, distinct keys. A
// failed pilot search is retried with a fresh seed; every other error is
// final.
func buildFunction(ctx context.Context, keys []mphf.Key, cfg *buildConfig, logger logrus.FieldLogger) ([]byte, error) {
	attempt := 0
	op := func() ([]byte, error) {
		seed := cfg.globalSeed ^ (uint64(attempt+1) * seedStep)
		attempt++
		blob, err := mphf.Build(ctx, keys, seed, cfg.workers)
		if err == nil {
			return blob, nil
		}
		if errors.Is(err, ifqerrors.ErrPilotSearchExhausted) {
			logger.WithError(err).WithField("attempt", attempt).Warn("hash function build failed, retrying with new seed")
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, maxSeedRetries), ctx)
	blob, err := backoff.RetryWithData(op, policy)
	if err != nil {
		return nil, fmt.Errorf("build hash function: %w", err)
	}
	return blob, nil
}

// writeIndex lays out and writes the index file for entries, whose slots are
// given by fn. fn is nil when there are no entries.
func writeIndex(path string, hdr header, blob []byte, fn *mphf.Function, entries []entry) error {
	iw, err := newIndexWriter(path, hdr, uint64(len(blob)))
	if err != nil {
		return err
	}
	if err := iw.writeBlob(blob); err != nil {
		return errors.Join(err, iw.abort())
	}
	for _, e := range entries {
		if err := iw.writeLocation(fn.Slot(e.key), e.loc); err != nil {
			return errors.Join(err, iw.abort())
		}
	}
	return iw.finalize()
}
