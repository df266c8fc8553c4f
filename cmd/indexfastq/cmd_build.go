package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tamirms/indexedfastq"
	"github.com/tamirms/indexedfastq/internal/bgzf"
)

var cmdBuild = &cobra.Command{
	Use:   "build SOURCE [INDEX_PREFIX]",
	Short: "Build an index for a FASTQ file",
	Long: `
The "build" command scans SOURCE once and writes an index to INDEX_PREFIX.fqi.
INDEX_PREFIX defaults to the source path.

If SOURCE is plain text it is compressed to SOURCE.gz first, and the index is
built over that file. A SOURCE that is gzip but not BGZF is re-compressed to
the same path with ".gz" replaced by ".bgz". Existing files are never
overwritten.

EXIT STATUS
===========

Exit status is 0 if the index was written, 1 on a usage error and 2 if the
build failed.
`,
	DisableAutoGenTag: true,
	Args:              argsBetween(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix := ""
		if len(args) == 2 {
			prefix = args[1]
		}
		opts, err := buildOptions(cmd)
		if err != nil {
			return usageError{err}
		}
		return runBuild(cmd.Context(), args[0], prefix, opts, cmd.OutOrStdout())
	},
}

// BuildOptions bundles the flags of the build command. Unset flags fall
// back to the configuration file.
type BuildOptions struct {
	Workers    int
	Hasher     string
	NameMode   string
	Duplicates string
	Seed       uint64
}

var buildOpts BuildOptions

func init() {
	cmdRoot.AddCommand(cmdBuild)

	f := cmdBuild.Flags()
	f.IntVar(&buildOpts.Workers, "workers", 0, "goroutines solving hash partitions")
	f.StringVar(&buildOpts.Hasher, "hasher", "", "name hash (xxh3, murmur3)")
	f.StringVar(&buildOpts.NameMode, "name-mode", "", "record name (full-line, first-field)")
	f.StringVar(&buildOpts.Duplicates, "duplicates", "", "repeated names (reject, keep-last)")
	f.Uint64Var(&buildOpts.Seed, "seed", 0, "name hash seed")
}

func buildOptions(cmd *cobra.Command) ([]indexedfastq.BuildOption, error) {
	b := cfg.Build
	f := cmd.Flags()
	if f.Changed("workers") {
		b.Workers = buildOpts.Workers
	}
	if f.Changed("hasher") {
		b.Hasher = buildOpts.Hasher
	}
	if f.Changed("name-mode") {
		b.NameMode = buildOpts.NameMode
	}
	if f.Changed("duplicates") {
		b.Duplicates = buildOpts.Duplicates
	}
	if f.Changed("seed") {
		b.Seed = buildOpts.Seed
	}
	opts, err := b.Options()
	if err != nil {
		return nil, err
	}
	return append(opts, indexedfastq.WithLogger(log.StandardLogger())), nil
}

func runBuild(ctx context.Context, source, prefix string, opts []indexedfastq.BuildOption, w io.Writer) error {
	source, err := ensureBGZF(source)
	if err != nil {
		return err
	}
	if prefix == "" {
		prefix = source
	}
	indexPath := prefix + indexSuffix

	if err := indexedfastq.Build(ctx, source, indexPath, opts...); err != nil {
		return err
	}
	fmt.Fprintln(w, indexPath)
	return nil
}

// ensureBGZF returns source if it is BGZF. Plain text is compressed to
// source.gz, as bgzip does; ordinary gzip is re-compressed to a ".bgz" file
// next to it. An existing output file is never overwritten.
func ensureBGZF(source string) (string, error) {
	in, err := os.Open(source)
	if err != nil {
		return "", err
	}
	defer in.Close()

	ok, err := bgzf.IsBGZF(in)
	if err != nil {
		return "", err
	}
	if ok {
		return source, nil
	}

	gz, err := isGzip(in)
	if err != nil {
		return "", err
	}

	var src io.Reader = in
	out := source + ".gz"
	if gz {
		zr, err := gzip.NewReader(in)
		if err != nil {
			return "", fmt.Errorf("%s: %w", source, err)
		}
		defer zr.Close()
		src = zr
		out = strings.TrimSuffix(source, ".gz") + ".bgz"
	}

	start := time.Now()
	log.Infof("compressing %s to %s", source, out)
	if err := compressFile(src, source, out); err != nil {
		return "", err
	}
	log.Debugf("compressed %s in %v", source, time.Since(start).Round(time.Millisecond))
	return out, nil
}

// isGzip reports whether ra starts with the gzip magic bytes.
func isGzip(ra io.ReaderAt) (bool, error) {
	var magic [2]byte
	n, err := ra.ReadAt(magic[:], 0)
	if n < len(magic) {
		if err == io.EOF {
			return false, nil
		}
		return false, err
	}
	return magic == [2]byte{0x1f, 0x8b}, nil
}

func compressFile(src io.Reader, name, path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("compress %s: %w (remove it or pass it as SOURCE)", name, err)
		}
		return err
	}
	if err := bgzf.Compress(f, src, cfg.Build.CompressionLevel); err != nil {
		return errors.Join(fmt.Errorf("compress %s: %w", name, err), f.Close(), os.Remove(path))
	}
	if err := f.Sync(); err != nil {
		return errors.Join(err, f.Close(), os.Remove(path))
	}
	return f.Close()
}
