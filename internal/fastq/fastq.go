// Package fastq parses four-line FASTQ records.
//
// The same framing rules apply to the forward scan over a BGZF stream
// (Scanner) and to single-record parsing of a byte slice (Parse):
//
//   - blank lines before a record are skipped and are not part of its span
//   - line 1 starts with '@'; the header is the rest of the line
//   - line 2 is the sequence
//   - line 3 starts with '+'; anything after it is ignored
//   - line 4 is the quality string and must match the sequence length
//
// Lines may end in "\n" or "\r\n". The last line of the stream may lack a
// terminator.
package fastq

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	ifqerrors "github.com/tamirms/indexedfastq/errors"
	"github.com/tamirms/indexedfastq/internal/bgzf"
)

// DefaultMaxLineLength bounds a single line. Longer lines are rejected as
// malformed rather than buffered without limit.
const DefaultMaxLineLength = 64 << 20

// Record is a parsed FASTQ record. Header excludes the leading '@'.
type Record struct {
	Header   string
	Sequence string
	Quality  string
}

// NameMode selects which part of the header line names a record.
type NameMode uint8

const (
	// NameFullLine uses the whole header line after '@'.
	NameFullLine NameMode = iota
	// NameFirstField uses the header up to the first space or tab.
	NameFirstField
)

// Valid reports whether m is a known mode.
func (m NameMode) Valid() bool {
	return m <= NameFirstField
}

func (m NameMode) String() string {
	switch m {
	case NameFullLine:
		return "full-line"
	case NameFirstField:
		return "first-field"
	default:
		return fmt.Sprintf("NameMode(%d)", uint8(m))
	}
}

// Extract returns the record name for a header line.
func (m NameMode) Extract(header string) string {
	if m == NameFirstField {
		if i := strings.IndexAny(header, " \t"); i >= 0 {
			return header[:i]
		}
	}
	return header
}

// ParseNameMode is the inverse of NameMode.String.
func ParseNameMode(s string) (NameMode, error) {
	switch s {
	case "full-line", "":
		return NameFullLine, nil
	case "first-field":
		return NameFirstField, nil
	default:
		return 0, fmt.Errorf("%w: unknown name mode %q", ifqerrors.ErrInvalidOption, s)
	}
}

// LineReader yields lines including their terminator. At end of stream it
// returns any unterminated tail together with io.EOF.
type LineReader interface {
	ReadLine(dst []byte) ([]byte, error)
}

// Source is a LineReader that reports the position of its next byte.
// *bgzf.Reader implements it.
type Source interface {
	LineReader
	Tell() bgzf.VirtualOffset
}

// lines wraps a LineReader with a reusable buffer and the line limit.
type lines struct {
	src     LineReader
	buf     []byte
	maxLine int
	eof     bool
}

// next returns the next line without its terminator and the raw byte count
// consumed. io.EOF is returned only when nothing was left to read.
func (l *lines) next() ([]byte, int, error) {
	if l.eof {
		return nil, 0, io.EOF
	}
	raw, err := l.src.ReadLine(l.buf[:0])
	l.buf = raw
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return nil, 0, err
		}
		l.eof = true
		if len(raw) == 0 {
			return nil, 0, io.EOF
		}
	}
	if len(raw) > l.maxLine {
		return nil, 0, fmt.Errorf("%w: line of %d bytes exceeds limit of %d", ifqerrors.ErrMalformedRecord, len(raw), l.maxLine)
	}
	line := bytes.TrimSuffix(raw, []byte{'\n'})
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return line, len(raw), nil
}

// body reads lines 2-4 of a record whose header line is already known.
// Returns the record and the bytes consumed by those three lines.
func (l *lines) body(header []byte) (Record, int, error) {
	if len(header) == 0 || header[0] != '@' {
		return Record{}, 0, fmt.Errorf("%w: header line does not start with '@'", ifqerrors.ErrMalformedRecord)
	}
	rec := Record{Header: string(header[1:])}
	total := 0

	line, n, err := l.next()
	if err != nil {
		return Record{}, 0, eofInRecord(err, "sequence")
	}
	rec.Sequence = string(line)
	total += n

	line, n, err = l.next()
	if err != nil {
		return Record{}, 0, eofInRecord(err, "separator")
	}
	if len(line) == 0 || line[0] != '+' {
		return Record{}, 0, fmt.Errorf("%w: separator line does not start with '+'", ifqerrors.ErrMalformedRecord)
	}
	total += n

	line, n, err = l.next()
	if err != nil {
		return Record{}, 0, eofInRecord(err, "quality")
	}
	if len(line) != len(rec.Sequence) {
		return Record{}, 0, fmt.Errorf("%w: quality length %d does not match sequence length %d",
			ifqerrors.ErrMalformedRecord, len(line), len(rec.Sequence))
	}
	rec.Quality = string(line)
	total += n

	return rec, total, nil
}

func eofInRecord(err error, line string) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: missing %s line", ifqerrors.ErrUnexpectedEndOfStream, line)
	}
	return err
}

// Scanner walks a stream record by record, reporting where each starts.
type Scanner struct {
	src Source
	l   lines
}

// NewScanner returns a Scanner over src. maxLine <= 0 selects
// DefaultMaxLineLength.
func NewScanner(src Source, maxLine int) *Scanner {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineLength
	}
	return &Scanner{
		src: src,
		l:   lines{src: src, buf: make([]byte, 0, 512), maxLine: maxLine},
	}
}

// Next returns the next record, the virtual offset of its '@' and its length
// in uncompressed bytes. Returns io.EOF when no further record starts.
func (s *Scanner) Next() (Record, bgzf.VirtualOffset, uint32, error) {
	var (
		start  bgzf.VirtualOffset
		header []byte
		hn     int
	)
	for {
		start = s.src.Tell()
		line, n, err := s.l.next()
		if err != nil {
			return Record{}, 0, 0, err
		}
		if len(line) > 0 {
			header, hn = line, n
			break
		}
	}

	rec, n, err := s.l.body(header)
	if err != nil {
		return Record{}, 0, 0, fmt.Errorf("record at %s: %w", start, err)
	}
	length := uint64(hn) + uint64(n)
	if length > math.MaxUint32 {
		return Record{}, 0, 0, fmt.Errorf("%w: record at %s is %d bytes", ifqerrors.ErrRecordTooLong, start, length)
	}
	return rec, start, uint32(length), nil
}

// sliceSource serves lines from an in-memory buffer.
type sliceSource struct {
	b   []byte
	off int
}

func (s *sliceSource) ReadLine(dst []byte) ([]byte, error) {
	if s.off >= len(s.b) {
		return dst, io.EOF
	}
	rest := s.b[s.off:]
	if i := bytes.IndexByte(rest, '\n'); i >= 0 {
		s.off += i + 1
		return append(dst, rest[:i+1]...), nil
	}
	s.off = len(s.b)
	return append(dst, rest...), io.EOF
}

// Parse parses exactly one record from buf and returns it with the number
// of bytes consumed, including any blank lines that preceded it.
// Returns io.EOF if buf holds no record.
func Parse(buf []byte) (Record, int, error) {
	src := &sliceSource{b: buf}
	l := lines{src: src, maxLine: math.MaxInt}
	for {
		line, _, err := l.next()
		if err != nil {
			return Record{}, 0, err
		}
		if len(line) == 0 {
			continue
		}
		rec, _, err := l.body(line)
		if err != nil {
			return Record{}, 0, err
		}
		return rec, src.off, nil
	}
}
