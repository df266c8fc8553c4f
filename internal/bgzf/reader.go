package bgzf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	ifqerrors "github.com/tamirms/indexedfastq/errors"
)

// decoder bundles the per-reader scratch state. Decoders are pooled because
// query-time readers are short-lived (one per fetch).
type decoder struct {
	fr   io.ReadCloser
	src  bytes.Reader
	cbuf []byte // compressed block
	ubuf []byte // inflated block
}

var decoderPool = sync.Pool{
	New: func() any {
		d := &decoder{
			cbuf: make([]byte, MaxBlockSize),
			ubuf: make([]byte, MaxBlockSize),
		}
		d.fr = flate.NewReader(&d.src)
		return d
	},
}

// inflate decompresses the block at off. Returns the inflated bytes (backed
// by d.ubuf) and the compressed size of the block. Returns io.EOF if off is
// exactly the end of the file.
func (d *decoder) inflate(ra io.ReaderAt, off int64) ([]byte, int, error) {
	hdr := d.cbuf[:headerSize]
	n, err := ra.ReadAt(hdr, off)
	if n == 0 && errors.Is(err, io.EOF) {
		return nil, 0, io.EOF
	}
	if n < headerSize {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, 0, fmt.Errorf("%w: truncated header at %d", ifqerrors.ErrInvalidBGZF, off)
		}
		return nil, 0, fmt.Errorf("read block header at %d: %w", off, err)
	}

	size, err := parseHeader(hdr)
	if err != nil {
		return nil, 0, fmt.Errorf("block at %d: %w", off, err)
	}

	block := d.cbuf[:size]
	n, err = ra.ReadAt(block[headerSize:], off+headerSize)
	if n < size-headerSize {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, 0, fmt.Errorf("%w: truncated block at %d", ifqerrors.ErrInvalidBGZF, off)
		}
		return nil, 0, fmt.Errorf("read block at %d: %w", off, err)
	}

	wantCRC := binary.LittleEndian.Uint32(block[size-8:])
	isize := int(binary.LittleEndian.Uint32(block[size-4:]))
	if isize > MaxBlockSize {
		return nil, 0, fmt.Errorf("%w: block at %d inflates to %d bytes", ifqerrors.ErrInvalidBGZF, off, isize)
	}

	d.src.Reset(block[headerSize : size-footerSize])
	if err := d.fr.(flate.Resetter).Reset(&d.src, nil); err != nil {
		return nil, 0, fmt.Errorf("reset inflater: %w", err)
	}
	data := d.ubuf[:isize]
	if _, err := io.ReadFull(d.fr, data); err != nil {
		return nil, 0, fmt.Errorf("%w: inflate block at %d: %v", ifqerrors.ErrInvalidBGZF, off, err)
	}
	if crc32.ChecksumIEEE(data) != wantCRC {
		return nil, 0, fmt.Errorf("%w: CRC mismatch in block at %d", ifqerrors.ErrInvalidBGZF, off)
	}
	return data, size, nil
}

// Reader reads the uncompressed stream of a BGZF file.
//
// A Reader keeps its own cursor and reads through io.ReaderAt, so any number
// of Readers may share one *os.File concurrently. A single Reader is not
// safe for concurrent use.
type Reader struct {
	ra  io.ReaderAt
	dec *decoder

	data  []byte // inflated current block
	pos   int    // read position inside data
	block int64  // file offset of the current block
	next  int64  // file offset of the following block
	eof   bool
}

// NewReader returns a Reader positioned at the start of the stream.
// Call Close to return its buffers to the pool.
func NewReader(ra io.ReaderAt) *Reader {
	return &Reader{
		ra:  ra,
		dec: decoderPool.Get().(*decoder),
	}
}

// Close releases the reader's buffers. The Reader must not be used after.
func (r *Reader) Close() error {
	if r.dec != nil {
		decoderPool.Put(r.dec)
		r.dec = nil
		r.data = nil
	}
	return nil
}

// load inflates the block at off and makes it current.
func (r *Reader) load(off int64) error {
	data, size, err := r.dec.inflate(r.ra, off)
	if errors.Is(err, io.EOF) {
		r.data, r.pos = nil, 0
		r.block, r.next = off, off
		r.eof = true
		return io.EOF
	}
	if err != nil {
		return err
	}
	r.data, r.pos = data, 0
	r.block, r.next = off, off+int64(size)
	r.eof = false
	return nil
}

// advance moves to the next non-empty block.
func (r *Reader) advance() error {
	for {
		if r.eof {
			return io.EOF
		}
		if err := r.load(r.next); err != nil {
			return err
		}
		if len(r.data) > 0 {
			return nil
		}
	}
}

// Seek positions the reader at vo.
func (r *Reader) Seek(vo VirtualOffset) error {
	if r.dec == nil {
		return errors.New("bgzf: reader is closed")
	}
	err := r.load(vo.BlockStart())
	if errors.Is(err, io.EOF) && vo.Within() == 0 {
		return nil
	}
	if err != nil {
		return err
	}
	if vo.Within() > len(r.data) {
		return fmt.Errorf("%w: offset %s beyond block of %d bytes", ifqerrors.ErrInvalidBGZF, vo, len(r.data))
	}
	r.pos = vo.Within()
	return nil
}

// Tell returns the virtual offset of the next byte to be read. A position at
// the end of a block is reported as the start of the following block, so the
// within-block part always fits in 16 bits.
func (r *Reader) Tell() VirtualOffset {
	if r.pos >= len(r.data) {
		return NewVirtualOffset(r.next, 0)
	}
	return NewVirtualOffset(r.block, r.pos)
}

// Read implements io.Reader over the uncompressed stream.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.dec == nil {
		return 0, errors.New("bgzf: reader is closed")
	}
	if r.pos >= len(r.data) {
		if err := r.advance(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// ReadLine appends bytes up to and including the next '\n' to dst.
// Lines may span blocks. At end of stream it returns whatever was read
// together with io.EOF.
func (r *Reader) ReadLine(dst []byte) ([]byte, error) {
	if r.dec == nil {
		return dst, errors.New("bgzf: reader is closed")
	}
	for {
		if r.pos >= len(r.data) {
			if err := r.advance(); err != nil {
				return dst, err
			}
		}
		chunk := r.data[r.pos:]
		if i := bytes.IndexByte(chunk, '\n'); i >= 0 {
			dst = append(dst, chunk[:i+1]...)
			r.pos += i + 1
			return dst, nil
		}
		dst = append(dst, chunk...)
		r.pos = len(r.data)
	}
}

// ReadAt reads exactly n uncompressed bytes starting at vo into dst
// (which is grown as needed) using a pooled Reader. Safe for concurrent use
// as long as ra is.
func ReadAt(ra io.ReaderAt, vo VirtualOffset, n int, dst []byte) ([]byte, error) {
	r := NewReader(ra)
	defer r.Close()
	if err := r.Seek(vo); err != nil {
		return dst, err
	}
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	if _, err := io.ReadFull(r, dst); err != nil {
		return dst, err
	}
	return dst, nil
}
