package bgzf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
)

// Writer compresses a stream into BGZF blocks.
type Writer struct {
	w    io.Writer
	size int // input bytes per block

	buf    []byte       // pending uncompressed data
	out    bytes.Buffer // compressed payload scratch
	fw     *flate.Writer
	stored *flate.Writer
	block  []byte // assembled block scratch

	off    int64 // file offset of the next block
	closed bool
	err    error
}

// NewWriter returns a Writer at flate.DefaultCompression.
func NewWriter(w io.Writer) *Writer {
	wr, _ := NewWriterLevel(w, flate.DefaultCompression)
	return wr
}

// NewWriterLevel returns a Writer at the given flate level.
func NewWriterLevel(w io.Writer, level int) (*Writer, error) {
	return newWriterSize(w, level, DefaultBlockDataSize)
}

func newWriterSize(w io.Writer, level, blockSize int) (*Writer, error) {
	if blockSize <= 0 || blockSize > DefaultBlockDataSize {
		return nil, fmt.Errorf("bgzf: block size %d out of range", blockSize)
	}
	wr := &Writer{
		w:     w,
		size:  blockSize,
		buf:   make([]byte, 0, blockSize),
		block: make([]byte, 0, MaxBlockSize),
	}
	fw, err := flate.NewWriter(&wr.out, level)
	if err != nil {
		return nil, fmt.Errorf("bgzf: %w", err)
	}
	wr.fw = fw
	return wr, nil
}

// Write buffers p and emits full blocks as they fill.
func (w *Writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.closed {
		return 0, errors.New("bgzf: write to closed writer")
	}
	written := 0
	for len(p) > 0 {
		n := min(w.size-len(w.buf), len(p))
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
		written += n
		if len(w.buf) == w.size {
			if err := w.Flush(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// Tell returns the virtual offset the next written byte will have.
func (w *Writer) Tell() VirtualOffset {
	return NewVirtualOffset(w.off, len(w.buf))
}

// Flush writes any buffered data as a complete block.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if len(w.buf) == 0 {
		return nil
	}
	if err := w.writeBlock(w.buf); err != nil {
		w.err = err
		return err
	}
	w.buf = w.buf[:0]
	return nil
}

// Close flushes pending data and appends the EOF marker block.
// It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return w.err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	w.closed = true
	if _, err := w.w.Write(eofMarker); err != nil {
		w.err = fmt.Errorf("bgzf: write EOF marker: %w", err)
		return w.err
	}
	w.off += int64(len(eofMarker))
	return nil
}

func (w *Writer) deflate(fw *flate.Writer, data []byte) ([]byte, error) {
	w.out.Reset()
	fw.Reset(&w.out)
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return w.out.Bytes(), nil
}

func (w *Writer) writeBlock(data []byte) error {
	payload, err := w.deflate(w.fw, data)
	if err != nil {
		return fmt.Errorf("bgzf: deflate: %w", err)
	}
	if headerSize+len(payload)+footerSize > MaxBlockSize {
		// Incompressible input; stored blocks always fit.
		if w.stored == nil {
			if w.stored, err = flate.NewWriter(&w.out, flate.NoCompression); err != nil {
				return fmt.Errorf("bgzf: %w", err)
			}
		}
		if payload, err = w.deflate(w.stored, data); err != nil {
			return fmt.Errorf("bgzf: store: %w", err)
		}
	}

	total := headerSize + len(payload) + footerSize
	b := w.block[:0]
	b = append(b, 0x1f, 0x8b, 0x08, 0x04, 0, 0, 0, 0, 0, 0xff)
	b = binary.LittleEndian.AppendUint16(b, 6)
	b = append(b, 'B', 'C')
	b = binary.LittleEndian.AppendUint16(b, 2)
	b = binary.LittleEndian.AppendUint16(b, uint16(total-1))
	b = append(b, payload...)
	b = binary.LittleEndian.AppendUint32(b, crc32.ChecksumIEEE(data))
	b = binary.LittleEndian.AppendUint32(b, uint32(len(data)))
	w.block = b

	if _, err := w.w.Write(b); err != nil {
		return fmt.Errorf("bgzf: write block: %w", err)
	}
	w.off += int64(total)
	return nil
}

// Compress copies src into dst as a BGZF stream, terminated by the EOF marker.
func Compress(dst io.Writer, src io.Reader, level int) error {
	w, err := NewWriterLevel(dst, level)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, src); err != nil {
		return errors.Join(err, w.Close())
	}
	return w.Close()
}
