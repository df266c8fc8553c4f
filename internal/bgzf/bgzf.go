// Package bgzf implements the BGZF block-compressed format used for
// random-access FASTQ files.
//
// A BGZF file is a series of gzip members ("blocks"), each holding at most
// 64 KiB of uncompressed data and carrying its own compressed size in a
// "BC" extra subfield. Because every block can be inflated on its own, a
// position in the uncompressed stream is addressed by a VirtualOffset:
// the file offset of the block start in the high 48 bits and the byte
// offset inside the inflated block in the low 16 bits.
//
// Block layout (little-endian):
//
//	Offset  Size  Field
//	0       4     ID1 ID2 CM FLG   (0x1f 0x8b 0x08 0x04)
//	4       4     MTIME
//	8       1     XFL
//	9       1     OS
//	10      2     XLEN             (6)
//	12      2     SI1 SI2          ('B' 'C')
//	14      2     SLEN             (2)
//	16      2     BSIZE            (total block size - 1)
//	18      var   CDATA            (raw deflate)
//	-8      4     CRC32            (of the inflated data)
//	-4      4     ISIZE            (inflated size, <= 65536)
package bgzf

import (
	"encoding/binary"
	"fmt"
	"io"

	ifqerrors "github.com/tamirms/indexedfastq/errors"
)

const (
	// headerSize is the fixed size of a BGZF block header.
	headerSize = 18

	// footerSize is the CRC32 + ISIZE trailer.
	footerSize = 8

	// MaxBlockSize bounds both the compressed block size (BSIZE+1) and the
	// inflated size of a single block.
	MaxBlockSize = 1 << 16

	// DefaultBlockDataSize is the amount of input the writer packs into one
	// block. Same value as htslib so incompressible data still fits.
	DefaultBlockDataSize = 0xff00
)

// eofMarker is the empty block that terminates a BGZF file.
var eofMarker = []byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00,
	0x00, 0xff, 0x06, 0x00, 0x42, 0x43, 0x02, 0x00,
	0x1b, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
}

// VirtualOffset addresses a byte of the uncompressed stream.
type VirtualOffset uint64

// NewVirtualOffset packs a block start and an offset inside that block.
func NewVirtualOffset(blockStart int64, within int) VirtualOffset {
	return VirtualOffset(uint64(blockStart)<<16 | uint64(within&0xffff))
}

// BlockStart returns the file offset of the block holding the byte.
func (v VirtualOffset) BlockStart() int64 {
	return int64(v >> 16)
}

// Within returns the offset of the byte inside the inflated block.
func (v VirtualOffset) Within() int {
	return int(v & 0xffff)
}

func (v VirtualOffset) String() string {
	return fmt.Sprintf("%d:%d", v.BlockStart(), v.Within())
}

// parseHeader validates a block header and returns the total block size.
func parseHeader(hdr []byte) (int, error) {
	if hdr[0] != 0x1f || hdr[1] != 0x8b || hdr[2] != 0x08 || hdr[3]&0x04 == 0 {
		return 0, fmt.Errorf("%w: bad gzip member header", ifqerrors.ErrInvalidBGZF)
	}
	if binary.LittleEndian.Uint16(hdr[10:12]) != 6 || hdr[12] != 'B' || hdr[13] != 'C' ||
		binary.LittleEndian.Uint16(hdr[14:16]) != 2 {
		return 0, fmt.Errorf("%w: missing BC extra subfield", ifqerrors.ErrInvalidBGZF)
	}
	size := int(binary.LittleEndian.Uint16(hdr[16:18])) + 1
	if size < headerSize+footerSize {
		return 0, fmt.Errorf("%w: block size %d too small", ifqerrors.ErrInvalidBGZF, size)
	}
	return size, nil
}

// IsBGZF reports whether ra starts with a BGZF block header.
// A plain gzip file (single member, no BC subfield) is not BGZF.
func IsBGZF(ra io.ReaderAt) (bool, error) {
	var hdr [headerSize]byte
	n, err := ra.ReadAt(hdr[:], 0)
	if n < headerSize {
		if err == io.EOF || err == nil {
			return false, nil
		}
		return false, err
	}
	if _, err := parseHeader(hdr[:]); err != nil {
		return false, nil
	}
	return true, nil
}
