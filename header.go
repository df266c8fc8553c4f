package indexedfastq

import (
	"encoding/binary"
	"fmt"

	ifqerrors "github.com/tamirms/indexedfastq/errors"
	"github.com/tamirms/indexedfastq/internal/fastq"
)

const (
	// magic number for index files, "IFQX" in little-endian
	magic = uint32(0x58514649)

	// version is the current format version
	version = uint16(0x0001)

	// headerSize is the exact size of the serialized header (64 bytes)
	headerSize = 64

	// blobLenSize is the u64 length prefix of the hash function blob
	blobLenSize = 8

	// footerSize is the exact size of the serialized footer (32 bytes)
	footerSize = 32
)

// header is the 64-byte file header.
//
// Layout:
//
//	Offset  Size  Field       Type
//	0       4     Magic       0x58514649 ("IFQX")
//	4       2     Version     0x0001
//	6       1     Hasher      uint8 (0=xxh3, 1=murmur3)
//	7       1     NameMode    uint8 (0=full line, 1=first field)
//	8       8     NumRecords  uint64_le
//	16      8     HashSeed    uint64_le (prehash seed)
//	24      8     SourceSize  uint64_le (compressed source bytes at build)
//	32      32    Reserved    [32]byte (zero)
type header struct {
	Magic      uint32
	Version    uint16
	Hasher     Hasher
	NameMode   fastq.NameMode
	NumRecords uint64
	HashSeed   uint64
	SourceSize uint64
	Reserved   [32]byte
}

// encodeTo serializes the header to an existing buffer.
func (h *header) encodeTo(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	buf[6] = byte(h.Hasher)
	buf[7] = byte(h.NameMode)
	binary.LittleEndian.PutUint64(buf[8:16], h.NumRecords)
	binary.LittleEndian.PutUint64(buf[16:24], h.HashSeed)
	binary.LittleEndian.PutUint64(buf[24:32], h.SourceSize)
	copy(buf[32:64], h.Reserved[:])
}

// decodeHeader parses a 64-byte header.
func decodeHeader(buf []byte) (*header, error) {
	if len(buf) < headerSize {
		return nil, ifqerrors.ErrTruncatedFile
	}

	h := &header{
		Magic:      binary.LittleEndian.Uint32(buf[0:4]),
		Version:    binary.LittleEndian.Uint16(buf[4:6]),
		Hasher:     Hasher(buf[6]),
		NameMode:   fastq.NameMode(buf[7]),
		NumRecords: binary.LittleEndian.Uint64(buf[8:16]),
		HashSeed:   binary.LittleEndian.Uint64(buf[16:24]),
		SourceSize: binary.LittleEndian.Uint64(buf[24:32]),
	}
	copy(h.Reserved[:], buf[32:64])

	if h.Magic != magic {
		return nil, ifqerrors.ErrInvalidMagic
	}
	if h.Version != version {
		return nil, ifqerrors.ErrInvalidVersion
	}
	if !h.Hasher.valid() {
		return nil, fmt.Errorf("%w: unknown hasher %d", ifqerrors.ErrCorruptIndex, h.Hasher)
	}
	if !h.NameMode.Valid() {
		return nil, fmt.Errorf("%w: unknown name mode %d", ifqerrors.ErrCorruptIndex, h.NameMode)
	}
	return h, nil
}

// footer is the 32-byte file footer.
//
// Layout:
//
//	Offset  Size  Field         Type
//	0       8     BlobHash      uint64_le (xxHash64 of the hash function blob)
//	8       8     LocationHash  uint64_le (xxHash64 of the location array)
//	16      16    Reserved      [16]byte (zero)
type footer struct {
	BlobHash     uint64
	LocationHash uint64
	Reserved     [16]byte
}

// encodeTo serializes the footer into an existing buffer.
func (f *footer) encodeTo(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], f.BlobHash)
	binary.LittleEndian.PutUint64(buf[8:16], f.LocationHash)
	copy(buf[16:32], f.Reserved[:])
}

// decodeFooter parses a 32-byte footer.
func decodeFooter(buf []byte) (*footer, error) {
	if len(buf) < footerSize {
		return nil, ifqerrors.ErrTruncatedFile
	}
	f := &footer{
		BlobHash:     binary.LittleEndian.Uint64(buf[0:8]),
		LocationHash: binary.LittleEndian.Uint64(buf[8:16]),
	}
	copy(f.Reserved[:], buf[16:32])
	return f, nil
}

// layout holds the region offsets of an index file.
type layout struct {
	blobOffset     uint64
	blobLen        uint64
	locationOffset uint64
	footerOffset   uint64
	size           uint64
}

// computeLayout places the regions for n records and a blob of blobLen
// bytes. Locations start 8-byte aligned.
func computeLayout(n, blobLen uint64) layout {
	l := layout{
		blobOffset: headerSize + blobLenSize,
		blobLen:    blobLen,
	}
	l.locationOffset = (l.blobOffset + blobLen + 7) &^ 7
	l.footerOffset = l.locationOffset + n*locationSize
	l.size = l.footerOffset + footerSize
	return l
}
