package indexedfastq

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"

	"github.com/tamirms/indexedfastq/internal/bgzf"
	"github.com/tamirms/indexedfastq/internal/encoding"
)

const locationSize = encoding.LocationSize

// Location is where a record lives in the source: the virtual offset of its
// '@' and the exact uncompressed byte length of its four lines.
type Location struct {
	Offset bgzf.VirtualOffset
	Length uint32
}

// indexWriter writes an index file through a writable mmap of a temp file
// next to the target path. finalize renames the temp file into place, so a
// reader never observes a partial index at path.
// File layout: [Header 64B][BlobLen 8B][Blob][Pad to 8][Locations n×12B][Footer 32B]
type indexWriter struct {
	path    string
	tmpPath string
	file    *os.File
	mmap    mmap.MMap // Memory-mapped region
	data    []byte    // View into mmap for direct writes

	header header
	layout layout

	written []uint64 // bitset of slots already holding a location
	count   uint64
}

// indexFileMode is the permission of a finished index file.
const indexFileMode = 0644

// newIndexWriter creates the temp file, sizes it for n records and a blob of
// blobLen bytes, and maps it.
func newIndexWriter(path string, hdr header, blobLen uint64) (*indexWriter, error) {
	l := computeLayout(hdr.NumRecords, blobLen)

	file, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create index file: %w", err)
	}
	tmpPath := file.Name()

	// CreateTemp uses 0600; the published index is readable like any output file.
	if err := file.Chmod(indexFileMode); err != nil {
		primaryErr := fmt.Errorf("failed to set index file mode: %w", err)
		return nil, errors.Join(primaryErr, file.Close(), os.Remove(tmpPath))
	}

	// Pre-allocate disk blocks to prevent SIGBUS on disk full
	if err := fallocateFile(file, int64(l.size)); err != nil {
		primaryErr := fmt.Errorf("failed to allocate disk space: %w", err)
		return nil, errors.Join(primaryErr, file.Close(), os.Remove(tmpPath))
	}

	mm, err := mmap.MapRegion(file, int(l.size), mmap.RDWR, 0, 0)
	if err != nil {
		primaryErr := fmt.Errorf("failed to mmap file: %w", err)
		return nil, errors.Join(primaryErr, file.Close(), os.Remove(tmpPath))
	}

	iw := &indexWriter{
		path:    path,
		tmpPath: tmpPath,
		file:    file,
		mmap:    mm,
		data:    []byte(mm),
		header:  hdr,
		layout:  l,
		written: make([]uint64, (hdr.NumRecords+63)/64),
	}

	// Locations are written in hash order, i.e. randomly; fault the region in up front.
	prefaultRegion(iw.data[l.locationOffset:l.footerOffset])
	return iw, nil
}

// writeBlob copies the hash function blob into place.
func (iw *indexWriter) writeBlob(blob []byte) error {
	if uint64(len(blob)) != iw.layout.blobLen {
		return fmt.Errorf("blob is %d bytes, reserved %d", len(blob), iw.layout.blobLen)
	}
	copy(iw.data[iw.layout.blobOffset:], blob)
	return nil
}

// writeLocation stores loc at slot. Each slot is written exactly once; a
// second write means the hash function is not injective over the build set.
func (iw *indexWriter) writeLocation(slot uint64, loc Location) error {
	if slot >= iw.header.NumRecords {
		return fmt.Errorf("slot %d out of range [0, %d)", slot, iw.header.NumRecords)
	}
	word, bit := slot/64, uint64(1)<<(slot%64)
	if iw.written[word]&bit != 0 {
		return fmt.Errorf("slot %d written twice", slot)
	}
	iw.written[word] |= bit
	iw.count++

	base := unsafe.Pointer(&iw.data[iw.layout.locationOffset])
	encoding.WriteLocation(base, int(slot), uint64(loc.Offset), loc.Length)
	return nil
}

// finalize writes header and footer, syncs, and renames the file into place.
// On error, delegates to abort() for cleanup.
func (iw *indexWriter) finalize() error {
	if iw.count != iw.header.NumRecords {
		primaryErr := fmt.Errorf("wrote %d of %d locations", iw.count, iw.header.NumRecords)
		return errors.Join(primaryErr, iw.abort())
	}

	l := iw.layout
	iw.header.encodeTo(iw.data[0:headerSize])
	binary.LittleEndian.PutUint64(iw.data[headerSize:], l.blobLen)

	ftr := footer{
		BlobHash:     xxhash.Sum64(iw.data[l.blobOffset : l.blobOffset+l.blobLen]),
		LocationHash: xxhash.Sum64(iw.data[l.locationOffset:l.footerOffset]),
	}
	ftr.encodeTo(iw.data[l.footerOffset:])

	// Flush dirty pages to file (ensures writes visible before unmap)
	if err := iw.mmap.Flush(); err != nil {
		primaryErr := fmt.Errorf("mmap flush failed: %w", err)
		return errors.Join(primaryErr, iw.abort())
	}

	// Nil mmap regardless of outcome to prevent abort() from retrying.
	unmapErr := iw.mmap.Unmap()
	iw.mmap = nil
	if unmapErr != nil {
		primaryErr := fmt.Errorf("mmap unmap failed: %w", unmapErr)
		return errors.Join(primaryErr, iw.abort())
	}

	if err := iw.file.Sync(); err != nil {
		primaryErr := fmt.Errorf("fsync failed: %w", err)
		return errors.Join(primaryErr, iw.abort())
	}
	closeErr := iw.file.Close()
	iw.file = nil
	if closeErr != nil {
		return errors.Join(closeErr, iw.abort())
	}

	if err := os.Rename(iw.tmpPath, iw.path); err != nil {
		primaryErr := fmt.Errorf("rename index into place: %w", err)
		return errors.Join(primaryErr, iw.abort())
	}
	iw.tmpPath = ""
	return nil
}

// abort releases the writer and removes the temp file.
// Idempotent: safe to call multiple times.
func (iw *indexWriter) abort() error {
	var unmapErr error
	if iw.mmap != nil {
		unmapErr = iw.mmap.Unmap()
		iw.mmap = nil
	}
	var closeErr error
	if iw.file != nil {
		closeErr = iw.file.Close()
		iw.file = nil
	}
	var removeErr error
	if iw.tmpPath != "" {
		if err := os.Remove(iw.tmpPath); err != nil && !os.IsNotExist(err) {
			removeErr = err
		}
		iw.tmpPath = ""
	}
	return errors.Join(unmapErr, closeErr, removeErr)
}
