// Package encoding packs the fixed-width record locations stored in the
// index location array.
//
// WriteLocation uses unsafe native-endian writes and is only correct on
// little-endian architectures (amd64, arm64).
package encoding

import (
	"encoding/binary"
	"unsafe"
)

// LocationSize is the encoded size of one location: a u64 virtual offset
// followed by a u32 byte length.
const LocationSize = 12

// WriteLocation stores a location at slot in the array starting at basePtr.
// Entries are 12 bytes, so the u64 write is 4-byte aligned at best; amd64
// and arm64 both allow that.
func WriteLocation(basePtr unsafe.Pointer, slot int, offset uint64, length uint32) {
	ptr := unsafe.Add(basePtr, slot*LocationSize)
	*(*uint64)(ptr) = offset
	*(*uint32)(unsafe.Add(ptr, 8)) = length
}

// ReadLocation is the safe read counterpart to WriteLocation.
func ReadLocation(buf []byte, slot int) (offset uint64, length uint32) {
	e := buf[slot*LocationSize : (slot+1)*LocationSize]
	return binary.LittleEndian.Uint64(e[0:8]), binary.LittleEndian.Uint32(e[8:12])
}
