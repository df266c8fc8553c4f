//go:build linux

package indexedfastq

import (
	"os"

	"golang.org/x/sys/unix"
)

// fallocateFile reserves the index file's blocks up front so that a full
// disk fails here rather than as SIGBUS while writing through the mapping.
func fallocateFile(file *os.File, size int64) error {
	fd := int(file.Fd())
	if err := unix.Fallocate(fd, 0, 0, size); err == nil {
		// Mode 0 extends the file length as well.
		return nil
	}
	// NFS and some filesystems lack fallocate.
	return unix.Ftruncate(fd, size)
}
