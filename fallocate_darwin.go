//go:build darwin

package indexedfastq

import (
	"os"

	"golang.org/x/sys/unix"
)

// fallocateFile reserves the index file's blocks with F_PREALLOCATE, then
// sets its length.
func fallocateFile(file *os.File, size int64) error {
	fst := unix.Fstore_t{
		Flags:   unix.F_ALLOCATEALL,
		Posmode: unix.F_PEOFPOSMODE,
		Length:  size,
	}
	// Reservation is best-effort; the length is set either way.
	_ = unix.FcntlFstore(file.Fd(), unix.F_PREALLOCATE, &fst)
	return unix.Ftruncate(int(file.Fd()), size)
}
