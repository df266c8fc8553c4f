//go:build linux

package indexedfastq

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseSequential tells the kernel the build scan reads f front to back.
// Best-effort.
func adviseSequential(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}

// adviseRandom disables readahead for the query path, where every fetch
// touches one or two blocks at an unrelated offset. Best-effort.
func adviseRandom(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_RANDOM)
}
