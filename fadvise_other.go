//go:build !linux

package indexedfastq

import "os"

// adviseSequential is a no-op: posix_fadvise is Linux-specific here.
func adviseSequential(f *os.File) {}

// adviseRandom is a no-op on non-Linux platforms.
func adviseRandom(f *os.File) {}
