//go:build !linux

package indexedfastq

// prefaultRegion is a no-op on non-Linux platforms.
func prefaultRegion(data []byte) {}

// adviseWillNeed is a no-op on non-Linux platforms.
func adviseWillNeed(data []byte) {}
