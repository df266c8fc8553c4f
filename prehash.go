package indexedfastq

import (
	"fmt"
	"unsafe"

	"github.com/spaolacci/murmur3"
	"github.com/zeebo/xxh3"

	ifqerrors "github.com/tamirms/indexedfastq/errors"
	"github.com/tamirms/indexedfastq/internal/mphf"
)

// Hasher selects the 128-bit function that turns record names into the
// uniformly distributed keys the hash function is built over. The choice is
// stored in the index header.
type Hasher uint8

const (
	// HasherXXH3 uses xxHash3-128. Default.
	HasherXXH3 Hasher = iota
	// HasherMurmur3 uses MurmurHash3 x64-128.
	HasherMurmur3
)

func (h Hasher) valid() bool {
	return h <= HasherMurmur3
}

func (h Hasher) String() string {
	switch h {
	case HasherXXH3:
		return "xxh3"
	case HasherMurmur3:
		return "murmur3"
	default:
		return fmt.Sprintf("Hasher(%d)", uint8(h))
	}
}

// ParseHasher is the inverse of Hasher.String.
func ParseHasher(s string) (Hasher, error) {
	switch s {
	case "xxh3", "":
		return HasherXXH3, nil
	case "murmur3":
		return HasherMurmur3, nil
	default:
		return 0, fmt.Errorf("%w: unknown hasher %q", ifqerrors.ErrInvalidOption, s)
	}
}

// prehash maps a record name to its 128-bit key.
func prehash(h Hasher, seed uint64, name string) mphf.Key {
	switch h {
	case HasherMurmur3:
		// murmur3 takes a 32-bit seed; fold the high half in.
		b := unsafe.Slice(unsafe.StringData(name), len(name))
		h1, h2 := murmur3.Sum128WithSeed(b, uint32(seed^(seed>>32)))
		return mphf.Key{K0: h1, K1: h2}
	default:
		v := xxh3.HashString128Seed(name, seed)
		return mphf.Key{K0: v.Lo, K1: v.Hi}
	}
}
