// Package mphf implements a static minimal perfect hash function over
// 128-bit prehashed keys, in the PTRHash family.
//
// Keys are split into partitions of about PartitionKeys keys by the high
// bits of K0, so keys sorted by K0 arrive partition by partition. Inside a
// partition of m keys, each key falls into one of B = ceil(m/3) buckets by
// K1. Every bucket stores a 16-bit pilot chosen so that all keys of the
// partition land on distinct slots in [0, S), S = max(m, ceil(m/0.98)).
// The few keys that land in [m, S) are redirected to the unused slots of
// [0, m) through a remap table.
//
// Blob layout (little-endian):
//
//	magic      u32
//	seed       u64
//	n          u64
//	P          u32
//	table      (P+1) x (keysBefore u64, metaOffset u64)
//	metadata   per partition: pilots u16 x B, remap u32 x (S-m)
//
// metaOffset is relative to the start of the blob. Evaluating a key that
// was not in the build set returns some slot in [0, n).
package mphf

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	ifqerrors "github.com/tamirms/indexedfastq/errors"
	intbits "github.com/tamirms/indexedfastq/internal/bits"
)

const (
	// PartitionKeys is the target number of keys per partition.
	PartitionKeys = 32768

	// MaxKeys bounds the key count so partition indices fit in 32 bits.
	MaxKeys = 1 << 40

	blobMagic  = 0x31485050 // "PPH1"
	headerSize = 4 + 8 + 8 + 4
	entrySize  = 16

	numPilots = 1 << 16

	// pilotHashC is the PTRHash pilot mixing constant.
	pilotHashC = 0x517cc1b727220a95
)

// Key is a 128-bit prehashed key.
type Key struct {
	K0, K1 uint64
}

// geometry returns the bucket and slot counts for a partition of m keys.
// Integer forms of ceil(m/3) and ceil(m/0.98).
func geometry(m uint64) (numBuckets, numSlots uint64) {
	numBuckets = (m + 2) / 3
	numSlots = max(m, (m*50+48)/49)
	return numBuckets, numSlots
}

func metaSize(m uint64) uint64 {
	b, s := geometry(m)
	return 2*b + 4*(s-m)
}

// numPartitions returns the partition count for n keys.
func numPartitions(n uint64) uint32 {
	if n == 0 {
		return 0
	}
	return uint32((n + PartitionKeys - 1) / PartitionKeys)
}

// pilotHash maps a pilot to an odd 64-bit multiplier. The SplitMix64
// finalizer keeps neighbouring pilots uncorrelated.
func pilotHash(pilot uint16, seed uint64) uint64 {
	x := pilotHashC * (uint64(pilot) ^ seed)
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x | 1
}

// fold mixes both key halves into the slot input, so two keys collide on
// every pilot only if all 128 bits match.
func fold(k Key) uint64 {
	h := k.K0 ^ k.K1
	return h ^ (h >> 32)
}

func slotFor(folded, hp, numSlots uint64) uint64 {
	hi, _ := bits.Mul64(folded*hp, numSlots)
	return hi
}

// Function evaluates a built hash function. It only reads its blob and is
// safe for concurrent use.
type Function struct {
	blob []byte
	seed uint64
	n    uint64
	p    uint32
}

// New decodes and validates blob. The Function aliases blob, which must
// stay valid and unmodified while the Function is in use.
func New(blob []byte) (*Function, error) {
	if len(blob) < headerSize+entrySize {
		return nil, fmt.Errorf("%w: hash blob of %d bytes", ifqerrors.ErrCorruptIndex, len(blob))
	}
	if m := binary.LittleEndian.Uint32(blob[0:4]); m != blobMagic {
		return nil, fmt.Errorf("%w: hash blob magic 0x%08x", ifqerrors.ErrCorruptIndex, m)
	}
	f := &Function{
		blob: blob,
		seed: binary.LittleEndian.Uint64(blob[4:12]),
		n:    binary.LittleEndian.Uint64(blob[12:20]),
		p:    binary.LittleEndian.Uint32(blob[20:24]),
	}
	if f.n > MaxKeys || f.p != numPartitions(f.n) {
		return nil, fmt.Errorf("%w: %d partitions for %d keys", ifqerrors.ErrCorruptIndex, f.p, f.n)
	}
	tableEnd := uint64(headerSize) + uint64(f.p+1)*entrySize
	if tableEnd > uint64(len(blob)) {
		return nil, fmt.Errorf("%w: partition table exceeds hash blob", ifqerrors.ErrCorruptIndex)
	}

	prevKeys, prevOff := f.entry(0)
	if prevKeys != 0 || prevOff != tableEnd {
		return nil, fmt.Errorf("%w: bad first partition entry", ifqerrors.ErrCorruptIndex)
	}
	for i := uint32(1); i <= f.p; i++ {
		keys, off := f.entry(i)
		if keys < prevKeys || keys > f.n {
			return nil, fmt.Errorf("%w: partition %d key count out of range", ifqerrors.ErrCorruptIndex, i-1)
		}
		m := keys - prevKeys
		if m > uint64(len(blob)) || off < prevOff || off-prevOff != metaSize(m) || off > uint64(len(blob)) {
			return nil, fmt.Errorf("%w: partition %d metadata out of range", ifqerrors.ErrCorruptIndex, i-1)
		}
		if err := checkRemap(blob[prevOff:off], m); err != nil {
			return nil, fmt.Errorf("partition %d: %w", i-1, err)
		}
		prevKeys, prevOff = keys, off
	}
	if prevKeys != f.n || prevOff != uint64(len(blob)) {
		return nil, fmt.Errorf("%w: partition table does not cover hash blob", ifqerrors.ErrCorruptIndex)
	}
	return f, nil
}

func checkRemap(meta []byte, m uint64) error {
	b, s := geometry(m)
	remap := meta[2*b:]
	for i := uint64(0); i < s-m; i++ {
		if v := binary.LittleEndian.Uint32(remap[4*i:]); uint64(v) >= m {
			return fmt.Errorf("%w: remap entry %d points to slot %d of %d", ifqerrors.ErrCorruptIndex, i, v, m)
		}
	}
	return nil
}

func (f *Function) entry(i uint32) (keysBefore, metaOffset uint64) {
	e := f.blob[headerSize+uint64(i)*entrySize:]
	return binary.LittleEndian.Uint64(e[0:8]), binary.LittleEndian.Uint64(e[8:16])
}

// Len returns the number of keys the function was built over.
func (f *Function) Len() uint64 {
	return f.n
}

// Seed returns the pilot seed the build settled on.
func (f *Function) Seed() uint64 {
	return f.seed
}

// Slot returns the slot of k in [0, Len()). Distinct build keys map to
// distinct slots.
func (f *Function) Slot(k Key) uint64 {
	if f.n == 0 {
		return 0
	}
	p := intbits.FastRange32(k.K0, f.p)
	base, off := f.entry(p)
	next, _ := f.entry(p + 1)
	m := next - base
	if m == 0 {
		return intbits.FastRange64(k.K0^k.K1, f.n)
	}

	numBuckets, numSlots := geometry(m)
	meta := f.blob[off:]
	bucket := uint64(intbits.FastRange32(k.K1, uint32(numBuckets)))
	pilot := binary.LittleEndian.Uint16(meta[2*bucket:])

	slot := slotFor(fold(k), pilotHash(pilot, f.seed), numSlots)
	if slot >= m {
		slot = uint64(binary.LittleEndian.Uint32(meta[2*numBuckets+4*(slot-m):]))
	}
	return base + slot
}
