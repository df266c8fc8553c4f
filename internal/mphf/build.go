package mphf

import (
	"cmp"
	"context"
	"encoding/binary"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	ifqerrors "github.com/tamirms/indexedfastq/errors"
	intbits "github.com/tamirms/indexedfastq/internal/bits"
)

// Build constructs a hash function over keys and returns its blob.
//
// keys must be uniformly distributed 128-bit hashes sorted so that
// partitions are contiguous; sorting by K0 is sufficient. Identical keys
// yield ErrIndistinguishableHashes. ErrPilotSearchExhausted means some
// bucket found no free slots for this seed; building again with another
// seed will almost surely succeed. workers > 1 solves partitions in
// parallel.
func Build(ctx context.Context, keys []Key, seed uint64, workers int) ([]byte, error) {
	n := uint64(len(keys))
	if n > MaxKeys {
		return nil, fmt.Errorf("%w: %d keys", ifqerrors.ErrTooManyRecords, n)
	}
	p := numPartitions(n)

	// Partition boundaries, checking routing is monotone.
	bounds := make([]uint64, p+1)
	cur := uint32(0)
	for i, k := range keys {
		part := intbits.FastRange32(k.K0, p)
		if part < cur {
			return nil, fmt.Errorf("%w: key %d routes to partition %d after %d", ifqerrors.ErrUnsortedInput, i, part, cur)
		}
		for cur < part {
			cur++
			bounds[cur] = uint64(i)
		}
	}
	for cur < p {
		cur++
		bounds[cur] = n
	}

	tableEnd := uint64(headerSize) + uint64(p+1)*entrySize
	offsets := make([]uint64, p+1)
	offsets[0] = tableEnd
	for i := uint32(0); i < p; i++ {
		offsets[i+1] = offsets[i] + metaSize(bounds[i+1]-bounds[i])
	}

	blob := make([]byte, offsets[p])
	binary.LittleEndian.PutUint32(blob[0:4], blobMagic)
	binary.LittleEndian.PutUint64(blob[4:12], seed)
	binary.LittleEndian.PutUint64(blob[12:20], n)
	binary.LittleEndian.PutUint32(blob[20:24], p)
	for i := uint32(0); i <= p; i++ {
		e := blob[headerSize+uint64(i)*entrySize:]
		binary.LittleEndian.PutUint64(e[0:8], bounds[i])
		binary.LittleEndian.PutUint64(e[8:16], offsets[i])
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i := uint32(0); i < p; i++ {
		part := keys[bounds[i]:bounds[i+1]]
		meta := blob[offsets[i]:offsets[i+1]]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := solvePartition(part, seed, meta); err != nil {
				return fmt.Errorf("partition %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blob, nil
}

// solvePartition assigns pilots for one partition and writes its metadata
// (pilots then remap table) into meta.
func solvePartition(keys []Key, seed uint64, meta []byte) error {
	m := uint64(len(keys))
	if m == 0 {
		return nil
	}
	numBuckets, numSlots := geometry(m)

	// Counting sort of key indices by bucket.
	starts := make([]uint32, numBuckets+1)
	bucketOf := make([]uint32, m)
	for i, k := range keys {
		b := intbits.FastRange32(k.K1, uint32(numBuckets))
		bucketOf[i] = b
		starts[b+1]++
	}
	for b := uint64(1); b <= numBuckets; b++ {
		starts[b] += starts[b-1]
	}
	members := make([]uint32, m)
	fill := slices.Clone(starts[:numBuckets])
	for i, b := range bucketOf {
		members[fill[b]] = uint32(i)
		fill[b]++
	}

	// Largest buckets first; ties by index keep the build deterministic.
	order := make([]uint32, numBuckets)
	for b := range order {
		order[b] = uint32(b)
	}
	size := func(b uint32) uint32 { return starts[b+1] - starts[b] }
	slices.SortFunc(order, func(a, b uint32) int {
		if c := cmp.Compare(size(b), size(a)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	taken := make([]uint64, (numSlots+63)/64)
	isTaken := func(s uint64) bool { return taken[s/64]&(1<<(s%64)) != 0 }

	folded := make([]uint64, 0, 16)
	slots := make([]uint64, 0, 16)
	for _, b := range order {
		sz := size(b)
		if sz == 0 {
			break
		}
		bucket := members[starts[b]:starts[b+1]]

		folded = folded[:0]
		for i, ki := range bucket {
			for _, kj := range bucket[:i] {
				if keys[ki] == keys[kj] {
					return fmt.Errorf("%w: key %016x%016x", ifqerrors.ErrIndistinguishableHashes, keys[ki].K0, keys[ki].K1)
				}
			}
			folded = append(folded, fold(keys[ki]))
		}

		placed := false
		for pilot := 0; pilot < numPilots && !placed; pilot++ {
			hp := pilotHash(uint16(pilot), seed)
			slots = slots[:0]
			ok := true
			for _, f := range folded {
				s := slotFor(f, hp, numSlots)
				if isTaken(s) || slices.Contains(slots, s) {
					ok = false
					break
				}
				slots = append(slots, s)
			}
			if !ok {
				continue
			}
			for _, s := range slots {
				taken[s/64] |= 1 << (s % 64)
			}
			binary.LittleEndian.PutUint16(meta[2*uint64(b):], uint16(pilot))
			placed = true
		}
		if !placed {
			return fmt.Errorf("%w: bucket of %d keys", ifqerrors.ErrPilotSearchExhausted, sz)
		}
	}

	// Redirect occupied overflow slots to the holes below m, in order.
	remap := meta[2*numBuckets:]
	hole := uint64(0)
	for s := m; s < numSlots; s++ {
		if !isTaken(s) {
			continue
		}
		for isTaken(hole) {
			hole++
		}
		binary.LittleEndian.PutUint32(remap[4*(s-m):], uint32(hole))
		hole++
	}
	return nil
}
