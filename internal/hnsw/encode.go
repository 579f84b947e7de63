package hnsw

import (
	"errors"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/vecgraph/errs"
	"github.com/hupe1980/vecgraph/persistence"
)

// ErrInvalidGraph is returned when a decoded graph references missing nodes.
var ErrInvalidGraph = errors.New("invalid graph encoding")

// Count returns the number of stored nodes, including tombstoned ones.
func (h *HNSW) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// WriteTo encodes the graph, its vectors and tombstones.
func (h *HNSW) WriteTo(w io.Writer) (int64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cw := persistence.NewChecksumWriter(w)
	bw := persistence.NewBinaryWriter(cw)

	bw.WriteUint32(uint32(h.opts.M))
	bw.WriteUint32(uint32(h.opts.EFConstruction))
	bw.WriteUint32(h.entryPoint)
	bw.WriteUint32(uint32(h.maxLevel + 1))
	bw.WriteUint64(uint64(len(h.nodes)))

	for _, n := range h.nodes {
		bw.WriteUint64(n.id)
		bw.WriteUint64(n.version)
		bw.WriteUint8(uint8(n.level))
		bw.WriteFloat32Slice(n.vector)
		for l := 0; l <= n.level; l++ {
			bw.WriteUint32Slice(n.friends[l])
		}
	}

	tb, err := h.tombstones.ToBytes()
	if err != nil {
		return cw.Count(), err
	}
	bw.WriteBytes(tb)

	return cw.Count(), bw.Err()
}

// ReadFrom decodes a graph written by WriteTo into h, which must be empty.
// Structural damage is reported as ErrInvalidGraph or persistence.ErrTruncated;
// a graph built with a different M matches errs.ErrIncompatibleFormat.
func (h *HNSW) ReadFrom(r io.Reader) error {
	br := persistence.NewBinaryReader(r)

	m := int(br.ReadUint32())
	_ = br.ReadUint32() // efConstruction used at build time
	entry := br.ReadUint32()
	levels := int(br.ReadUint32())
	count := br.ReadUint64()
	if err := br.Err(); err != nil {
		return err
	}
	if m != h.opts.M {
		return fmt.Errorf("%w: encoded with M=%d, index uses M=%d", errs.ErrIncompatibleFormat, m, h.opts.M)
	}
	if levels > maxLevel+1 || count > 1<<32 {
		return fmt.Errorf("%w: %d levels, %d nodes", ErrInvalidGraph, levels, count)
	}

	nodes := make([]*node, 0, count)
	lookup := make(map[uint64]uint32, count)
	for i := uint64(0); i < count; i++ {
		n := &node{
			id:      br.ReadUint64(),
			version: br.ReadUint64(),
			level:   int(br.ReadUint8()),
		}
		if n.level > maxLevel {
			return fmt.Errorf("%w: node %d has level %d", ErrInvalidGraph, i, n.level)
		}
		n.vector = br.ReadFloat32Slice(h.opts.Dimension)
		n.friends = make([][]uint32, n.level+1)
		for l := 0; l <= n.level; l++ {
			n.friends[l] = br.ReadUint32Slice(h.mmax0)
		}
		if err := br.Err(); err != nil {
			return err
		}
		nodes = append(nodes, n)
		lookup[n.id] = uint32(i)
	}

	for i, n := range nodes {
		for l, friends := range n.friends {
			for _, f := range friends {
				if uint64(f) >= count || nodes[f].level < l {
					return fmt.Errorf("%w: node %d links to %d on level %d", ErrInvalidGraph, i, f, l)
				}
			}
		}
	}

	tombstones := roaring.New()
	if err := tombstones.UnmarshalBinary(br.ReadBytes(int(count*2 + 1<<16))); err != nil {
		if br.Err() != nil {
			return br.Err()
		}
		return fmt.Errorf("%w: tombstones: %v", ErrInvalidGraph, err)
	}

	it := tombstones.Iterator()
	for it.HasNext() {
		internal := it.Next()
		if uint64(internal) >= count {
			return fmt.Errorf("%w: tombstone %d out of range", ErrInvalidGraph, internal)
		}
		if cur, ok := lookup[nodes[internal].id]; ok && cur == internal {
			delete(lookup, nodes[internal].id)
		}
	}

	if levels > 0 && uint64(entry) >= count {
		return fmt.Errorf("%w: entry point %d out of range", ErrInvalidGraph, entry)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.nodes) != 0 {
		return fmt.Errorf("%w: decode target is not empty", ErrInvalidGraph)
	}
	h.nodes = nodes
	h.lookup = lookup
	h.tombstones = tombstones
	h.entryPoint = entry
	h.maxLevel = levels - 1
	h.generation++
	return nil
}
