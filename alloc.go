package hfsbtree

import (
	"math/bits"

	"github.com/pkg/errors"

	"github.com/alexhholmes/hfsbtree/internal/node"
)

// The allocation bitmap starts in record 2 of the header node and continues
// in record 0 of each map node on the header's next chain. Bit i (MSB first)
// of the concatenated records is set when node i is in use.

// mapRecord returns the offset and length of the bitmap record held by n.
func mapRecord(n *node.Node) (off, length int, err error) {
	switch n.Kind() {
	case node.KindHeader:
		if n.NumRecs() < headerRecCount {
			return 0, 0, errors.Wrapf(ErrCorrupt, "%s: %d records", n, n.NumRecs())
		}
		length, off = n.LenOff(2)
	case node.KindMap:
		if n.NumRecs() < 1 {
			return 0, 0, errors.Wrapf(ErrCorrupt, "%s: no bitmap record", n)
		}
		length, off = n.LenOff(0)
	default:
		return 0, 0, errors.Wrapf(ErrCorrupt, "%s in allocation map chain", n)
	}
	if length == 0 {
		return 0, 0, errors.Wrapf(ErrCorrupt, "%s: empty bitmap record", n)
	}
	return off, length, nil
}

func (t *BTree) clumpNodes() uint32 {
	c := t.hdr.ClumpSize / uint32(t.layout.NodeSize)
	return max(c, 1)
}

// reserve makes sure at least want nodes are free, growing the store by
// whole clumps. When a clump does not fit, it retries with exactly what is
// missing.
func (t *BTree) reserve(want uint32) error {
	for t.hdr.FreeNodes < want {
		missing := want - t.hdr.FreeNodes
		err := t.growNodes(t.hdr.NodeCount + max(t.clumpNodes(), missing))
		if errors.Is(err, ErrNoSpace) {
			err = t.growNodes(t.hdr.NodeCount + missing)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// growNodes extends the store to hold count nodes.
func (t *BTree) growNodes(count uint32) error {
	if count <= t.hdr.NodeCount {
		return nil
	}
	ppn := uint64(t.layout.PagesPerNode())
	if err := t.store.Grow(uint64(count) * ppn); err != nil {
		t.log.Warn("grow b*tree", "nodes", count, "error", err)
		return errors.Wrapf(err, "grow to %d nodes", count)
	}
	t.hdr.FreeNodes += count - t.hdr.NodeCount
	t.hdr.NodeCount = count
	t.log.Info("grew b*tree", "nodes", count, "free", t.hdr.FreeNodes)
	return nil
}

// allocID claims the first free node id in the bitmap.
func (t *BTree) allocID() (node.ID, error) {
	if err := t.reserve(1); err != nil {
		return 0, err
	}

	n, err := t.getNode(0)
	if err != nil {
		return 0, err
	}
	var base uint32
	for {
		off, length, err := mapRecord(n)
		if err != nil {
			t.putNode(n)
			return 0, err
		}

		for i := 0; i < length; i++ {
			b := n.U8(off + i)
			if b == 0xFF {
				continue
			}
			bit := bits.LeadingZeros8(^b)
			id := base + uint32(i*8+bit)
			n.PutU8(off+i, b|0x80>>bit)
			t.putNode(n)
			t.hdr.FreeNodes--

			if id >= t.hdr.NodeCount {
				t.log.Warn("allocated node beyond node count", "node", id, "nodes", t.hdr.NodeCount)
				if err := t.growNodes(id + 1); err != nil {
					return 0, err
				}
			}
			return node.ID(id), nil
		}
		base += uint32(length * 8)

		var next *node.Node
		if n.Next() == 0 {
			next, err = t.newMapNode(n, base)
		} else {
			next, err = t.getNode(n.Next())
			if err == nil && next.Kind() != node.KindMap {
				t.putNode(next)
				err = t.corrupt("allocation map chain reaches %s", next)
			}
		}
		t.putNode(n)
		if err != nil {
			return 0, err
		}
		n = next
	}
}

// allocNode claims a node id and returns a pinned, initialized node.
func (t *BTree) allocNode(kind node.Kind, height uint8) (*node.Node, error) {
	id, err := t.allocID()
	if err != nil {
		return nil, err
	}
	n, err := t.cache.Create(id)
	if err != nil {
		return nil, err
	}
	n.Init(kind, height)
	return n, nil
}

// initMapNode formats node id as a map node covering ids starting at id,
// marks itself used and links it after prev.
func (t *BTree) initMapNode(prev *node.Node, id uint32) (*node.Node, error) {
	m, err := t.cache.Create(node.ID(id))
	if err != nil {
		return nil, err
	}
	size := t.layout.NodeSize
	m.Init(node.KindMap, 0)
	m.InsertRecord(0, make([]byte, size-node.DescSize-mapRecTail), nil)
	m.PutU8(node.DescSize, 0x80)
	prev.SetNext(m.ID)
	t.hdr.FreeNodes--
	return m, nil
}

// newMapNode extends an exhausted bitmap chain with a map node whose first
// bit is its own.
func (t *BTree) newMapNode(prev *node.Node, covered uint32) (*node.Node, error) {
	if err := t.growNodes(covered + 1); err != nil {
		return nil, err
	}
	m, err := t.initMapNode(prev, covered)
	if err != nil {
		return nil, err
	}
	t.log.Info("added allocation map node", "node", covered)
	if err := t.reserve(1); err != nil {
		t.putNode(m)
		return nil, err
	}
	return m, nil
}

// freeNode clears id's bit in the bitmap.
func (t *BTree) freeNode(id node.ID) error {
	n, err := t.getNode(0)
	if err != nil {
		return err
	}
	defer func() { t.putNode(n) }()

	bit := uint32(id)
	for {
		off, length, err := mapRecord(n)
		if err != nil {
			return err
		}
		if bit < uint32(length*8) {
			i, mask := off+int(bit/8), byte(0x80)>>(bit%8)
			b := n.U8(i)
			if b&mask == 0 {
				return t.corrupt("freeing node %d which is not in use", id)
			}
			n.PutU8(i, b&^mask)
			t.hdr.FreeNodes++
			return nil
		}
		bit -= uint32(length * 8)

		if n.Next() == 0 {
			return t.corrupt("node %d lies beyond the allocation map", id)
		}
		next, err := t.getNode(n.Next())
		if err != nil {
			return err
		}
		t.putNode(n)
		n = next
		if n.Kind() != node.KindMap {
			return t.corrupt("allocation map chain reaches %s", n)
		}
	}
}
