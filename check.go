package hfsbtree

import (
	"github.com/pkg/errors"

	"github.com/alexhholmes/hfsbtree/internal/node"
)

// CheckStats summarizes a consistency check.
type CheckStats struct {
	Levels    int
	Nodes     int // index and leaf nodes
	Leaves    int
	Records   int
	MapNodes  int
	UsedNodes int // bits set in the allocation map
}

// Check walks every level of the tree and the allocation map and verifies
// their structural invariants:
//   - node kinds and heights match their level, no node is empty
//   - keys ascend strictly within and across the nodes of a level
//   - every index record carries the first key of its child
//   - sibling links match the level order, leaf head and tail match the ends
//   - the leaf record count matches the header
//   - the bitmap marks exactly the reachable nodes and free_nodes agrees
func (t *BTree) Check() (CheckStats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return CheckStats{}, ErrTreeClosed
	}
	st, err := t.check()
	if err != nil {
		t.log.Warn("b*tree check failed", "error", err)
	}
	return st, err
}

func (t *BTree) check() (CheckStats, error) {
	var st CheckStats
	h := &t.hdr
	used := map[node.ID]struct{}{0: {}}

	if h.Root == 0 {
		if h.Depth != 0 || h.LeafCount != 0 || h.LeafHead != 0 || h.LeafTail != 0 {
			return st, errors.Wrapf(ErrCorrupt, "empty tree with depth %d, %d records, leaves %d..%d",
				h.Depth, h.LeafCount, h.LeafHead, h.LeafTail)
		}
	} else {
		level := []node.ID{h.Root}
		// firstKeys holds the key each node of the level must start with.
		var firstKeys [][]byte
		for height := int(h.Depth); height >= 1; height-- {
			next, keys, err := t.checkLevel(level, firstKeys, height, used, &st)
			if err != nil {
				return st, err
			}
			st.Levels++
			if height == 1 {
				if level[0] != h.LeafHead || level[len(level)-1] != h.LeafTail {
					return st, errors.Wrapf(ErrCorrupt, "leaf chain %d..%d, header says %d..%d",
						level[0], level[len(level)-1], h.LeafHead, h.LeafTail)
				}
				break
			}
			level, firstKeys = next, keys
		}
		if uint32(st.Records) != h.LeafCount {
			return st, errors.Wrapf(ErrCorrupt, "%d leaf records, header says %d", st.Records, h.LeafCount)
		}
	}

	return st, t.checkBitmap(used, &st)
}

// checkLevel verifies one level and returns the child ids of its records in
// key order, along with the keys pointing at them.
func (t *BTree) checkLevel(level []node.ID, firstKeys [][]byte, height int, used map[node.ID]struct{}, st *CheckStats) ([]node.ID, [][]byte, error) {
	want := node.KindIndex
	if height == 1 {
		want = node.KindLeaf
	}

	var children []node.ID
	var childKeys [][]byte
	var lastKey []byte
	prev := node.ID(0)
	for i, id := range level {
		if id == 0 || uint32(id) >= t.hdr.NodeCount {
			return nil, nil, errors.Wrapf(ErrCorrupt, "level %d references node %d", height, id)
		}
		if _, dup := used[id]; dup {
			return nil, nil, errors.Wrapf(ErrCorrupt, "node %d reached twice", id)
		}
		used[id] = struct{}{}

		n, err := t.getNode(id)
		if err != nil {
			return nil, nil, err
		}
		err = t.checkNode(n, want, height, prev, level, i, firstKeys, lastKey)
		if err == nil {
			lastKey = n.Key(n.NumRecs() - 1)
			for rec := 0; rec < n.NumRecs(); rec++ {
				if want == node.KindIndex {
					children = append(children, n.Child(rec))
					childKeys = append(childKeys, n.Key(rec))
				}
			}
			st.Nodes++
			if want == node.KindLeaf {
				st.Leaves++
				st.Records += n.NumRecs()
			}
		}
		t.putNode(n)
		if err != nil {
			return nil, nil, err
		}
		prev = id
	}
	return children, childKeys, nil
}

func (t *BTree) checkNode(n *node.Node, want node.Kind, height int, prev node.ID, level []node.ID, i int, firstKeys [][]byte, lastKey []byte) error {
	if n.Kind() != want || int(n.Height()) != height {
		return errors.Wrapf(ErrCorrupt, "%s at level %d, expected %s", n, height, want)
	}
	if n.NumRecs() == 0 {
		return errors.Wrapf(ErrCorrupt, "%s is empty", n)
	}
	if n.Prev() != prev {
		return errors.Wrapf(ErrCorrupt, "%s: prev is %d, expected %d", n, n.Prev(), prev)
	}
	var next node.ID
	if i+1 < len(level) {
		next = level[i+1]
	}
	if n.Next() != next {
		return errors.Wrapf(ErrCorrupt, "%s: next is %d, expected %d", n, n.Next(), next)
	}
	if firstKeys != nil && t.cmp.Compare(n.Key(0), firstKeys[i]) != 0 {
		return errors.Wrapf(ErrCorrupt, "%s starts with %x, parent record says %x", n, n.Key(0), firstKeys[i])
	}
	if lastKey != nil && t.cmp.Compare(lastKey, n.Key(0)) >= 0 {
		return errors.Wrapf(ErrCorrupt, "%s starts at %x, not above its left sibling's %x", n, n.Key(0), lastKey)
	}
	for rec := 1; rec < n.NumRecs(); rec++ {
		if t.cmp.Compare(n.Key(rec-1), n.Key(rec)) >= 0 {
			return errors.Wrapf(ErrCorrupt, "%s: record %d key %x out of order", n, rec, n.Key(rec))
		}
	}
	return nil
}

// checkBitmap compares the allocation map with the set of reachable nodes.
func (t *BTree) checkBitmap(used map[node.ID]struct{}, st *CheckStats) error {
	chain := []node.ID{0}
	for id := node.ID(0); ; {
		n, err := t.getNode(id)
		if err != nil {
			return err
		}
		if id != 0 && n.Kind() != node.KindMap {
			t.putNode(n)
			return errors.Wrapf(ErrCorrupt, "allocation map chain reaches %s", n)
		}
		id = n.Next()
		t.putNode(n)
		if id == 0 {
			break
		}
		if _, dup := used[id]; dup {
			return errors.Wrapf(ErrCorrupt, "map node %d is reached twice", id)
		}
		used[id] = struct{}{}
		chain = append(chain, id)
		st.MapNodes++
	}

	var base uint32
	for _, id := range chain {
		n, err := t.getNode(id)
		if err != nil {
			return err
		}
		off, length, err := mapRecord(n)
		if err != nil {
			t.putNode(n)
			return err
		}
		bitmap := n.ReadBytes(off, length)
		t.putNode(n)

		for bit := 0; bit < length*8; bit++ {
			if bitmap[bit/8]&(0x80>>(bit%8)) == 0 {
				continue
			}
			nid := node.ID(base + uint32(bit))
			if uint32(nid) >= t.hdr.NodeCount {
				return errors.Wrapf(ErrCorrupt, "node %d beyond node count %d is marked used", nid, t.hdr.NodeCount)
			}
			if _, ok := used[nid]; !ok {
				return errors.Wrapf(ErrCorrupt, "node %d is marked used but unreachable", nid)
			}
			delete(used, nid)
			st.UsedNodes++
		}
		base += uint32(length * 8)
	}

	for id := range used {
		return errors.Wrapf(ErrCorrupt, "node %d is in use but marked free", id)
	}
	if free := t.hdr.NodeCount - uint32(st.UsedNodes); free != t.hdr.FreeNodes {
		return errors.Wrapf(ErrCorrupt, "%d free nodes in the map, header says %d", free, t.hdr.FreeNodes)
	}
	return nil
}
