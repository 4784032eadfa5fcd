package hfsbtree

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/alexhholmes/hfsbtree/internal/node"
)

func (t *BTree) checkRecord(key, value []byte) error {
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	if len(key) > t.layout.MaxKeyLen {
		return errors.Wrapf(ErrKeyTooLarge, "key is %d bytes, limit %d", len(key), t.layout.MaxKeyLen)
	}
	size := t.layout.SlotLen(len(key)) + len(value)
	if size > t.layout.MaxRecordSize() {
		return errors.Wrapf(ErrRecordTooLarge, "record is %d bytes, limit %d", size, t.layout.MaxRecordSize())
	}
	return nil
}

// reserveSplit makes sure the free count covers the worst case insert: a
// split at every level plus a new root.
func (t *BTree) reserveSplit() error {
	return t.reserve(2*uint32(t.hdr.Depth) + 1)
}

func (t *BTree) insert(c *Cursor, key, value []byte) error {
	if err := t.checkRecord(key, value); err != nil {
		return err
	}
	err := t.find(c, key)
	if err == nil {
		c.release()
		return errors.Wrapf(ErrExists, "key %x", key)
	}
	if !errors.Is(err, ErrNotFound) {
		c.release()
		return err
	}
	if err := t.reserveSplit(); err != nil {
		c.release()
		return err
	}

	n, rec := c.node, c.record
	c.node = nil
	c.release()
	if n == nil {
		// Empty tree, or key below every index key.
		if t.hdr.Root == 0 {
			if err := t.addLevel(nil); err != nil {
				return err
			}
		}
		if n, err = t.getNode(t.hdr.LeafHead); err != nil {
			return err
		}
		rec = -1
	}
	defer t.putNode(n)

	return t.insertAt(n, rec+1, t.layout.EncodeKey(node.KindLeaf, key), value)
}

// replace stores value under key. The record is validated and split space
// reserved before an existing record is removed, so a failure leaves the
// old record in place.
func (t *BTree) replace(c *Cursor, key, value []byte) error {
	if err := t.checkRecord(key, value); err != nil {
		return err
	}
	err := t.find(c, key)
	if errors.Is(err, ErrNotFound) {
		c.release()
		return t.insert(c, key, value)
	}
	if err != nil {
		c.release()
		return err
	}
	if c.valLen == len(value) {
		c.node.Write(c.valOff, value)
		c.release()
		return nil
	}
	if err := t.reserveSplit(); err != nil {
		c.release()
		return err
	}
	if err := t.remove(c); err != nil {
		return err
	}
	return t.insert(c, key, value)
}

// insertAt inserts an encoded key slot and value as record idx of n,
// splitting n as often as needed, then fixes up the parent level. The caller
// keeps its reference on n.
func (t *BTree) insertAt(n *node.Node, idx int, key, value []byte) error {
	size := len(key) + len(value)
	first := idx == 0

	chain := []*node.Node{n}
	defer func() {
		for _, s := range chain[1:] {
			t.putNode(s)
		}
	}()

	pos := 0
	for !chain[pos].Fits(size) {
		right, toRight, err := t.split(chain[pos], idx, size)
		if err != nil {
			return err
		}
		chain = slices.Insert(chain, pos+1, right)
		if toRight {
			idx -= chain[pos].NumRecs()
			pos++
		}
	}

	target := chain[pos]
	target.InsertRecord(idx, key, value)
	if target.Kind() == node.KindLeaf {
		t.hdr.LeafCount++
	}

	if first && pos == 0 {
		if err := t.updateParentKey(n); err != nil {
			return err
		}
	}
	for i := 1; i < len(chain); i++ {
		if err := t.linkSibling(chain[i-1], chain[i]); err != nil {
			return err
		}
	}
	return nil
}

// split moves the upper records of n into a new right sibling, choosing the
// split point that best balances both halves once a record of size bytes is
// inserted at idx. It reports whether idx now falls into the new sibling.
func (t *BTree) split(n *node.Node, idx, size int) (*node.Node, bool, error) {
	num := n.NumRecs()
	sizes := slices.Insert(n.RecordSizes(), idx, size+2)
	total := 0
	for _, s := range sizes {
		total += s
	}

	capacity := t.layout.NodeSize - node.DescSize - 2
	best, bestDiff, left := -1, 0, 0
	for s := 1; s <= num; s++ {
		left += sizes[s-1]
		right := total - left
		if left > capacity || right > capacity {
			continue
		}
		diff := left - right
		if diff < 0 {
			diff = -diff
		}
		if best < 0 || diff < bestDiff {
			best, bestDiff = s, diff
		}
	}
	if best < 0 {
		// No single split fits both halves; cut next to the new record and
		// let the caller split again.
		if idx >= num-idx {
			best = idx
		} else {
			best = idx + 1
		}
	}
	toRight := idx >= best
	keep := best
	if !toRight {
		keep = best - 1
	}

	right, err := t.allocNode(n.Kind(), n.Height())
	if err != nil {
		return nil, false, err
	}
	var next *node.Node
	if n.Next() != 0 {
		if next, err = t.getNode(n.Next()); err != nil {
			right.MarkDeleted()
			t.putNode(right)
			return nil, false, err
		}
	}

	n.MoveTail(right, keep)
	right.SetPrev(n.ID)
	right.SetNext(n.Next())
	n.SetNext(right.ID)
	right.Parent = n.Parent
	if next != nil {
		next.SetPrev(right.ID)
		t.putNode(next)
	} else if n.Kind() == node.KindLeaf {
		t.hdr.LeafTail = right.ID
	}
	return right, toRight, nil
}

// linkSibling adds the index record for right, a fresh sibling of left,
// right after left's own record. A root split grows the tree first.
func (t *BTree) linkSibling(left, right *node.Node) error {
	p, i, err := t.locateParent(left)
	if err != nil {
		return err
	}
	if p == nil {
		if err := t.addLevel(left); err != nil {
			return err
		}
		if p, i, err = t.locateParent(left); err != nil {
			return err
		}
	}
	defer t.putNode(p)

	right.Parent = p.ID
	return t.insertAt(p, i+1, t.layout.EncodeKey(node.KindIndex, right.Key(0)), node.IndexValue(right.ID))
}

// locateParent returns the pinned parent of n and the index of the record
// pointing at n, or nil for the root. The cached parent hint is used when it
// still holds; otherwise the parent is found by descending with n's last key.
func (t *BTree) locateParent(n *node.Node) (*node.Node, int, error) {
	if n.ID == t.hdr.Root {
		return nil, -1, nil
	}
	want := n.Height() + 1

	if n.Parent != 0 {
		if p, err := t.getNode(n.Parent); err == nil {
			if p.Kind() == node.KindIndex && p.Height() == want && !p.Deleted() {
				if i := p.FindChild(n.ID); i >= 0 {
					return p, i, nil
				}
			}
			t.putNode(p)
		}
	}

	if n.NumRecs() == 0 {
		return nil, -1, t.corrupt("no key to locate the parent of empty %s", n)
	}
	key := n.Key(n.NumRecs() - 1)
	id := t.hdr.Root
	for height := uint8(t.hdr.Depth); ; height-- {
		p, err := t.getNode(id)
		if err != nil {
			return nil, -1, err
		}
		if p.Kind() != node.KindIndex || p.Height() != height || height < want {
			t.putNode(p)
			return nil, -1, t.corrupt("%s on the path to the parent of %s", p, n)
		}
		if height == want {
			i := p.FindChild(n.ID)
			if i < 0 {
				t.putNode(p)
				return nil, -1, t.corrupt("%s is not referenced by its parent %s", n, p)
			}
			n.Parent = p.ID
			return p, i, nil
		}

		rec, _ := t.findInNode(p, key)
		if rec < 0 {
			rec = 0
		}
		id = p.Child(rec)
		t.putNode(p)
	}
}

// updateParentKey rewrites the index record pointing at n after n's first
// key changed, continuing upward while the rewritten record is the first of
// its node.
func (t *BTree) updateParentKey(n *node.Node) error {
	p, i, err := t.locateParent(n)
	if p == nil {
		return err
	}
	defer t.putNode(p)

	key := t.layout.EncodeKey(node.KindIndex, n.Key(0))
	if len(key) != p.KeyLen(i) {
		p.RemoveRecord(i)
		return t.insertAt(p, i, key, node.IndexValue(n.ID))
	}
	p.OverwriteKey(i, key)
	if i == 0 {
		return t.updateParentKey(p)
	}
	return nil
}

// addLevel grows the tree by one level. On an empty tree it creates the root
// leaf; otherwise the new root gets a single record pointing at the old one.
func (t *BTree) addLevel(old *node.Node) error {
	if old == nil {
		root, err := t.allocNode(node.KindLeaf, 1)
		if err != nil {
			return err
		}
		t.hdr.Root, t.hdr.Depth = root.ID, 1
		t.hdr.LeafHead, t.hdr.LeafTail = root.ID, root.ID
		t.putNode(root)
		return nil
	}

	root, err := t.allocNode(node.KindIndex, uint8(t.hdr.Depth+1))
	if err != nil {
		return err
	}
	root.InsertRecord(0, t.layout.EncodeKey(node.KindIndex, old.Key(0)), node.IndexValue(old.ID))
	old.Parent = root.ID
	t.hdr.Root = root.ID
	t.hdr.Depth++
	t.putNode(root)
	if t.hdr.Depth > MaxDepth {
		t.log.Warn("b*tree depth exceeds open limit", "depth", t.hdr.Depth)
	}
	return nil
}
