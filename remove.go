package hfsbtree

import (
	"github.com/alexhholmes/hfsbtree/internal/node"
)

func (t *BTree) remove(c *Cursor) error {
	if !c.Valid() || !c.exact {
		c.release()
		return ErrNotFound
	}
	n, rec := c.node, c.record
	c.node = nil
	c.release()
	defer t.putNode(n)

	return t.removeAt(n, rec)
}

// removeAt deletes record rec of n. A node left without records is unlinked
// and its parent record removed in turn; nodes are never merged.
func (t *BTree) removeAt(n *node.Node, rec int) error {
	if n.Kind() == node.KindLeaf {
		t.hdr.LeafCount--
	}

	if n.NumRecs() == 1 {
		// Find the parent while n still has a key to search with.
		p, i, err := t.locateParent(n)
		if err != nil {
			return err
		}
		n.RemoveRecord(0)
		if err := t.unlink(n); err != nil {
			t.putNode(p)
			return err
		}
		if p == nil {
			return nil
		}
		defer t.putNode(p)
		return t.removeAt(p, i)
	}

	n.RemoveRecord(rec)
	if rec == 0 {
		return t.updateParentKey(n)
	}
	return nil
}

// unlink takes an empty node out of its sibling chain and marks it deleted.
// Its id is freed once the last reference goes away.
func (t *BTree) unlink(n *node.Node) error {
	leaf := n.Kind() == node.KindLeaf

	if n.Prev() != 0 {
		prev, err := t.getNode(n.Prev())
		if err != nil {
			return err
		}
		prev.SetNext(n.Next())
		t.putNode(prev)
	} else if leaf {
		t.hdr.LeafHead = n.Next()
	}

	if n.Next() != 0 {
		next, err := t.getNode(n.Next())
		if err != nil {
			return err
		}
		next.SetPrev(n.Prev())
		t.putNode(next)
	} else if leaf {
		t.hdr.LeafTail = n.Prev()
	}

	if n.ID == t.hdr.Root {
		t.hdr.Root, t.hdr.Depth = 0, 0
		t.hdr.LeafHead, t.hdr.LeafTail = 0, 0
	}
	n.MarkDeleted()
	return nil
}
