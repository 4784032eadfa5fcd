package hfsbtree

import (
	"github.com/pkg/errors"

	"github.com/alexhholmes/hfsbtree/internal/node"
)

// Cursor is a position in the tree: a pinned node and a record index within
// it. Record -1 means "before the first record" of the node.
//
// A Cursor holds the tree lock from NewCursor until Close, so tree-level
// methods must not be called while one is open.
type Cursor struct {
	tree   *BTree
	search []byte
	node   *node.Node
	record int
	exact  bool

	keyOff, keyLen int
	valOff, valLen int
	done           bool
}

// NewCursor locks the tree and returns an unpositioned cursor.
func (t *BTree) NewCursor() (*Cursor, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTreeClosed
	}
	return &Cursor{tree: t, record: -1}, nil
}

// Close releases the pinned node and the tree lock.
func (c *Cursor) Close() error {
	if c.done {
		return nil
	}
	c.release()
	err := c.tree.releaseFreed()
	c.done = true
	c.tree.mu.Unlock()
	return err
}

func (c *Cursor) release() {
	if c.node != nil {
		c.tree.putNode(c.node)
		c.node = nil
	}
	c.record = -1
	c.exact = false
	c.keyOff, c.keyLen, c.valOff, c.valLen = 0, 0, 0, 0
}

func (c *Cursor) setPosition(n *node.Node, rec int) {
	c.node = n
	c.record = rec
	if rec < 0 {
		c.keyOff, c.keyLen, c.valOff, c.valLen = 0, 0, 0, 0
		return
	}
	length, off := n.LenOff(rec)
	kl := n.KeyLen(rec)
	c.keyOff, c.keyLen = off, kl
	c.valOff, c.valLen = off+kl, length-kl
}

// Find positions the cursor on key. When key is absent it returns
// ErrNotFound and, if a leaf was reached, leaves the cursor on the last
// record smaller than key (or before the first record of that leaf).
func (c *Cursor) Find(key []byte) error {
	if c.done {
		return ErrCursorDone
	}
	c.search = append(c.search[:0], key...)
	return c.tree.find(c, key)
}

// Valid reports whether the cursor sits on a record.
func (c *Cursor) Valid() bool {
	return !c.done && c.node != nil && c.record >= 0 && c.record < c.node.NumRecs()
}

// Exact reports whether the last Find matched its key exactly.
func (c *Cursor) Exact() bool { return c.exact }

// Record returns the record index within the current node.
func (c *Cursor) Record() int { return c.record }

// Node returns the id of the node the cursor is on, 0 if none.
func (c *Cursor) Node() NodeID {
	if c.node == nil {
		return 0
	}
	return c.node.ID
}

// Key returns a copy of the current record's key body.
func (c *Cursor) Key() []byte {
	if !c.Valid() {
		return nil
	}
	return c.node.Key(c.record)
}

// Value returns a copy of the current record's value.
func (c *Cursor) Value() []byte {
	if !c.Valid() {
		return nil
	}
	return c.node.ReadBytes(c.valOff, c.valLen)
}

// Update overwrites the current record's value in place. The new value must
// have the same length as the old one.
func (c *Cursor) Update(value []byte) error {
	if c.done {
		return ErrCursorDone
	}
	if !c.Valid() {
		return ErrNotFound
	}
	if len(value) != c.valLen {
		return errors.Wrapf(ErrValueSize, "value is %d bytes, record holds %d", len(value), c.valLen)
	}
	c.node.Write(c.valOff, value)
	return nil
}

// First positions the cursor on the smallest record.
func (c *Cursor) First() error {
	if c.done {
		return ErrCursorDone
	}
	return c.tree.edge(c, c.tree.hdr.LeafHead, false)
}

// Last positions the cursor on the largest record.
func (c *Cursor) Last() error {
	if c.done {
		return ErrCursorDone
	}
	return c.tree.edge(c, c.tree.hdr.LeafTail, true)
}

// Move steps delta records forward (positive) or backward (negative),
// following leaf sibling links. Running off either end of the tree returns
// ErrNotFound and leaves the cursor where it was.
func (c *Cursor) Move(delta int) error {
	if c.done {
		return ErrCursorDone
	}
	if c.node == nil {
		return ErrNotFound
	}
	t := c.tree
	n, rec := c.node, c.record+delta

	// swap replaces the node we are standing on, keeping c.node pinned
	// until the move succeeds.
	swap := func(id node.ID) error {
		next, err := t.getNode(id)
		if err != nil {
			return err
		}
		if next.Kind() != node.KindLeaf || next.NumRecs() == 0 {
			t.putNode(next)
			return t.corrupt("leaf sibling %s", next)
		}
		if n != c.node {
			t.putNode(n)
		}
		n = next
		return nil
	}
	abort := func(err error) error {
		if n != c.node {
			t.putNode(n)
		}
		return err
	}

	for rec < 0 {
		if n.Prev() == 0 {
			return abort(ErrNotFound)
		}
		if err := swap(n.Prev()); err != nil {
			return abort(err)
		}
		rec += n.NumRecs()
	}
	for rec >= n.NumRecs() {
		if n.Next() == 0 {
			return abort(ErrNotFound)
		}
		rec -= n.NumRecs()
		if err := swap(n.Next()); err != nil {
			return abort(err)
		}
	}

	if n != c.node {
		t.putNode(c.node)
	}
	c.setPosition(n, rec)
	c.exact = true
	return nil
}

// Insert adds a record for key. The cursor is left unpositioned.
func (c *Cursor) Insert(key, value []byte) error {
	if c.done {
		return ErrCursorDone
	}
	return c.tree.insert(c, key, value)
}

// Replace stores value under key whether or not key exists. The cursor is
// left unpositioned.
func (c *Cursor) Replace(key, value []byte) error {
	if c.done {
		return ErrCursorDone
	}
	return c.tree.replace(c, key, value)
}

// Remove deletes the record the cursor sits on. The cursor must be on an
// exact match; afterwards it is unpositioned, so a second Remove returns
// ErrNotFound.
func (c *Cursor) Remove() error {
	if c.done {
		return ErrCursorDone
	}
	return c.tree.remove(c)
}

func (t *BTree) findInNode(n *node.Node, key []byte) (int, bool) {
	b, e := 0, n.NumRecs()-1
	for b <= e {
		mid := (b + e) / 2
		switch cmp := t.cmp.Compare(n.Key(mid), key); {
		case cmp == 0:
			return mid, true
		case cmp < 0:
			b = mid + 1
		default:
			e = mid - 1
		}
	}
	return e, false
}

// find descends from the root to the leaf that should hold key.
func (t *BTree) find(c *Cursor, key []byte) error {
	c.release()
	id := t.hdr.Root
	if id == 0 {
		return ErrNotFound
	}

	var parent node.ID
	for height := int(t.hdr.Depth); ; height-- {
		n, err := t.getNode(id)
		if err != nil {
			return err
		}
		want := node.KindIndex
		if height == 1 {
			want = node.KindLeaf
		}
		if int(n.Height()) != height || n.Kind() != want {
			t.putNode(n)
			return t.corrupt("node %d under %d: %s at height %d, expected %s at height %d",
				id, parent, n.Kind(), n.Height(), want, height)
		}
		n.Parent = parent

		rec, exact := t.findInNode(n, key)
		if height == 1 {
			c.setPosition(n, rec)
			c.exact = exact
			if !exact {
				return ErrNotFound
			}
			return nil
		}
		if rec < 0 {
			t.putNode(n)
			return ErrNotFound
		}

		child := n.Child(rec)
		t.putNode(n)
		if child == 0 || uint32(child) >= t.hdr.NodeCount {
			return t.corrupt("node %d record %d points at node %d", id, rec, child)
		}
		parent, id = id, child
	}
}

// edge positions c on the first or last record of leaf id.
func (t *BTree) edge(c *Cursor, id node.ID, last bool) error {
	c.release()
	if id == 0 {
		return ErrNotFound
	}
	n, err := t.getNode(id)
	if err != nil {
		return err
	}
	if n.Kind() != node.KindLeaf || n.NumRecs() == 0 {
		t.putNode(n)
		return t.corrupt("leaf chain end %s", n)
	}
	rec := 0
	if last {
		rec = n.NumRecs() - 1
	}
	c.setPosition(n, rec)
	c.exact = true
	return nil
}

// Find returns an open cursor positioned on key. The caller must Close it.
// A missing key returns ErrNotFound and no cursor.
func (t *BTree) Find(key []byte) (*Cursor, error) {
	c, err := t.NewCursor()
	if err != nil {
		return nil, err
	}
	if err := c.Find(key); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Get returns a copy of the value stored under key.
func (t *BTree) Get(key []byte) ([]byte, error) {
	c, err := t.Find(key)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Value(), nil
}

// Insert adds a record. Existing keys are rejected with ErrExists.
func (t *BTree) Insert(key, value []byte) error {
	c, err := t.NewCursor()
	if err != nil {
		return err
	}
	err = c.Insert(key, value)
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

// Replace stores value under key, inserting the record when key is absent.
// A failed Replace leaves any existing record untouched.
func (t *BTree) Replace(key, value []byte) error {
	c, err := t.NewCursor()
	if err != nil {
		return err
	}
	err = c.Replace(key, value)
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

// Delete removes the record stored under key.
func (t *BTree) Delete(key []byte) error {
	c, err := t.Find(key)
	if err != nil {
		return err
	}
	err = c.Remove()
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

// Walk calls fn for every record in ascending key order. Returning an error
// from fn stops the walk and returns that error.
func (t *BTree) Walk(fn func(key, value []byte) error) error {
	c, err := t.NewCursor()
	if err != nil {
		return err
	}
	defer c.Close()

	err = c.First()
	for err == nil {
		if err = fn(c.Key(), c.Value()); err != nil {
			return err
		}
		err = c.Move(1)
	}
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Scan calls fn for up to limit records starting at the first key >= start.
// A limit <= 0 means no limit.
func (t *BTree) Scan(start []byte, limit int, fn func(key, value []byte) error) error {
	c, err := t.NewCursor()
	if err != nil {
		return err
	}
	defer c.Close()

	err = c.Find(start)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound) && c.node != nil:
		// Positioned on the last smaller record; step onto the next one.
		err = c.Move(1)
	case errors.Is(err, ErrNotFound):
		// start is below every index key.
		err = c.First()
	}
	for n := 0; err == nil && (limit <= 0 || n < limit); n++ {
		if err = fn(c.Key(), c.Value()); err != nil {
			return err
		}
		err = c.Move(1)
	}
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
