package node

import (
	"encoding/binary"
	"fmt"
)

// ID identifies a node by its position in the tree file. Node 0 is always
// the header node, so 0 doubles as "no node" in sibling and root links.
type ID uint32

// Kind is the node type stored in the descriptor.
type Kind int8

const (
	KindLeaf   Kind = -1
	KindIndex  Kind = 0
	KindHeader Kind = 1
	KindMap    Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindIndex:
		return "index"
	case KindHeader:
		return "header"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", int8(k))
	}
}

// Descriptor field offsets.
const (
	offNext     = 0
	offPrev     = 4
	offKind     = 8
	offHeight   = 9
	offNumRecs  = 10
	offReserved = 12
)

// Node is the in-memory image of one on-disk node. The bytes live in
// PageSize pages mirroring the store's blocks; every write marks the pages it
// touches dirty. Descriptor fields are cached and written through by their
// setters.
type Node struct {
	ID     ID
	Parent ID // set during descent, never persisted

	next    ID
	prev    ID
	kind    Kind
	height  uint8
	numRecs uint16

	layout  *Layout
	pages   [][]byte
	dirty   []bool
	deleted bool
}

// New returns a zeroed node backed by freshly allocated pages.
func New(id ID, l *Layout) *Node {
	pages := make([][]byte, l.PagesPerNode())
	for i := range pages {
		pages[i] = make([]byte, l.PageSize)
	}
	return &Node{
		ID:     id,
		layout: l,
		pages:  pages,
		dirty:  make([]bool, len(pages)),
	}
}

func (n *Node) Layout() *Layout { return n.layout }
func (n *Node) Next() ID        { return n.next }
func (n *Node) Prev() ID        { return n.prev }
func (n *Node) Kind() Kind      { return n.kind }
func (n *Node) Height() uint8   { return n.height }
func (n *Node) NumRecs() int    { return int(n.numRecs) }

func (n *Node) SetNext(id ID) {
	n.next = id
	n.PutU32(offNext, uint32(id))
}

func (n *Node) SetPrev(id ID) {
	n.prev = id
	n.PutU32(offPrev, uint32(id))
}

func (n *Node) setNumRecs(v int) {
	n.numRecs = uint16(v)
	n.PutU16(offNumRecs, n.numRecs)
}

// Init formats the node as an empty node of the given kind: zeroed bytes,
// a fresh descriptor and a single free space offset.
func (n *Node) Init(kind Kind, height uint8) {
	n.Clear(0, n.layout.NodeSize)
	n.kind = kind
	n.height = height
	n.next, n.prev, n.numRecs = 0, 0, 0
	n.StoreDesc()
	n.setRecOff(0, DescSize)
}

// LoadDesc refreshes the cached descriptor fields from the node bytes.
func (n *Node) LoadDesc() {
	n.next = ID(n.U32(offNext))
	n.prev = ID(n.U32(offPrev))
	n.kind = Kind(int8(n.U8(offKind)))
	n.height = n.U8(offHeight)
	n.numRecs = n.U16(offNumRecs)
}

// StoreDesc writes the cached descriptor fields back into the node bytes.
func (n *Node) StoreDesc() {
	var desc [DescSize]byte
	binary.BigEndian.PutUint32(desc[offNext:], uint32(n.next))
	binary.BigEndian.PutUint32(desc[offPrev:], uint32(n.prev))
	desc[offKind] = byte(n.kind)
	desc[offHeight] = n.height
	binary.BigEndian.PutUint16(desc[offNumRecs:], n.numRecs)
	binary.BigEndian.PutUint16(desc[offReserved:], 0)
	n.Write(0, desc[:])
}

// MarkDeleted flags the node for release once its last reference is put.
func (n *Node) MarkDeleted() { n.deleted = true }
func (n *Node) Deleted() bool { return n.deleted }

// Pages exposes the backing pages for block I/O.
func (n *Node) Pages() [][]byte { return n.pages }

// Dirty reports whether any page was written since the last writeback.
func (n *Node) Dirty() bool {
	for _, d := range n.dirty {
		if d {
			return true
		}
	}
	return false
}

// PageDirty reports whether page i needs writeback.
func (n *Node) PageDirty(i int) bool { return n.dirty[i] }

// ClearDirty marks every page clean.
func (n *Node) ClearDirty() {
	for i := range n.dirty {
		n.dirty[i] = false
	}
}

// MarkDirty flags every page for writeback.
func (n *Node) MarkDirty() {
	for i := range n.dirty {
		n.dirty[i] = true
	}
}

func (n *Node) String() string {
	return fmt.Sprintf("node %d (%s h=%d recs=%d prev=%d next=%d)",
		n.ID, n.kind, n.height, n.numRecs, n.prev, n.next)
}
