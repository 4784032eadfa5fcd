package node

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Records grow upward from DescSize; their start offsets live in a table
// growing downward from the end of the node. Entry i is at
// NodeSize-2*(i+1) and entry NumRecs marks the start of free space.

func (n *Node) offsetPos(rec int) int {
	return n.layout.NodeSize - 2*(rec+1)
}

// RecOff returns the start offset of record rec. RecOff(NumRecs) is the
// start of free space.
func (n *Node) RecOff(rec int) int {
	return int(n.U16(n.offsetPos(rec)))
}

func (n *Node) setRecOff(rec, off int) {
	n.PutU16(n.offsetPos(rec), uint16(off))
}

// LenOff returns the length and offset of record rec.
func (n *Node) LenOff(rec int) (length, off int) {
	off = n.RecOff(rec)
	return n.RecOff(rec+1) - off, off
}

// FreeSpace is the number of bytes available for one more record once its
// offset table entry is accounted for.
func (n *Node) FreeSpace() int {
	return n.offsetPos(n.NumRecs()) - 2 - n.RecOff(n.NumRecs())
}

// Fits reports whether a record of size bytes can be inserted without a split.
func (n *Node) Fits(size int) bool {
	return size <= n.FreeSpace()
}

func (n *Node) keyBodyLen(off int) int {
	if n.layout.BigKeys {
		return int(n.U16(off))
	}
	return int(n.U8(off))
}

// KeyLen returns the size of record rec's key slot, or 0 when the node holds
// no keyed records or the stored key length is out of range.
func (n *Node) KeyLen(rec int) int {
	if n.kind != KindLeaf && n.kind != KindIndex {
		return 0
	}
	l := n.layout
	if n.kind == KindIndex && !l.VarIndexKeys {
		return l.IndexKeySlot()
	}
	body := n.keyBodyLen(n.RecOff(rec))
	if body > l.MaxKeyLen {
		return 0
	}
	return l.SlotLen(body)
}

// Key returns a copy of record rec's key body.
func (n *Node) Key(rec int) []byte {
	off := n.RecOff(rec)
	return n.ReadBytes(off+n.layout.PrefixLen(), n.keyBodyLen(off))
}

// KeySlot returns a copy of record rec's key slot as stored.
func (n *Node) KeySlot(rec int) []byte {
	return n.ReadBytes(n.RecOff(rec), n.KeyLen(rec))
}

// Value returns a copy of record rec's value.
func (n *Node) Value(rec int) []byte {
	length, off := n.LenOff(rec)
	kl := n.KeyLen(rec)
	return n.ReadBytes(off+kl, length-kl)
}

// Child returns the node id an index record points at.
func (n *Node) Child(rec int) ID {
	return ID(n.U32(n.RecOff(rec) + n.KeyLen(rec)))
}

// FindChild returns the index of the record pointing at id, or -1.
func (n *Node) FindChild(id ID) int {
	if n.kind != KindIndex {
		return -1
	}
	for i := 0; i < n.NumRecs(); i++ {
		if n.Child(i) == id {
			return i
		}
	}
	return -1
}

// IndexValue encodes a child pointer as stored in an index record.
func IndexValue(id ID) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(id))
	return b[:]
}

// InsertRecord inserts key (an encoded slot) and value as record rec,
// shifting later records and their offsets. The caller checks Fits first.
func (n *Node) InsertRecord(rec int, key, value []byte) {
	size := len(key) + len(value)
	num := n.NumRecs()
	end := n.RecOff(num)
	dataOff := n.RecOff(rec)
	for i := num; i >= rec; i-- {
		n.setRecOff(i+1, n.RecOff(i)+size)
	}
	n.Move(dataOff+size, dataOff, end-dataOff)
	n.Write(dataOff, key)
	n.Write(dataOff+len(key), value)
	n.setNumRecs(num + 1)
}

// RemoveRecord deletes record rec and closes the gap.
func (n *Node) RemoveRecord(rec int) {
	num := n.NumRecs()
	size, off := n.LenOff(rec)
	end := n.RecOff(num)
	n.Move(off, off+size, end-off-size)
	for i := rec + 1; i <= num; i++ {
		n.setRecOff(i-1, n.RecOff(i)-size)
	}
	n.setNumRecs(num - 1)
}

// OverwriteKey replaces record rec's key slot with one of the same size.
func (n *Node) OverwriteKey(rec int, key []byte) {
	n.Write(n.RecOff(rec), key)
}

// MoveTail moves records [from, NumRecs) into dst, which must be empty.
func (n *Node) MoveTail(dst *Node, from int) {
	num := n.NumRecs()
	start, end := n.RecOff(from), n.RecOff(num)
	dst.Copy(DescSize, n, start, end-start)
	for i := from; i <= num; i++ {
		dst.setRecOff(i-from, n.RecOff(i)-start+DescSize)
	}
	dst.setNumRecs(num - from)
	n.setNumRecs(from)
}

// RecordSizes returns the bytes each record occupies, offset entry included.
func (n *Node) RecordSizes() []int {
	sizes := make([]int, n.NumRecs())
	for i := range sizes {
		length, _ := n.LenOff(i)
		sizes[i] = length + 2
	}
	return sizes
}

// Validate checks the descriptor and offset table of a freshly read node.
func (n *Node) Validate() error {
	switch n.kind {
	case KindHeader, KindMap:
		if n.height != 0 {
			return errors.Wrapf(ErrCorrupt, "%s: height %d", n, n.height)
		}
	case KindLeaf:
		if n.height != 1 {
			return errors.Wrapf(ErrCorrupt, "%s: height %d", n, n.height)
		}
	case KindIndex:
		if n.height <= 1 {
			return errors.Wrapf(ErrCorrupt, "%s: height %d", n, n.height)
		}
	default:
		return errors.Wrapf(ErrCorrupt, "node %d: unknown kind %d", n.ID, int8(n.kind))
	}

	if 2*(n.NumRecs()+1) > n.layout.NodeSize-DescSize {
		return errors.Wrapf(ErrCorrupt, "%s: offset table too large", n)
	}
	off := n.RecOff(0)
	if off != DescSize {
		return errors.Wrapf(ErrCorrupt, "%s: first record at %d", n, off)
	}
	for i := 1; i <= n.NumRecs(); i++ {
		next := n.RecOff(i)
		if next < off || next > n.offsetPos(n.NumRecs()) {
			return errors.Wrapf(ErrCorrupt, "%s: record %d offset %d", n, i, next)
		}
		if n.kind == KindLeaf || n.kind == KindIndex {
			kl := n.KeyLen(i - 1)
			if kl == 0 || kl > next-off {
				return errors.Wrapf(ErrCorrupt, "%s: record %d key length %d", n, i-1, kl)
			}
			if n.kind == KindIndex && next-off-kl < 4 {
				return errors.Wrapf(ErrCorrupt, "%s: index record %d has no child pointer", n, i-1)
			}
		}
		off = next
	}
	return nil
}
