package node

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	MinNodeSize = 512
	MaxNodeSize = 32768

	// DescSize is the size of the node descriptor; the first record starts
	// right after it.
	DescSize = 14
)

var (
	ErrCorrupt         = errors.New("b*tree corrupted")
	ErrInvalidNodeSize = errors.New("invalid node size")
	ErrInvalidKeyLen   = errors.New("invalid max key length")
)

// Layout carries the tree-wide parameters every node of a tree shares.
type Layout struct {
	NodeSize     int
	PageSize     int // store block size; a node spans NodeSize/PageSize pages
	MaxKeyLen    int
	BigKeys      bool // 16-bit key length prefix
	VarIndexKeys bool // index keys stored at their real length
}

// Validate reports whether the layout describes a usable tree.
func (l *Layout) Validate() error {
	if l.NodeSize < MinNodeSize || l.NodeSize > MaxNodeSize || l.NodeSize&(l.NodeSize-1) != 0 {
		return errors.Wrapf(ErrInvalidNodeSize, "node size %d", l.NodeSize)
	}
	if l.PageSize <= 0 || l.PageSize > l.NodeSize || l.NodeSize%l.PageSize != 0 {
		return errors.Wrapf(ErrInvalidNodeSize, "page size %d does not divide node size %d", l.PageSize, l.NodeSize)
	}
	if l.MaxKeyLen <= 0 || (!l.BigKeys && l.MaxKeyLen > 0xff) {
		return errors.Wrapf(ErrInvalidKeyLen, "max key length %d", l.MaxKeyLen)
	}
	// An index node must hold at least two fixed-size records.
	if 2*(l.IndexKeySlot()+4+2) > l.NodeSize-DescSize-2 {
		return errors.Wrapf(ErrInvalidKeyLen, "max key length %d too large for %d byte nodes", l.MaxKeyLen, l.NodeSize)
	}
	return nil
}

// PagesPerNode returns how many store blocks make up one node.
func (l *Layout) PagesPerNode() int {
	return l.NodeSize / l.PageSize
}

// PrefixLen is the size of the key length prefix.
func (l *Layout) PrefixLen() int {
	if l.BigKeys {
		return 2
	}
	return 1
}

// SlotLen returns the on-disk size of a key with the given body length,
// rounded so the value that follows starts on an even offset.
func (l *Layout) SlotLen(body int) int {
	n := l.PrefixLen() + body
	return (n + 1) &^ 1
}

// IndexKeySlot is the fixed key slot size of index records when the tree
// does not use variable length index keys.
func (l *Layout) IndexKeySlot() int {
	return l.SlotLen(l.MaxKeyLen)
}

// MaxRecordSize is the largest record an empty leaf can hold.
func (l *Layout) MaxRecordSize() int {
	return l.NodeSize - DescSize - 2*2
}

// EncodeKey builds the key slot for body as stored in a node of the given
// kind. Fixed-size index slots are zero padded.
func (l *Layout) EncodeKey(kind Kind, body []byte) []byte {
	size := l.SlotLen(len(body))
	if kind == KindIndex && !l.VarIndexKeys {
		size = l.IndexKeySlot()
	}
	slot := make([]byte, size)
	if l.BigKeys {
		binary.BigEndian.PutUint16(slot, uint16(len(body)))
	} else {
		slot[0] = byte(len(body))
	}
	copy(slot[l.PrefixLen():], body)
	return slot
}
