package hfsbtree

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/alexhholmes/hfsbtree/internal/node"
)

// Header attribute bits.
const (
	AttrBadClose          uint32 = 0x00000001
	AttrBigKeys           uint32 = 0x00000002
	AttrVariableIndexKeys uint32 = 0x00000004
)

// Header node record layout. Record 0 is the header record, record 1 is
// reserved user data and record 2 is the first piece of the allocation bitmap.
const (
	headerRecSize  = 106
	userDataOff    = node.DescSize + headerRecSize
	userDataSize   = 128
	headerMapOff   = userDataOff + userDataSize
	headerRecCount = 3

	// Map nodes hold one bitmap record ending 6 bytes before the node end.
	mapRecTail = 6

	// MaxDepth bounds the tree height accepted by Open.
	MaxDepth = 16
)

// Header record field offsets, relative to the start of the record.
const (
	hdrDepth      = 0
	hdrRoot       = 2
	hdrLeafCount  = 6
	hdrLeafHead   = 10
	hdrLeafTail   = 14
	hdrNodeSize   = 18
	hdrMaxKeyLen  = 20
	hdrNodeCount  = 22
	hdrFreeNodes  = 26
	hdrClumpSize  = 32
	hdrBTreeType  = 36
	hdrKeyType    = 37
	hdrAttributes = 38
)

// Header mirrors the on-disk header record of node 0.
type Header struct {
	Depth      uint16
	Root       NodeID
	LeafCount  uint32
	LeafHead   NodeID
	LeafTail   NodeID
	NodeSize   uint16
	MaxKeyLen  uint16
	NodeCount  uint32
	FreeNodes  uint32
	ClumpSize  uint32
	BTreeType  uint8
	KeyType    uint8
	Attributes uint32
}

func (h *Header) marshal() []byte {
	b := make([]byte, headerRecSize)
	be := binary.BigEndian
	be.PutUint16(b[hdrDepth:], h.Depth)
	be.PutUint32(b[hdrRoot:], uint32(h.Root))
	be.PutUint32(b[hdrLeafCount:], h.LeafCount)
	be.PutUint32(b[hdrLeafHead:], uint32(h.LeafHead))
	be.PutUint32(b[hdrLeafTail:], uint32(h.LeafTail))
	be.PutUint16(b[hdrNodeSize:], h.NodeSize)
	be.PutUint16(b[hdrMaxKeyLen:], h.MaxKeyLen)
	be.PutUint32(b[hdrNodeCount:], h.NodeCount)
	be.PutUint32(b[hdrFreeNodes:], h.FreeNodes)
	be.PutUint32(b[hdrClumpSize:], h.ClumpSize)
	b[hdrBTreeType] = h.BTreeType
	b[hdrKeyType] = h.KeyType
	be.PutUint32(b[hdrAttributes:], h.Attributes)
	return b
}

func (h *Header) unmarshal(b []byte) {
	be := binary.BigEndian
	h.Depth = be.Uint16(b[hdrDepth:])
	h.Root = NodeID(be.Uint32(b[hdrRoot:]))
	h.LeafCount = be.Uint32(b[hdrLeafCount:])
	h.LeafHead = NodeID(be.Uint32(b[hdrLeafHead:]))
	h.LeafTail = NodeID(be.Uint32(b[hdrLeafTail:]))
	h.NodeSize = be.Uint16(b[hdrNodeSize:])
	h.MaxKeyLen = be.Uint16(b[hdrMaxKeyLen:])
	h.NodeCount = be.Uint32(b[hdrNodeCount:])
	h.FreeNodes = be.Uint32(b[hdrFreeNodes:])
	h.ClumpSize = be.Uint32(b[hdrClumpSize:])
	h.BTreeType = b[hdrBTreeType]
	h.KeyType = b[hdrKeyType]
	h.Attributes = be.Uint32(b[hdrAttributes:])
}

func (h *Header) layout(pageSize int) *node.Layout {
	return &node.Layout{
		NodeSize:     int(h.NodeSize),
		PageSize:     pageSize,
		MaxKeyLen:    int(h.MaxKeyLen),
		BigKeys:      h.Attributes&AttrBigKeys != 0,
		VarIndexKeys: h.Attributes&AttrVariableIndexKeys != 0,
	}
}

func (h *Header) validate() error {
	if (h.Depth == 0) != (h.Root == 0) {
		return errors.Wrapf(ErrCorrupt, "header: depth %d with root %d", h.Depth, h.Root)
	}
	if h.Depth > MaxDepth {
		return errors.Wrapf(ErrCorrupt, "header: depth %d", h.Depth)
	}
	if h.NodeCount == 0 || h.FreeNodes >= h.NodeCount {
		return errors.Wrapf(ErrCorrupt, "header: %d free of %d nodes", h.FreeNodes, h.NodeCount)
	}
	for _, id := range []NodeID{h.Root, h.LeafHead, h.LeafTail} {
		if uint32(id) >= h.NodeCount {
			return errors.Wrapf(ErrCorrupt, "header: node %d beyond node count %d", id, h.NodeCount)
		}
	}
	if (h.Root == 0) != (h.LeafHead == 0) || (h.LeafHead == 0) != (h.LeafTail == 0) {
		return errors.Wrapf(ErrCorrupt, "header: root %d, leaf chain %d..%d", h.Root, h.LeafHead, h.LeafTail)
	}
	return nil
}

// formatHeaderNode lays out node 0 with its three records.
func formatHeaderNode(n *node.Node, h *Header) {
	n.Init(node.KindHeader, 0)
	n.InsertRecord(0, h.marshal(), nil)
	n.InsertRecord(1, make([]byte, userDataSize), nil)
	n.InsertRecord(2, make([]byte, int(h.NodeSize)-headerMapOff-2*(headerRecCount+1)), nil)
}

// readHeader decodes the header record of node 0.
func readHeader(n *node.Node) (Header, error) {
	var h Header
	if n.Kind() != node.KindHeader || n.NumRecs() < headerRecCount {
		return h, errors.Wrapf(ErrCorrupt, "%s is not a header node", n)
	}
	length, off := n.LenOff(0)
	if length < headerRecSize {
		return h, errors.Wrapf(ErrCorrupt, "header record is %d bytes", length)
	}
	h.unmarshal(n.ReadBytes(off, headerRecSize))
	return h, nil
}

func writeHeader(n *node.Node, h *Header) {
	n.Write(n.RecOff(0), h.marshal())
}
