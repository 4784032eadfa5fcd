package node

import (
	"encoding/binary"
	"fmt"
)

func (n *Node) check(off, length int) {
	if off < 0 || length < 0 || off+length > n.layout.NodeSize {
		panic(fmt.Sprintf("node %d: access [%d:%d] outside %d byte node", n.ID, off, off+length, n.layout.NodeSize))
	}
}

// Read copies len(dst) bytes starting at off into dst.
func (n *Node) Read(dst []byte, off int) {
	n.check(off, len(dst))
	ps := n.layout.PageSize
	for len(dst) > 0 {
		c := copy(dst, n.pages[off/ps][off%ps:])
		dst = dst[c:]
		off += c
	}
}

// ReadBytes returns a copy of length bytes starting at off.
func (n *Node) ReadBytes(off, length int) []byte {
	b := make([]byte, length)
	n.Read(b, off)
	return b
}

// Write copies src into the node at off.
func (n *Node) Write(off int, src []byte) {
	n.check(off, len(src))
	ps := n.layout.PageSize
	for len(src) > 0 {
		p := off / ps
		c := copy(n.pages[p][off%ps:], src)
		n.dirty[p] = true
		src = src[c:]
		off += c
	}
}

// Clear zeroes length bytes starting at off.
func (n *Node) Clear(off, length int) {
	n.check(off, length)
	ps := n.layout.PageSize
	for length > 0 {
		p, o := off/ps, off%ps
		c := min(length, ps-o)
		clear(n.pages[p][o : o+c])
		n.dirty[p] = true
		length -= c
		off += c
	}
}

// Copy copies length bytes from src at srcOff into n at dstOff. Both nodes
// must share a layout; copying within a node goes through Move.
func (n *Node) Copy(dstOff int, src *Node, srcOff, length int) {
	if src == n {
		n.Move(dstOff, srcOff, length)
		return
	}
	src.check(srcOff, length)
	n.check(dstOff, length)
	ps := n.layout.PageSize
	for length > 0 {
		sp, so := srcOff/ps, srcOff%ps
		dp, do := dstOff/ps, dstOff%ps
		c := min(length, ps-so, ps-do)
		copy(n.pages[dp][do:do+c], src.pages[sp][so:so+c])
		n.dirty[dp] = true
		length -= c
		srcOff += c
		dstOff += c
	}
}

// Move copies length bytes from src to dst inside the node. The ranges may
// overlap in either direction.
func (n *Node) Move(dst, src, length int) {
	if length == 0 || dst == src {
		return
	}
	n.check(src, length)
	n.check(dst, length)
	ps := n.layout.PageSize

	if dst < src {
		for length > 0 {
			sp, so := src/ps, src%ps
			dp, do := dst/ps, dst%ps
			c := min(length, ps-so, ps-do)
			copy(n.pages[dp][do:do+c], n.pages[sp][so:so+c])
			n.dirty[dp] = true
			length -= c
			src += c
			dst += c
		}
		return
	}

	// Walk backwards from the end so unread source bytes are never
	// overwritten.
	se, de := src+length, dst+length
	for length > 0 {
		sp, dp := (se-1)/ps, (de-1)/ps
		c := min(length, se-sp*ps, de-dp*ps)
		so, do := se-c-sp*ps, de-c-dp*ps
		copy(n.pages[dp][do:do+c], n.pages[sp][so:so+c])
		n.dirty[dp] = true
		length -= c
		se -= c
		de -= c
	}
}

func (n *Node) U8(off int) uint8 {
	var b [1]byte
	n.Read(b[:], off)
	return b[0]
}

func (n *Node) PutU8(off int, v uint8) {
	n.Write(off, []byte{v})
}

func (n *Node) U16(off int) uint16 {
	var b [2]byte
	n.Read(b[:], off)
	return binary.BigEndian.Uint16(b[:])
}

func (n *Node) PutU16(off int, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	n.Write(off, b[:])
}

func (n *Node) U32(off int) uint32 {
	var b [4]byte
	n.Read(b[:], off)
	return binary.BigEndian.Uint32(b[:])
}

func (n *Node) PutU32(off int, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	n.Write(off, b[:])
}
