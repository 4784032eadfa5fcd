package hfsbtree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/pkg/errors"
)

// KeyComparator orders key bodies. It must be a total order, consistent
// for the lifetime of a tree.
type KeyComparator interface {
	Compare(a, b []byte) int
}

// ComparatorFunc adapts a plain function to KeyComparator.
type ComparatorFunc func(a, b []byte) int

func (f ComparatorFunc) Compare(a, b []byte) int { return f(a, b) }

// BinaryComparator orders keys bytewise.
var BinaryComparator KeyComparator = ComparatorFunc(bytes.Compare)

var ErrBadKey = errors.New("malformed key")

// Maximum key body lengths of the two HFS+ system trees.
const (
	CatalogMaxKeyLen = 516
	ExtentMaxKeyLen  = 10
)

// CatalogKey names a catalog record: the parent folder id plus a UTF-16
// name of up to 255 units.
type CatalogKey struct {
	ParentID uint32
	Name     []uint16
}

func NewCatalogKey(parent uint32, name string) CatalogKey {
	return CatalogKey{ParentID: parent, Name: utf16.Encode([]rune(name))}
}

// Bytes encodes the key body: parent id, name length, name units.
func (k CatalogKey) Bytes() []byte {
	b := make([]byte, 6+2*len(k.Name))
	binary.BigEndian.PutUint32(b, k.ParentID)
	binary.BigEndian.PutUint16(b[4:], uint16(len(k.Name)))
	for i, u := range k.Name {
		binary.BigEndian.PutUint16(b[6+2*i:], u)
	}
	return b
}

func (k CatalogKey) String() string {
	return fmt.Sprintf("%d:%s", k.ParentID, string(utf16.Decode(k.Name)))
}

// ParseCatalogKey decodes a catalog key body. Bytes after the name are
// rejected.
func ParseCatalogKey(b []byte) (CatalogKey, error) {
	k, rest, err := splitCatalogKey(b)
	if err != nil {
		return CatalogKey{}, err
	}
	if len(rest) != 0 {
		return CatalogKey{}, errors.Wrapf(ErrBadKey, "%d bytes after catalog name", len(rest))
	}
	return k, nil
}

// splitCatalogKey decodes the catalog key at the front of b and returns the
// bytes that follow the name.
func splitCatalogKey(b []byte) (CatalogKey, []byte, error) {
	if len(b) < 6 {
		return CatalogKey{}, nil, errors.Wrapf(ErrBadKey, "catalog key of %d bytes", len(b))
	}
	units := int(binary.BigEndian.Uint16(b[4:]))
	end := 6 + 2*units
	if len(b) < end {
		return CatalogKey{}, nil, errors.Wrapf(ErrBadKey, "catalog name of %d units in %d bytes", units, len(b))
	}
	k := CatalogKey{ParentID: binary.BigEndian.Uint32(b), Name: make([]uint16, units)}
	for i := range k.Name {
		k.Name[i] = binary.BigEndian.Uint16(b[6+2*i:])
	}
	return k, b[end:], nil
}

// CatalogComparator orders catalog keys by parent id, then by name in
// binary UTF-16 order (the case-sensitive HFSX ordering), then by any bytes
// trailing the name. Malformed keys sort after every well-formed key,
// bytewise among themselves.
var CatalogComparator KeyComparator = ComparatorFunc(compareCatalog)

func compareCatalog(a, b []byte) int {
	ka, restA, errA := splitCatalogKey(a)
	kb, restB, errB := splitCatalogKey(b)
	if c, ok := compareMalformed(a, b, errA != nil, errB != nil); ok {
		return c
	}
	if ka.ParentID != kb.ParentID {
		return cmpUint(ka.ParentID, kb.ParentID)
	}
	for i := 0; i < len(ka.Name) && i < len(kb.Name); i++ {
		if ka.Name[i] != kb.Name[i] {
			return cmpUint(uint32(ka.Name[i]), uint32(kb.Name[i]))
		}
	}
	if len(ka.Name) != len(kb.Name) {
		return cmpUint(uint32(len(ka.Name)), uint32(len(kb.Name)))
	}
	return bytes.Compare(restA, restB)
}

// compareMalformed orders a pair in which at least one key failed to
// decode. ok is false when both decoded.
func compareMalformed(a, b []byte, badA, badB bool) (c int, ok bool) {
	switch {
	case badA && badB:
		return bytes.Compare(a, b), true
	case badA:
		return 1, true
	case badB:
		return -1, true
	}
	return 0, false
}

// Fork types of extent keys.
const (
	ForkData     uint8 = 0x00
	ForkResource uint8 = 0xFF
)

// ExtentKey locates an extent overflow record.
type ExtentKey struct {
	ForkType   uint8
	FileID     uint32
	StartBlock uint32
}

// Bytes encodes the key body: fork type, pad, file id, start block.
func (k ExtentKey) Bytes() []byte {
	b := make([]byte, ExtentMaxKeyLen)
	b[0] = k.ForkType
	binary.BigEndian.PutUint32(b[2:], k.FileID)
	binary.BigEndian.PutUint32(b[6:], k.StartBlock)
	return b
}

func (k ExtentKey) String() string {
	return fmt.Sprintf("%d/%#x@%d", k.FileID, k.ForkType, k.StartBlock)
}

func ParseExtentKey(b []byte) (ExtentKey, error) {
	if len(b) != ExtentMaxKeyLen {
		return ExtentKey{}, errors.Wrapf(ErrBadKey, "extent key of %d bytes", len(b))
	}
	return ExtentKey{
		ForkType:   b[0],
		FileID:     binary.BigEndian.Uint32(b[2:]),
		StartBlock: binary.BigEndian.Uint32(b[6:]),
	}, nil
}

// ExtentComparator orders extent keys by file id, fork type, start block,
// then the pad byte. Keys that are not ExtentMaxKeyLen bytes sort after
// every well-formed key, bytewise among themselves.
var ExtentComparator KeyComparator = ComparatorFunc(compareExtent)

func compareExtent(a, b []byte) int {
	ka, errA := ParseExtentKey(a)
	kb, errB := ParseExtentKey(b)
	if c, ok := compareMalformed(a, b, errA != nil, errB != nil); ok {
		return c
	}
	switch {
	case ka.FileID != kb.FileID:
		return cmpUint(ka.FileID, kb.FileID)
	case ka.ForkType != kb.ForkType:
		return cmpUint(uint32(ka.ForkType), uint32(kb.ForkType))
	case ka.StartBlock != kb.StartBlock:
		return cmpUint(ka.StartBlock, kb.StartBlock)
	default:
		return cmpUint(uint32(a[1]), uint32(b[1]))
	}
}

func cmpUint(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ComparatorByName returns the comparator registered under name: binary,
// catalog or extent.
func ComparatorByName(name string) (KeyComparator, error) {
	switch name {
	case "", "binary":
		return BinaryComparator, nil
	case "catalog":
		return CatalogComparator, nil
	case "extent":
		return ExtentComparator, nil
	}
	return nil, errors.Errorf("unknown comparator %q", name)
}
