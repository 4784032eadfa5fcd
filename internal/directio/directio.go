// Package directio opens files so that reads and writes bypass the OS page
// cache, and hands out buffers aligned the way the platform requires.
package directio

import (
	"unsafe"

	"github.com/pkg/errors"
)

// IsAligned reports whether block starts on an AlignSize boundary.
func IsAligned(block []byte) bool {
	return alignment(block, AlignSize) == 0
}

// AlignedBlock returns a size byte slice whose first byte is aligned to
// AlignSize.
func AlignedBlock(size int) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Errorf("aligned block size %d", size)
	}
	block := make([]byte, size+AlignSize)
	if AlignSize == 0 {
		return block, nil
	}
	offset := 0
	if a := alignment(block, AlignSize); a != 0 {
		offset = AlignSize - a
	}
	block = block[offset : offset+size]
	if !IsAligned(block) {
		return nil, errors.New("failed to align block")
	}
	return block, nil
}

// alignment of block in memory relative to align. block must not be empty.
func alignment(block []byte, align int) int {
	if align == 0 {
		return 0
	}
	return int(uintptr(unsafe.Pointer(&block[0])) & uintptr(align-1))
}
