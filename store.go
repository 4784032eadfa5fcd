package hfsbtree

import (
	"github.com/alexhholmes/hfsbtree/internal/store"
)

// BlockStore is the block device a tree lives on. Node n occupies blocks
// [n*k, (n+1)*k) where k is node size over block size.
type BlockStore = store.BlockStore

// NewMemStore returns an in-memory store. A non-zero limit caps the number
// of blocks; growing past it fails with ErrNoSpace.
//
//goland:noinspection GoUnusedExportedFunction
func NewMemStore(blockSize int, limit uint64) BlockStore {
	return store.NewMemory(blockSize, limit)
}

// NewFileStore opens or creates a file-backed store using positioned I/O.
func NewFileStore(path string, blockSize int) (BlockStore, error) {
	s, err := store.NewFile(path, blockSize)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewDirectStore opens or creates a file-backed store whose reads and writes
// bypass the OS page cache.
func NewDirectStore(path string, blockSize int) (BlockStore, error) {
	s, err := store.NewDirectFile(path, blockSize)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewMMapStore opens or creates a memory-mapped file store.
func NewMMapStore(path string, blockSize int) (BlockStore, error) {
	s, err := store.NewMMap(path, blockSize)
	if err != nil {
		return nil, err
	}
	return s, nil
}
