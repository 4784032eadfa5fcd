//go:build linux || darwin

package store

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MMap implements BlockStore over a shared memory mapping of a file. Reads
// copy out of the mapping so node buffers stay valid across remaps.
type MMap struct {
	mu        sync.RWMutex
	file      *os.File
	data      []byte
	blockSize int
	blocks    uint64
	counters
}

// NewMMap opens or creates the file at path and maps it.
func NewMMap(path string, blockSize int) (*MMap, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, wrapIO(err, "open %s", path)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, wrapIO(err, "stat %s", path)
	}

	m := &MMap{file: file, blockSize: blockSize}
	blocks := uint64(info.Size()) / uint64(blockSize)
	if blocks > 0 {
		if err := m.remap(blocks); err != nil {
			file.Close()
			return nil, err
		}
	}
	return m, nil
}

func (m *MMap) remap(blocks uint64) error {
	if m.data != nil {
		_ = unix.Msync(m.data, unix.MS_ASYNC)
		if err := unix.Munmap(m.data); err != nil {
			return wrapIO(err, "munmap")
		}
		m.data = nil
	}
	size := int(blocks) * m.blockSize
	data, err := unix.Mmap(int(m.file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return wrapIO(err, "mmap %d bytes", size)
	}
	m.data = data
	m.blocks = blocks
	return nil
}

func (m *MMap) BlockSize() int { return m.blockSize }

func (m *MMap) Blocks() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.blocks
}

func (m *MMap) ReadBlock(n uint64, p []byte) error {
	if err := checkBuf(p, m.blockSize); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.file == nil {
		return ErrClosed
	}
	if n >= m.blocks {
		return errors.Wrapf(ErrBadBlock, "read block %d of %d", n, m.blocks)
	}
	off := int(n) * m.blockSize
	copy(p, m.data[off:off+m.blockSize])
	m.reads.Add(1)
	m.read.Add(uint64(m.blockSize))
	return nil
}

func (m *MMap) WriteBlock(n uint64, p []byte) error {
	if err := checkBuf(p, m.blockSize); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.file == nil {
		return ErrClosed
	}
	if n >= m.blocks {
		return errors.Wrapf(ErrBadBlock, "write block %d of %d", n, m.blocks)
	}
	off := int(n) * m.blockSize
	copy(m.data[off:off+m.blockSize], p)
	m.writes.Add(1)
	m.written.Add(uint64(m.blockSize))
	return nil
}

// Grow extends the file (sparse) and remaps it.
func (m *MMap) Grow(blocks uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return ErrClosed
	}
	if blocks <= m.blocks {
		return nil
	}
	if err := m.file.Truncate(int64(blocks) * int64(m.blockSize)); err != nil {
		return wrapIO(err, "grow to %d blocks", blocks)
	}
	if err := m.remap(blocks); err != nil {
		return err
	}
	m.grows.Add(1)
	return nil
}

// Sync flushes the mapped region to disk
func (m *MMap) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.file == nil {
		return ErrClosed
	}
	if m.data != nil {
		if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
			return wrapIO(err, "msync")
		}
	}
	return wrapIO(m.file.Sync(), "sync")
}

// Close unmaps the region and closes the file
func (m *MMap) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			return wrapIO(err, "munmap")
		}
		m.data = nil
	}
	err := m.file.Close()
	m.file = nil
	return wrapIO(err, "close")
}

// Stats returns I/O statistics
func (m *MMap) Stats() Stats { return m.stats() }
