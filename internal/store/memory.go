package store

import (
	"sync"

	"github.com/pkg/errors"
)

// Memory is a BlockStore held entirely in RAM. A non-zero limit caps the
// number of blocks Grow may reach.
type Memory struct {
	mu        sync.RWMutex
	blockSize int
	limit     uint64
	blocks    [][]byte
	closed    bool
	counters
}

func NewMemory(blockSize int, limit uint64) *Memory {
	return &Memory{blockSize: blockSize, limit: limit}
}

func (m *Memory) BlockSize() int { return m.blockSize }

func (m *Memory) Blocks() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.blocks))
}

func (m *Memory) ReadBlock(n uint64, p []byte) error {
	if err := checkBuf(p, m.blockSize); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	if n >= uint64(len(m.blocks)) {
		return errors.Wrapf(ErrBadBlock, "read block %d of %d", n, len(m.blocks))
	}
	copy(p, m.blocks[n])
	m.reads.Add(1)
	m.read.Add(uint64(len(p)))
	return nil
}

func (m *Memory) WriteBlock(n uint64, p []byte) error {
	if err := checkBuf(p, m.blockSize); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if n >= uint64(len(m.blocks)) {
		return errors.Wrapf(ErrBadBlock, "write block %d of %d", n, len(m.blocks))
	}
	copy(m.blocks[n], p)
	m.writes.Add(1)
	m.written.Add(uint64(len(p)))
	return nil
}

func (m *Memory) Grow(blocks uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if blocks <= uint64(len(m.blocks)) {
		return nil
	}
	if m.limit != 0 && blocks > m.limit {
		return errors.Wrapf(ErrNoSpace, "grow to %d blocks exceeds limit %d", blocks, m.limit)
	}
	for uint64(len(m.blocks)) < blocks {
		m.blocks = append(m.blocks, make([]byte, m.blockSize))
	}
	m.grows.Add(1)
	return nil
}

func (m *Memory) Sync() error { return nil }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.blocks = nil
	return nil
}

// Stats returns I/O statistics
func (m *Memory) Stats() Stats { return m.stats() }
