package store

import (
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/alexhholmes/hfsbtree/internal/directio"
)

// File implements BlockStore on a regular file using positioned reads and
// writes. Growing truncates the file upward, leaving a sparse tail.
type File struct {
	mu        sync.RWMutex
	file      *os.File
	blockSize int
	blocks    uint64
	counters

	// direct files stage every transfer through an aligned buffer.
	direct bool
	bufs   sync.Pool
}

// NewFile opens or creates the file at path.
func NewFile(path string, blockSize int) (*File, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, wrapIO(err, "open %s", path)
	}
	return newFile(file, blockSize, false)
}

// NewDirectFile opens or creates the file at path bypassing the OS page
// cache. The block size must be a multiple of the device sector size.
func NewDirectFile(path string, blockSize int) (*File, error) {
	file, err := directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, wrapIO(err, "open %s for direct i/o", path)
	}
	if _, err := directio.AlignedBlock(blockSize); err != nil {
		file.Close()
		return nil, err
	}
	return newFile(file, blockSize, directio.DirectIO)
}

func newFile(file *os.File, blockSize int, direct bool) (*File, error) {
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, wrapIO(err, "stat %s", file.Name())
	}
	f := &File{
		file:      file,
		blockSize: blockSize,
		blocks:    uint64(info.Size()) / uint64(blockSize),
		direct:    direct,
	}
	f.bufs.New = func() any {
		// Size was validated when the file was opened.
		b, _ := directio.AlignedBlock(blockSize)
		return b
	}
	return f, nil
}

func (f *File) BlockSize() int { return f.blockSize }

func (f *File) Blocks() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.blocks
}

// ReadBlock reads block n into p.
func (f *File) ReadBlock(n uint64, p []byte) error {
	if err := checkBuf(p, f.blockSize); err != nil {
		return err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.file == nil {
		return ErrClosed
	}
	if n >= f.blocks {
		return errors.Wrapf(ErrBadBlock, "read block %d of %d", n, f.blocks)
	}

	buf := p
	if f.direct {
		buf = f.bufs.Get().([]byte)
		defer f.bufs.Put(buf)
	}

	f.reads.Add(1)
	c, err := f.file.ReadAt(buf, int64(n)*int64(f.blockSize))
	f.read.Add(uint64(c))
	if err != nil {
		return wrapIO(err, "read block %d", n)
	}
	if f.direct {
		copy(p, buf)
	}
	return nil
}

// WriteBlock writes p to block n.
func (f *File) WriteBlock(n uint64, p []byte) error {
	if err := checkBuf(p, f.blockSize); err != nil {
		return err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.file == nil {
		return ErrClosed
	}
	if n >= f.blocks {
		return errors.Wrapf(ErrBadBlock, "write block %d of %d", n, f.blocks)
	}

	buf := p
	if f.direct && !directio.IsAligned(p) {
		buf = f.bufs.Get().([]byte)
		defer f.bufs.Put(buf)
		copy(buf, p)
	}

	f.writes.Add(1)
	c, err := f.file.WriteAt(buf, int64(n)*int64(f.blockSize))
	f.written.Add(uint64(c))
	if err != nil {
		return wrapIO(err, "write block %d", n)
	}
	return nil
}

func (f *File) Grow(blocks uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return ErrClosed
	}
	if blocks <= f.blocks {
		return nil
	}
	if err := f.file.Truncate(int64(blocks) * int64(f.blockSize)); err != nil {
		return wrapIO(err, "grow to %d blocks", blocks)
	}
	f.blocks = blocks
	f.grows.Add(1)
	return nil
}

// Sync flushes buffered writes to disk
func (f *File) Sync() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.file == nil {
		return ErrClosed
	}
	return wrapIO(f.file.Sync(), "sync")
}

// Close closes the file
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return wrapIO(err, "close")
}

// Stats returns I/O statistics
func (f *File) Stats() Stats { return f.stats() }
