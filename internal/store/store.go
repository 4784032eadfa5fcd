package store

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

var (
	ErrIO       = errors.New("i/o error")
	ErrNoSpace  = errors.New("no space left in block store")
	ErrClosed   = errors.New("block store is closed")
	ErrBadBlock = errors.New("block out of range")
)

// BlockStore is the fixed-size block device a tree lives on. Block n covers
// bytes [n*BlockSize, (n+1)*BlockSize).
type BlockStore interface {
	BlockSize() int
	// Blocks returns the current number of addressable blocks.
	Blocks() uint64
	ReadBlock(n uint64, p []byte) error
	WriteBlock(n uint64, p []byte) error
	// Grow extends the store to at least blocks blocks. New blocks read as
	// zeroes. ErrNoSpace reports that the store cannot grow any further.
	Grow(blocks uint64) error
	Sync() error
	Close() error
}

// ioError marks an underlying OS failure as ErrIO while keeping the cause.
type ioError struct {
	err error
}

func (e *ioError) Error() string        { return e.err.Error() }
func (e *ioError) Unwrap() error        { return e.err }
func (e *ioError) Is(target error) bool { return target == ErrIO }

func wrapIO(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(&ioError{err: err}, format, args...)
}

// Stats holds I/O statistics
type Stats struct {
	Reads   uint64
	Writes  uint64
	Read    uint64
	Written uint64
	Grows   uint64
}

type counters struct {
	reads   atomic.Uint64
	writes  atomic.Uint64
	read    atomic.Uint64
	written atomic.Uint64
	grows   atomic.Uint64
}

func (c *counters) stats() Stats {
	return Stats{
		Reads:   c.reads.Load(),
		Writes:  c.writes.Load(),
		Read:    c.read.Load(),
		Written: c.written.Load(),
		Grows:   c.grows.Load(),
	}
}

func checkBuf(p []byte, blockSize int) error {
	if len(p) != blockSize {
		return errors.Errorf("buffer size %d, expected block size %d", len(p), blockSize)
	}
	return nil
}
