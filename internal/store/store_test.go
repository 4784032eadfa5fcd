package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type opener func(t *testing.T) BlockStore

func backends() map[string]opener {
	return map[string]opener{
		"memory": func(t *testing.T) BlockStore {
			return NewMemory(512, 0)
		},
		"file": func(t *testing.T) BlockStore {
			s, err := NewFile(filepath.Join(t.TempDir(), "tree.db"), 512)
			require.NoError(t, err)
			return s
		},
		"mmap": func(t *testing.T) BlockStore {
			s, err := NewMMap(filepath.Join(t.TempDir(), "tree.db"), 512)
			require.NoError(t, err)
			return s
		},
	}
}

func TestBlockStoreReadWrite(t *testing.T) {
	t.Parallel()

	for name, open := range backends() {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := open(t)
			defer s.Close()

			assert.Equal(t, 512, s.BlockSize())
			assert.Equal(t, uint64(0), s.Blocks())
			require.NoError(t, s.Grow(4))
			assert.Equal(t, uint64(4), s.Blocks())

			buf := make([]byte, 512)
			require.NoError(t, s.ReadBlock(3, buf))
			assert.Equal(t, make([]byte, 512), buf, "new blocks read as zeroes")

			want := bytes.Repeat([]byte{0x5A}, 512)
			require.NoError(t, s.WriteBlock(2, want))
			require.NoError(t, s.ReadBlock(2, buf))
			assert.Equal(t, want, buf)

			assert.ErrorIs(t, s.ReadBlock(4, buf), ErrBadBlock)
			assert.ErrorIs(t, s.WriteBlock(9, want), ErrBadBlock)
			assert.Error(t, s.WriteBlock(0, want[:100]))

			// Growing keeps existing contents.
			require.NoError(t, s.Grow(16))
			require.NoError(t, s.ReadBlock(2, buf))
			assert.Equal(t, want, buf)
			require.NoError(t, s.Grow(8), "shrinking grow is a no-op")
			assert.Equal(t, uint64(16), s.Blocks())

			require.NoError(t, s.Sync())
		})
	}
}

func TestFileStorePersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tree.db")
	s, err := NewFile(path, 512)
	require.NoError(t, err)
	require.NoError(t, s.Grow(2))
	want := bytes.Repeat([]byte{7}, 512)
	require.NoError(t, s.WriteBlock(1, want))
	require.NoError(t, s.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), info.Size())

	m, err := NewMMap(path, 512)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, uint64(2), m.Blocks())
	buf := make([]byte, 512)
	require.NoError(t, m.ReadBlock(1, buf))
	assert.Equal(t, want, buf)
}

func TestDirectFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tree.db")
	s, err := NewDirectFile(path, 4096)
	if err != nil {
		// tmpfs and some overlay filesystems refuse O_DIRECT.
		t.Skipf("direct i/o unavailable: %v", err)
	}
	require.NoError(t, s.Grow(3))

	// An unaligned source slice is staged through the pool.
	want := bytes.Repeat([]byte{0xC3}, 4097)[1:]
	require.NoError(t, s.WriteBlock(1, want))
	buf := make([]byte, 4096)
	require.NoError(t, s.ReadBlock(1, buf))
	assert.Equal(t, want, buf)
	require.NoError(t, s.ReadBlock(2, buf))
	assert.Equal(t, make([]byte, 4096), buf)
	require.NoError(t, s.Close())

	f, err := NewFile(path, 4096)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, uint64(3), f.Blocks())
	require.NoError(t, f.ReadBlock(1, buf))
	assert.Equal(t, want, buf)

	_, err = NewDirectFile(filepath.Join(t.TempDir(), "bad.db"), 0)
	assert.Error(t, err)
}

func TestMemoryLimit(t *testing.T) {
	t.Parallel()

	m := NewMemory(512, 8)
	require.NoError(t, m.Grow(8))
	assert.ErrorIs(t, m.Grow(9), ErrNoSpace)

	require.NoError(t, m.WriteBlock(0, make([]byte, 512)))
	st := m.Stats()
	assert.Equal(t, uint64(1), st.Writes)
	assert.Equal(t, uint64(512), st.Written)
}

func TestClosedStore(t *testing.T) {
	t.Parallel()

	s, err := NewFile(filepath.Join(t.TempDir(), "tree.db"), 512)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.ReadBlock(0, make([]byte, 512)), ErrClosed)
	assert.ErrorIs(t, s.Grow(1), ErrClosed)
	assert.NoError(t, s.Close())
}

func TestIOErrorWrapping(t *testing.T) {
	t.Parallel()

	_, err := NewFile(filepath.Join(t.TempDir(), "missing", "tree.db"), 512)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
