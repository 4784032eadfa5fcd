package hfsbtree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helpers

func setup(t *testing.T, opts ...Option) (*BTree, BlockStore) {
	t.Helper()
	s := NewMemStore(512, 0)
	tree, err := Create(s, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tree.Close() })
	return tree, s
}

// setupSmall builds the 512 byte node, 16 byte key geometry most tests use.
func setupSmall(t *testing.T, opts ...Option) (*BTree, BlockStore) {
	t.Helper()
	return setup(t, append([]Option{WithNodeSize(512), WithMaxKeyLen(16)}, opts...)...)
}

func key(i int) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(i))
	return b
}

func val(i int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(i)*7919)
	return b
}

func mustCheck(t *testing.T, tree *BTree) CheckStats {
	t.Helper()
	st, err := tree.Check()
	require.NoError(t, err)
	return st
}

func collect(t *testing.T, tree *BTree) [][]byte {
	t.Helper()
	var keys [][]byte
	require.NoError(t, tree.Walk(func(k, _ []byte) error {
		keys = append(keys, k)
		return nil
	}))
	return keys
}

type recordLogger struct {
	mu    sync.Mutex
	warns []string
	infos []string
}

func (l *recordLogger) Error(msg string, _ ...any) { l.Warn(msg) }

func (l *recordLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

// Lifecycle

func TestCreateEmptyTree(t *testing.T) {
	t.Parallel()

	tree, _ := setupSmall(t, WithInitialNodes(8), WithTreeType(0, 0xCF))
	h := tree.Header()
	assert.Equal(t, uint16(0), h.Depth)
	assert.Equal(t, NodeID(0), h.Root)
	assert.Equal(t, uint16(512), h.NodeSize)
	assert.Equal(t, uint16(16), h.MaxKeyLen)
	assert.Equal(t, uint32(8), h.NodeCount)
	assert.Equal(t, uint32(7), h.FreeNodes)
	assert.Equal(t, uint8(0xCF), h.KeyType)
	assert.Equal(t, AttrBigKeys|AttrVariableIndexKeys, h.Attributes)
	assert.Equal(t, 0, tree.Len())

	_, err := tree.Get(key(1))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, collect(t, tree))
	mustCheck(t, tree)
}

func TestCreateRejectsBadGeometry(t *testing.T) {
	t.Parallel()

	for _, opts := range [][]Option{
		{WithNodeSize(1000)},
		{WithNodeSize(256)},
		{WithNodeSize(65536)},
		{WithNodeSize(512), WithMaxKeyLen(0)},
		{WithNodeSize(512), WithMaxKeyLen(400)},
	} {
		_, err := Create(NewMemStore(512, 0), nil, opts...)
		assert.Error(t, err)
	}
}

func TestOpenUnformattedStore(t *testing.T) {
	t.Parallel()

	_, err := Open(NewMemStore(512, 0), nil)
	assert.ErrorIs(t, err, ErrNotFormatted)

	s := NewMemStore(512, 0)
	require.NoError(t, s.Grow(8))
	_, err = Open(s, nil)
	assert.ErrorIs(t, err, ErrNotFormatted)
}

func TestReopenPersists(t *testing.T) {
	t.Parallel()

	s := NewMemStore(512, 0)
	tree, err := Create(s, nil, WithNodeSize(512), WithMaxKeyLen(16), WithCacheSize(16))
	require.NoError(t, err)
	for i := 0; i < 500; i++ {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}
	before := tree.Header()
	require.NoError(t, tree.Close())
	assert.ErrorIs(t, tree.Insert(key(1000), val(0)), ErrTreeClosed)
	assert.NoError(t, tree.Close(), "closing twice is harmless")

	tree, err = Open(s, nil)
	require.NoError(t, err)
	defer tree.Close()
	assert.Equal(t, before, tree.Header())
	for i := 0; i < 500; i++ {
		v, err := tree.Get(key(i))
		require.NoError(t, err)
		assert.Equal(t, val(i), v)
	}
	mustCheck(t, tree)
}

func TestOpenFile(t *testing.T) {
	t.Parallel()

	for name, extra := range map[string][]Option{
		"file":   nil,
		"mmap":   {WithMMap()},
		"direct": {WithDirectIO(), WithBlockSize(4096), WithNodeSize(4096)},
	} {
		name, extra := name, extra
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "catalog.btree")
			opts := append([]Option{WithNodeSize(1024), WithMaxKeyLen(CatalogMaxKeyLen / 4)}, extra...)

			tree, err := OpenFile(path, CatalogComparator, opts...)
			if name == "direct" && err != nil {
				t.Skipf("direct i/o unavailable: %v", err)
			}
			require.NoError(t, err)
			for i := 0; i < 300; i++ {
				k := NewCatalogKey(uint32(i%7+1), fmt.Sprintf("file-%03d", i))
				require.NoError(t, tree.Insert(k.Bytes(), val(i)))
			}
			require.NoError(t, tree.Close())

			tree, err = OpenFile(path, CatalogComparator, opts...)
			require.NoError(t, err)
			defer tree.Close()
			assert.Equal(t, 300, tree.Len())
			v, err := tree.Get(NewCatalogKey(3, "file-002").Bytes())
			require.NoError(t, err)
			assert.Equal(t, val(2), v)
			mustCheck(t, tree)
		})
	}
}

func TestFlushHeaderWritesThrough(t *testing.T) {
	t.Parallel()

	tree, s := setupSmall(t)
	for i := 0; i < 50; i++ {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}
	require.NoError(t, tree.FlushHeader())

	// A second tree over the same blocks sees everything without Close.
	other, err := Open(s, nil)
	require.NoError(t, err)
	assert.Equal(t, 50, other.Len())
	v, err := other.Get(key(49))
	require.NoError(t, err)
	assert.Equal(t, val(49), v)
}

func TestBadCloseMarksInterruptedSessions(t *testing.T) {
	t.Parallel()

	s := NewMemStore(512, 0)
	tree, err := Create(s, nil, WithNodeSize(512), WithMaxKeyLen(16))
	require.NoError(t, err)
	require.NoError(t, tree.Insert(key(1), val(1)))
	require.NoError(t, tree.FlushHeader())

	h, err := peekHeader(s)
	require.NoError(t, err)
	assert.NotZero(t, h.Attributes&AttrBadClose, "open trees are marked on disk")
	assert.Zero(t, tree.Header().Attributes&AttrBadClose)

	// Reopen without closing the first tree.
	log := &recordLogger{}
	other, err := Open(s, nil, WithLogger(log))
	require.NoError(t, err)
	assert.Contains(t, log.warns, "b*tree was not closed cleanly")
	assert.Zero(t, other.Header().Attributes&AttrBadClose)
	require.NoError(t, other.Close())

	h, err = peekHeader(s)
	require.NoError(t, err)
	assert.Zero(t, h.Attributes&AttrBadClose, "a clean close clears the mark")

	log = &recordLogger{}
	other, err = Open(s, nil, WithLogger(log))
	require.NoError(t, err)
	assert.Empty(t, log.warns)
	require.NoError(t, other.Close())
}

func TestLoggerReceivesLifecycleEvents(t *testing.T) {
	t.Parallel()

	log := &recordLogger{}
	tree, err := Create(NewMemStore(512, 0), nil, WithLogger(log), WithNodeSize(512), WithMaxKeyLen(16))
	require.NoError(t, err)
	require.NoError(t, tree.Close())
	assert.Contains(t, log.infos, "created b*tree")
	assert.Contains(t, log.infos, "closed b*tree")
}

func TestCorruptNodeIsReported(t *testing.T) {
	t.Parallel()

	s := NewMemStore(512, 0)
	tree, err := Create(s, nil, WithNodeSize(512), WithMaxKeyLen(16))
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}
	head := tree.Header().LeafHead
	require.NoError(t, tree.Close())

	require.NoError(t, s.WriteBlock(uint64(head), bytes.Repeat([]byte{0x7F}, 512)))

	log := &recordLogger{}
	tree, err = Open(s, nil, WithLogger(log))
	require.NoError(t, err)
	defer tree.Close()

	_, err = tree.Get(key(0))
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.ErrorIs(t, tree.Walk(func(_, _ []byte) error { return nil }), ErrCorrupt)
	assert.NotEmpty(t, log.warns)

	// Other leaves are still readable.
	v, err := tree.Get(key(199))
	require.NoError(t, err)
	assert.Equal(t, val(199), v)
}

// The 512 byte node, 16 byte key scenario: 200 ascending 4 byte keys with
// 8 byte values build a two level tree, removing 100 down to 1 keeps it
// consistent.
func TestTwoHundredKeys(t *testing.T) {
	t.Parallel()

	tree, _ := setupSmall(t)
	for i := 1; i <= 200; i++ {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}
	assert.GreaterOrEqual(t, tree.Depth(), 2)
	assert.Equal(t, 200, tree.Len())
	st := mustCheck(t, tree)
	assert.Equal(t, 200, st.Records)
	assert.Greater(t, st.Leaves, 1)

	for i := 1; i <= 200; i++ {
		v, err := tree.Get(key(i))
		require.NoError(t, err)
		assert.Equal(t, val(i), v)
	}

	depth := tree.Depth()
	for i := 100; i >= 1; i-- {
		require.NoError(t, tree.Delete(key(i)))
	}
	assert.Equal(t, 100, tree.Len())
	assert.Equal(t, depth, tree.Depth(), "no merge, no shrink")
	mustCheck(t, tree)

	for i := 1; i <= 200; i++ {
		v, err := tree.Get(key(i))
		if i <= 100 {
			assert.ErrorIs(t, err, ErrNotFound)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, val(i), v)
	}

	keys := collect(t, tree)
	require.Len(t, keys, 100)
	assert.Equal(t, key(101), keys[0])
	assert.Equal(t, key(200), keys[99])
}

func TestConcurrentInserts(t *testing.T) {
	t.Parallel()

	tree, _ := setupSmall(t)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := w; i < 800; i += 8 {
				assert.NoError(t, tree.Insert(key(i), val(i)))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, tree.Len())
	st := mustCheck(t, tree)
	assert.Equal(t, 800, st.Records)
}

func TestStats(t *testing.T) {
	t.Parallel()

	tree, _ := setupSmall(t, WithCacheSize(16))
	for i := 0; i < 400; i++ {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}
	st := tree.Stats()
	assert.Equal(t, uint32(400), st.Header.LeafCount)
	assert.Greater(t, st.Cache.Hits, uint64(0))
	assert.Greater(t, st.Cache.Evictions, uint64(0))
	assert.LessOrEqual(t, st.Cache.Cached, 64)
}

type argsLogger struct {
	DiscardLogger
	args []any
}

func (l *argsLogger) Info(_ string, args ...any) { l.args = args }

func TestLoggerTagsTreeType(t *testing.T) {
	t.Parallel()

	log := &argsLogger{}
	tree, err := Create(NewMemStore(512, 0), nil, WithLogger(log), WithNodeSize(512),
		WithMaxKeyLen(16), WithTreeType(0, 0xBC))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(log.args), 4)
	tail := log.args[len(log.args)-4:]
	assert.Equal(t, []any{"btree_type", uint8(0), "key_type", uint8(0xBC)}, tail)
	require.NoError(t, tree.Close())
}
