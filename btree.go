package hfsbtree

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/alexhholmes/hfsbtree/internal/cache"
	"github.com/alexhholmes/hfsbtree/internal/node"
	"github.com/alexhholmes/hfsbtree/internal/store"
)

// NodeID identifies a node by its index in the tree file.
type NodeID = node.ID

// BTree is an HFS+-style B*Tree living on a BlockStore. A single mutex
// serializes every operation; a Cursor holds it from NewCursor until Close.
type BTree struct {
	mu     sync.Mutex
	store  store.BlockStore
	cache  *cache.Cache
	layout *node.Layout
	cmp    KeyComparator
	log    Logger
	opts   Options

	hdr    Header
	freed  []node.ID // deleted nodes whose ids still have to go back to the bitmap
	owned  bool      // store is closed with the tree
	closed bool
}

func buildOptions(opts []Option) Options {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = DiscardLogger{}
	}
	return options
}

func newTree(s store.BlockStore, cmp KeyComparator, options Options, h Header) (*BTree, error) {
	if cmp == nil {
		cmp = BinaryComparator
	}
	l := h.layout(s.BlockSize())
	if err := l.Validate(); err != nil {
		return nil, err
	}
	c, err := cache.New(s, l, options.cacheSize)
	if err != nil {
		return nil, err
	}
	return &BTree{
		store:  s,
		cache:  c,
		layout: l,
		cmp:    cmp,
		log:    newTreeLogger(options.logger, h),
		opts:   options,
		hdr:    h,
	}, nil
}

// Create formats s with an empty tree and opens it.
func Create(s BlockStore, cmp KeyComparator, opts ...Option) (*BTree, error) {
	options := buildOptions(opts)

	h := Header{
		NodeSize:  uint16(options.nodeSize),
		MaxKeyLen: uint16(options.maxKeyLen),
		ClumpSize: uint32(options.clumpNodes * options.nodeSize),
		BTreeType: options.btreeType,
		KeyType:   options.keyType,
	}
	if options.nodeSize > node.MaxNodeSize || options.maxKeyLen > 0xffff {
		return nil, errors.Wrapf(ErrInvalidNodeSize, "node size %d, max key length %d", options.nodeSize, options.maxKeyLen)
	}
	if options.bigKeys {
		h.Attributes |= AttrBigKeys
	}
	if options.varIndexKeys {
		h.Attributes |= AttrVariableIndexKeys
	}

	t, err := newTree(s, cmp, options, h)
	if err != nil {
		return nil, err
	}

	ppn := uint64(t.layout.PagesPerNode())
	count := max(uint64(options.initialNodes), s.Blocks()/ppn)
	if err := s.Grow(count * ppn); err != nil {
		return nil, errors.Wrap(err, "reserve initial nodes")
	}
	t.hdr.NodeCount = uint32(count)
	t.hdr.FreeNodes = uint32(count) - 1

	hn, err := t.cache.Create(0)
	if err != nil {
		return nil, err
	}
	formatHeaderNode(hn, &t.hdr)
	hn.PutU8(headerMapOff, 0x80)

	// Map nodes for whatever the header bitmap cannot cover.
	prev := hn
	_, length, err := mapRecord(hn)
	if err != nil {
		t.putNode(hn)
		return nil, err
	}
	for covered := uint32(length * 8); covered < t.hdr.NodeCount; {
		m, err := t.initMapNode(prev, covered)
		t.putNode(prev)
		if err != nil {
			return nil, err
		}
		prev = m
		_, length, _ = mapRecord(m)
		covered += uint32(length * 8)
	}
	t.putNode(prev)

	if err := t.flushHeader(false); err != nil {
		return nil, err
	}
	t.log.Info("created b*tree", "node_size", h.NodeSize, "max_key_len", h.MaxKeyLen, "nodes", t.hdr.NodeCount)
	return t, nil
}

// Open loads the tree stored on s.
func Open(s BlockStore, cmp KeyComparator, opts ...Option) (*BTree, error) {
	options := buildOptions(opts)

	if s.Blocks() == 0 {
		return nil, ErrNotFormatted
	}
	h, err := peekHeader(s)
	if err != nil {
		return nil, err
	}

	t, err := newTree(s, cmp, options, h)
	if err != nil {
		return nil, err
	}
	if uint64(h.NodeCount)*uint64(t.layout.PagesPerNode()) > s.Blocks() {
		return nil, errors.Wrapf(ErrCorrupt, "header claims %d nodes, store holds %d blocks", h.NodeCount, s.Blocks())
	}

	hn, err := t.cache.Get(0)
	if err != nil {
		return nil, err
	}
	h, err = readHeader(hn)
	t.putNode(hn)
	if err != nil {
		return nil, err
	}
	if err := h.validate(); err != nil {
		t.log.Warn("invalid b*tree header", "error", err)
		return nil, err
	}
	if h.Attributes&AttrBadClose != 0 {
		t.log.Warn("b*tree was not closed cleanly", "nodes", h.NodeCount)
		h.Attributes &^= AttrBadClose
	}
	t.hdr = h
	if err := t.flushHeader(false); err != nil {
		return nil, err
	}

	t.log.Info("opened b*tree", "depth", h.Depth, "records", h.LeafCount, "nodes", h.NodeCount, "free", h.FreeNodes)
	return t, nil
}

// peekHeader reads just enough of node 0 to learn the tree geometry.
func peekHeader(s BlockStore) (Header, error) {
	var h Header
	bs := s.BlockSize()
	need := node.DescSize + headerRecSize
	blocks := (need + bs - 1) / bs
	if uint64(blocks) > s.Blocks() {
		return h, errors.Wrap(ErrNotFormatted, "store too small for a header node")
	}
	buf := make([]byte, blocks*bs)
	for i := 0; i < blocks; i++ {
		if err := s.ReadBlock(uint64(i), buf[i*bs:(i+1)*bs]); err != nil {
			return h, err
		}
	}
	if node.Kind(int8(buf[8])) != node.KindHeader {
		return h, errors.Wrapf(ErrNotFormatted, "node 0 has kind %d", int8(buf[8]))
	}
	h.unmarshal(buf[node.DescSize:need])
	return h, nil
}

// OpenFile opens the tree stored in the file at path, formatting the file
// first if it is empty. The tree owns the file and closes it on Close.
func OpenFile(path string, cmp KeyComparator, opts ...Option) (*BTree, error) {
	options := buildOptions(opts)

	var s BlockStore
	var err error
	switch {
	case options.mmap:
		s, err = NewMMapStore(path, options.blockSize)
	case options.directIO:
		s, err = NewDirectStore(path, options.blockSize)
	default:
		s, err = NewFileStore(path, options.blockSize)
	}
	if err != nil {
		return nil, err
	}

	var t *BTree
	if s.Blocks() == 0 {
		t, err = Create(s, cmp, opts...)
	} else {
		t, err = Open(s, cmp, opts...)
	}
	if err != nil {
		s.Close()
		return nil, err
	}
	t.owned = true
	return t, nil
}

// Close writes the header and every dirty node back and releases the cache.
func (t *BTree) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}

	err := t.flushHeader(true)
	if err == nil {
		err = t.cache.Purge()
	}
	if t.owned {
		if cerr := t.store.Close(); err == nil {
			err = cerr
		}
	}
	t.closed = true
	if err != nil {
		t.log.Error("close b*tree", "error", err)
		return err
	}
	t.log.Info("closed b*tree", "records", t.hdr.LeafCount)
	return nil
}

// FlushHeader writes the header record into node 0 and flushes every dirty
// node to the store.
func (t *BTree) FlushHeader() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTreeClosed
	}
	return t.flushHeader(false)
}

// flushHeader writes the header and syncs. Until a clean close the on-disk
// copy carries AttrBadClose so an interrupted session is noticed on Open.
func (t *BTree) flushHeader(clean bool) error {
	hn, err := t.cache.Get(0)
	if err != nil {
		return err
	}
	h := t.hdr
	if !clean {
		h.Attributes |= AttrBadClose
	}
	writeHeader(hn, &h)
	t.putNode(hn)

	if err := t.cache.Flush(); err != nil {
		t.log.Error("flush b*tree nodes", "error", err)
		return err
	}
	return t.store.Sync()
}

// Header returns a snapshot of the in-memory header.
func (t *BTree) Header() Header {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hdr
}

// Depth returns the current tree height, 0 for an empty tree.
func (t *BTree) Depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int(t.hdr.Depth)
}

// Len returns the number of records in the tree.
func (t *BTree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int(t.hdr.LeafCount)
}

// CacheStats holds node cache statistics.
type CacheStats struct {
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
	Cached     int
}

// Stats describes the tree and its cache.
type Stats struct {
	Header Header
	Cache  CacheStats
}

// Stats returns the header snapshot and cache counters.
func (t *BTree) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := t.cache.Stats()
	return Stats{
		Header: t.hdr,
		Cache: CacheStats{
			Hits:       cs.Hits,
			Misses:     cs.Misses,
			Evictions:  cs.Evictions,
			Writebacks: cs.Writebacks,
			Cached:     t.cache.Len(),
		},
	}
}

func (t *BTree) getNode(id node.ID) (*node.Node, error) {
	n, err := t.cache.Get(id)
	if err != nil && errors.Is(err, ErrCorrupt) {
		t.log.Warn("corrupt b*tree node", "node", id, "error", err)
	}
	return n, err
}

// putNode releases a node reference. Deleted nodes hand their id to the
// freed list, drained by releaseFreed at the end of the operation.
func (t *BTree) putNode(n *node.Node) {
	if n == nil {
		return
	}
	if t.cache.Put(n) {
		t.freed = append(t.freed, n.ID)
	}
}

func (t *BTree) releaseFreed() error {
	var first error
	for _, id := range t.freed {
		if err := t.freeNode(id); err != nil && first == nil {
			first = err
		}
	}
	t.freed = t.freed[:0]
	return first
}

// corrupt logs and returns a corruption error.
func (t *BTree) corrupt(format string, args ...any) error {
	err := errors.Wrapf(ErrCorrupt, format, args...)
	t.log.Warn("inconsistency in b*tree", "error", err)
	return err
}
