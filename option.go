package hfsbtree

import (
	"github.com/alexhholmes/hfsbtree/internal/cache"
)

// Options configures tree behavior. Format parameters (node size, key
// length, attributes) only matter to Create; Open reads them from the header.
type Options struct {
	logger       Logger
	cacheSize    int  // Unreferenced nodes kept in memory.
	nodeSize     int  // Bytes per node, power of two in [512, 32768].
	blockSize    int  // Store block size used by OpenFile.
	maxKeyLen    int  // Longest key body accepted.
	bigKeys      bool // 16-bit key length prefix.
	varIndexKeys bool // Index keys stored at their real length.
	clumpNodes   int  // Nodes added each time the store grows.
	initialNodes int  // Nodes allocated by Create.
	btreeType    uint8
	keyType      uint8
	mmap         bool // OpenFile maps the file instead of using positioned I/O.
	directIO     bool // OpenFile bypasses the OS page cache.
}

// Defaults of an HFS+ catalog-sized tree.
const (
	DefaultCacheSize    = 1024
	DefaultNodeSize     = 4096
	DefaultBlockSize    = 512
	DefaultMaxKeyLen    = CatalogMaxKeyLen
	DefaultClumpNodes   = 64
	DefaultInitialNodes = 16
)

// DefaultOptions returns the defaults of an HFS+ catalog-sized tree.
//
//goland:noinspection GoUnusedExportedFunction
func DefaultOptions() Options {
	return Options{
		logger:       DiscardLogger{},
		cacheSize:    DefaultCacheSize,
		nodeSize:     DefaultNodeSize,
		blockSize:    DefaultBlockSize,
		maxKeyLen:    DefaultMaxKeyLen,
		bigKeys:      true,
		varIndexKeys: true,
		clumpNodes:   DefaultClumpNodes,
		initialNodes: DefaultInitialNodes,
	}
}

// Option configures tree options using the functional options pattern.
type Option func(*Options)

// WithLogger sets the logger used for lifecycle events and corruption reports.
//
//goland:noinspection GoUnusedExportedFunction
func WithLogger(l Logger) Option {
	return func(opts *Options) {
		opts.logger = l
	}
}

// WithCacheSize sets how many unreferenced nodes stay cached. Values below
// the cache minimum are raised to it.
//
//goland:noinspection GoUnusedExportedFunction
func WithCacheSize(n int) Option {
	return func(opts *Options) {
		opts.cacheSize = max(n, cache.MinCacheSize)
	}
}

// WithNodeSize sets the node size of a new tree.
//
//goland:noinspection GoUnusedExportedFunction
func WithNodeSize(n int) Option {
	return func(opts *Options) {
		opts.nodeSize = n
	}
}

// WithBlockSize sets the block size of stores opened by OpenFile. It must
// divide the node size.
//
//goland:noinspection GoUnusedExportedFunction
func WithBlockSize(n int) Option {
	return func(opts *Options) {
		opts.blockSize = n
	}
}

// WithMaxKeyLen sets the longest key body a new tree accepts.
//
//goland:noinspection GoUnusedExportedFunction
func WithMaxKeyLen(n int) Option {
	return func(opts *Options) {
		opts.maxKeyLen = n
	}
}

// WithBigKeys selects 16-bit (true) or 8-bit key length prefixes.
//
//goland:noinspection GoUnusedExportedFunction
func WithBigKeys(on bool) Option {
	return func(opts *Options) {
		opts.bigKeys = on
	}
}

// WithVariableIndexKeys stores index keys at their real length instead of
// padding them to the maximum key length.
//
//goland:noinspection GoUnusedExportedFunction
func WithVariableIndexKeys(on bool) Option {
	return func(opts *Options) {
		opts.varIndexKeys = on
	}
}

// WithClumpNodes sets how many nodes the store grows by when the allocator
// runs out of free nodes.
//
//goland:noinspection GoUnusedExportedFunction
func WithClumpNodes(n int) Option {
	return func(opts *Options) {
		opts.clumpNodes = max(n, 1)
	}
}

// WithInitialNodes sets the number of nodes Create reserves up front.
//
//goland:noinspection GoUnusedExportedFunction
func WithInitialNodes(n int) Option {
	return func(opts *Options) {
		opts.initialNodes = max(n, 1)
	}
}

// WithTreeType records the btree and key type bytes of the header.
//
//goland:noinspection GoUnusedExportedFunction
func WithTreeType(btreeType, keyType uint8) Option {
	return func(opts *Options) {
		opts.btreeType = btreeType
		opts.keyType = keyType
	}
}

// WithMMap makes OpenFile use a memory mapped store.
//
//goland:noinspection GoUnusedExportedFunction
func WithMMap() Option {
	return func(opts *Options) {
		opts.mmap = true
	}
}

// WithDirectIO makes OpenFile bypass the OS page cache. WithMMap takes
// precedence when both are given.
//
//goland:noinspection GoUnusedExportedFunction
func WithDirectIO() Option {
	return func(opts *Options) {
		opts.directIO = true
	}
}
