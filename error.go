package hfsbtree

import (
	"github.com/pkg/errors"

	"github.com/alexhholmes/hfsbtree/internal/cache"
	"github.com/alexhholmes/hfsbtree/internal/node"
	"github.com/alexhholmes/hfsbtree/internal/store"
)

//goland:noinspection GoUnusedGlobalVariable
var (
	ErrNotFound       = errors.New("record not found")
	ErrExists         = errors.New("record already exists")
	ErrKeyEmpty       = errors.New("key cannot be empty")
	ErrKeyTooLarge    = errors.New("key too large")
	ErrRecordTooLarge = errors.New("record too large for a node")
	ErrValueSize      = errors.New("value size does not match record")
	ErrTreeClosed     = errors.New("b*tree is closed")
	ErrCursorDone     = errors.New("cursor is closed")
	ErrNotFormatted   = errors.New("store holds no b*tree")

	ErrCorrupt         = node.ErrCorrupt
	ErrInvalidNodeSize = node.ErrInvalidNodeSize
	ErrInvalidKeyLen   = node.ErrInvalidKeyLen
	ErrNodeBusy        = cache.ErrNodeBusy

	ErrNoSpace = store.ErrNoSpace
	ErrIO      = store.ErrIO
)
