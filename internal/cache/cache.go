package cache

import (
	"encoding/binary"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"
	"github.com/google/btree"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/alexhholmes/hfsbtree/internal/node"
	"github.com/alexhholmes/hfsbtree/internal/store"
)

const (
	MinCacheSize = 16 // Minimum: hold a root-to-leaf path plus split siblings
)

var ErrNodeBusy = errors.New("node is still referenced")

// Cache hands out refcounted nodes. Every node in use is in entries; nodes
// nobody references are additionally parked in the idle LRU, whose
// evictions write dirty nodes back and forget them.
type Cache struct {
	mu      sync.Mutex
	store   store.BlockStore
	layout  *node.Layout
	entries map[node.ID]*entry
	idle    *freelru.LRU[node.ID, *entry]
	flight  singleflight.Group

	// Stats
	hits       atomic.Uint64
	misses     atomic.Uint64
	evictions  atomic.Uint64
	writebacks atomic.Uint64
}

type entry struct {
	node *node.Node
	refs int
}

func hashID(id node.ID) uint32 {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(id))
	h := xxhash.Sum64(b[:])
	return uint32(h) ^ uint32(h>>32)
}

// New creates a node cache keeping up to capacity unreferenced nodes.
func New(s store.BlockStore, l *node.Layout, capacity int) (*Cache, error) {
	capacity = max(capacity, MinCacheSize)
	idle, err := freelru.New[node.ID, *entry](uint32(capacity), hashID)
	if err != nil {
		return nil, errors.Wrap(err, "create idle lru")
	}
	c := &Cache{
		store:   s,
		layout:  l,
		entries: make(map[node.ID]*entry),
		idle:    idle,
	}
	idle.SetOnEvict(c.onEvict)
	return c, nil
}

// onEvict runs with c.mu held, from inside idle.Add.
func (c *Cache) onEvict(id node.ID, e *entry) {
	if e.refs > 0 || c.entries[id] != e {
		return
	}
	if e.node.Dirty() {
		if err := c.writeback(e.node); err != nil {
			// Keep the node; Flush retries it and reports the failure.
			return
		}
	}
	delete(c.entries, id)
	c.evictions.Add(1)
}

func (c *Cache) acquire(e *entry) {
	e.refs++
	if e.refs == 1 {
		c.idle.Remove(e.node.ID)
	}
}

// Get returns node id with its refcount raised. Concurrent misses for the
// same id share one read from the store; a node that fails validation is
// never cached.
func (c *Cache) Get(id node.ID) (*node.Node, error) {
	for {
		c.mu.Lock()
		if e, ok := c.entries[id]; ok {
			c.acquire(e)
			c.mu.Unlock()
			c.hits.Add(1)
			return e.node, nil
		}
		c.mu.Unlock()
		c.misses.Add(1)

		v, err, _ := c.flight.Do(strconv.FormatUint(uint64(id), 10), func() (any, error) {
			c.mu.Lock()
			if e, ok := c.entries[id]; ok {
				c.mu.Unlock()
				return e, nil
			}
			c.mu.Unlock()

			n, err := c.populate(id)
			if err != nil {
				return nil, err
			}

			c.mu.Lock()
			defer c.mu.Unlock()
			e := &entry{node: n}
			c.entries[id] = e
			return e, nil
		})
		if err != nil {
			return nil, err
		}

		e := v.(*entry)
		c.mu.Lock()
		if c.entries[id] == e {
			c.acquire(e)
			c.mu.Unlock()
			return e.node, nil
		}
		// Evicted before we could pin it; look again.
		c.mu.Unlock()
	}
}

func (c *Cache) populate(id node.ID) (*node.Node, error) {
	n := node.New(id, c.layout)
	ppn := uint64(c.layout.PagesPerNode())
	first := uint64(id) * ppn
	if first+ppn > c.store.Blocks() {
		return nil, errors.Wrapf(node.ErrCorrupt, "node %d beyond end of store", id)
	}
	for i, page := range n.Pages() {
		if err := c.store.ReadBlock(first+uint64(i), page); err != nil {
			return nil, errors.Wrapf(err, "read node %d", id)
		}
	}
	n.LoadDesc()
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// Create installs a zeroed node for a freshly allocated id and returns it
// referenced once.
func (c *Cache) Create(id node.ID) (*node.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := node.New(id, c.layout)
	n.MarkDirty()
	if e, ok := c.entries[id]; ok {
		if e.refs > 0 {
			return nil, errors.Wrapf(ErrNodeBusy, "create node %d", id)
		}
		c.acquire(e)
		e.node = n
		return n, nil
	}
	c.entries[id] = &entry{node: n, refs: 1}
	return n, nil
}

// Put drops one reference to n. It reports true when n was marked deleted
// and this was its last reference; the node is then forgotten without
// writeback and the caller owns releasing its id.
func (c *Cache) Put(n *node.Node) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[n.ID]
	if !ok || e.node != n {
		panic("cache: put of node " + strconv.FormatUint(uint64(n.ID), 10) + " not handed out by this cache")
	}
	if e.refs <= 0 {
		panic("cache: put of unreferenced node " + strconv.FormatUint(uint64(n.ID), 10))
	}
	e.refs--
	if e.refs > 0 {
		return false
	}
	if n.Deleted() {
		delete(c.entries, n.ID)
		return true
	}
	c.idle.Add(n.ID, e)
	return false
}

func (c *Cache) writeback(n *node.Node) error {
	first := uint64(n.ID) * uint64(c.layout.PagesPerNode())
	for i, page := range n.Pages() {
		if !n.PageDirty(i) {
			continue
		}
		if err := c.store.WriteBlock(first+uint64(i), page); err != nil {
			return errors.Wrapf(err, "write node %d", n.ID)
		}
	}
	n.ClearDirty()
	c.writebacks.Add(1)
	return nil
}

// Flush writes every dirty node back in ascending id order.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dirty := btree.NewG[*node.Node](8, func(a, b *node.Node) bool { return a.ID < b.ID })
	for _, e := range c.entries {
		if e.node.Dirty() && !e.node.Deleted() {
			dirty.ReplaceOrInsert(e.node)
		}
	}

	var err error
	dirty.Ascend(func(n *node.Node) bool {
		err = c.writeback(n)
		return err == nil
	})
	if err != nil {
		return err
	}

	// Nodes kept back by a failed eviction are clean now and may go idle.
	for id, e := range c.entries {
		if e.refs == 0 && !c.idle.Contains(id) {
			c.idle.Add(id, e)
		}
	}
	return nil
}

// Purge flushes and then forgets every node. It fails with ErrNodeBusy if a
// node is still referenced.
func (c *Cache) Purge() error {
	if err := c.Flush(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		if e.refs > 0 {
			return errors.Wrapf(ErrNodeBusy, "purge: node %d has %d references", id, e.refs)
		}
	}
	c.idle.Purge()
	clear(c.entries)
	return nil
}

// Len returns the number of cached nodes, referenced or idle.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Refs returns the reference count of node id, 0 if it is not cached.
func (c *Cache) Refs(id node.ID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		return e.refs
	}
	return 0
}

type Stats struct {
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
}

// Stats returns cache statistics
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  c.evictions.Load(),
		Writebacks: c.writebacks.Load(),
	}
}

// ClearStats resets the cache's positive incrementing statistics
func (c *Cache) ClearStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
	c.writebacks.Store(0)
}
