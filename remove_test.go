package hfsbtree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	tree, _ := setupSmall(t)
	for i := 0; i < 100; i++ {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}
	require.NoError(t, tree.Delete(key(50)))
	assert.ErrorIs(t, tree.Delete(key(50)), ErrNotFound)
	assert.ErrorIs(t, tree.Delete(key(500)), ErrNotFound)
	assert.Equal(t, 99, tree.Len())
	mustCheck(t, tree)
}

func TestDeleteAllFreesEveryNode(t *testing.T) {
	t.Parallel()

	tree, _ := setupSmall(t, WithInitialNodes(4), WithClumpNodes(8))
	rng := rand.New(rand.NewSource(5))
	for _, i := range rng.Perm(1500) {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}
	grown := tree.Header().NodeCount
	assert.Greater(t, grown, uint32(4))

	depth := tree.Depth()
	for n, i := range rng.Perm(1500) {
		require.NoError(t, tree.Delete(key(i)))
		if d := tree.Depth(); d != 0 {
			require.Equal(t, depth, d, "depth only drops when the tree empties")
		}
		if n%300 == 0 {
			mustCheck(t, tree)
		}
	}

	h := tree.Header()
	assert.Equal(t, uint16(0), h.Depth)
	assert.Equal(t, NodeID(0), h.Root)
	assert.Equal(t, NodeID(0), h.LeafHead)
	assert.Equal(t, NodeID(0), h.LeafTail)
	assert.Equal(t, uint32(0), h.LeafCount)
	assert.Equal(t, grown, h.NodeCount, "the store never shrinks")
	assert.Equal(t, grown-1, h.FreeNodes, "only the header node stays in use")
	mustCheck(t, tree)

	// The emptied tree is usable again.
	require.NoError(t, tree.Insert(key(7), val(7)))
	assert.Equal(t, 1, tree.Depth())
	mustCheck(t, tree)
}

func TestDeleteFirstKeysUpdatesIndex(t *testing.T) {
	t.Parallel()

	tree, _ := setupSmall(t)
	for i := 0; i < 500; i++ {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}
	// Every delete removes record 0 of the first leaf.
	for i := 0; i < 450; i++ {
		require.NoError(t, tree.Delete(key(i)))
	}
	mustCheck(t, tree)

	keys := collect(t, tree)
	require.Len(t, keys, 50)
	assert.Equal(t, key(450), keys[0])

	c, err := tree.NewCursor()
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.First())
	assert.Equal(t, key(450), c.Key())
}

func TestDeleteLastLeafMovesTail(t *testing.T) {
	t.Parallel()

	tree, _ := setupSmall(t)
	for i := 0; i < 200; i++ {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}
	tail := tree.Header().LeafTail
	for i := 199; i >= 150; i-- {
		require.NoError(t, tree.Delete(key(i)))
	}
	assert.NotEqual(t, tail, tree.Header().LeafTail)
	mustCheck(t, tree)

	c, err := tree.NewCursor()
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Last())
	assert.Equal(t, key(149), c.Key())
}

func TestMixedWorkload(t *testing.T) {
	t.Parallel()

	tree, _ := setupSmall(t, WithCacheSize(16))
	rng := rand.New(rand.NewSource(99))
	live := map[int]bool{}
	for step := 0; step < 6000; step++ {
		i := rng.Intn(1000)
		if live[i] {
			require.NoError(t, tree.Delete(key(i)))
			delete(live, i)
		} else {
			require.NoError(t, tree.Insert(key(i), val(i)))
			live[i] = true
		}
		if step%1000 == 999 {
			st := mustCheck(t, tree)
			assert.Equal(t, len(live), st.Records)
		}
	}
	for i := 0; i < 1000; i++ {
		_, err := tree.Get(key(i))
		if live[i] {
			assert.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, ErrNotFound)
		}
	}
}
