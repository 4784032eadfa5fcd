package node

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Small pages so that most multi-byte accesses straddle a page boundary.
func testLayout() *Layout {
	return &Layout{NodeSize: 512, PageSize: 64, MaxKeyLen: 16, BigKeys: true, VarIndexKeys: true}
}

func filled(l *Layout) *Node {
	n := New(1, l)
	for i := 0; i < l.NodeSize; i++ {
		n.PutU8(i, byte(i))
	}
	n.ClearDirty()
	return n
}

func TestLayoutValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, testLayout().Validate())

	bad := []Layout{
		{NodeSize: 256, PageSize: 256, MaxKeyLen: 10, BigKeys: true},
		{NodeSize: 1000, PageSize: 1000, MaxKeyLen: 10, BigKeys: true},
		{NodeSize: 65536, PageSize: 512, MaxKeyLen: 10, BigKeys: true},
		{NodeSize: 512, PageSize: 1024, MaxKeyLen: 10, BigKeys: true},
		{NodeSize: 512, PageSize: 96, MaxKeyLen: 10, BigKeys: true},
		{NodeSize: 512, PageSize: 512, MaxKeyLen: 300},
		{NodeSize: 512, PageSize: 512, MaxKeyLen: 400, BigKeys: true},
	}
	for _, l := range bad {
		assert.Error(t, l.Validate(), "layout %+v", l)
	}
}

func TestSlotLen(t *testing.T) {
	t.Parallel()

	big := &Layout{NodeSize: 512, PageSize: 512, MaxKeyLen: 16, BigKeys: true}
	assert.Equal(t, 6, big.SlotLen(4))
	assert.Equal(t, 6, big.SlotLen(3))
	assert.Equal(t, 18, big.IndexKeySlot())

	small := &Layout{NodeSize: 512, PageSize: 512, MaxKeyLen: 37}
	assert.Equal(t, 6, small.SlotLen(5))
	assert.Equal(t, 6, small.SlotLen(4))
	assert.Equal(t, 38, small.IndexKeySlot())

	slot := small.EncodeKey(KindLeaf, []byte("abc"))
	assert.Equal(t, []byte{3, 'a', 'b', 'c'}, slot)

	slot = big.EncodeKey(KindIndex, []byte("ab"))
	require.Len(t, slot, 18)
	assert.Equal(t, []byte{0, 2, 'a', 'b', 0}, slot[:5])
}

func TestReadWriteAcrossPages(t *testing.T) {
	t.Parallel()

	n := New(3, testLayout())
	payload := bytes.Repeat([]byte{0xAB}, 150)
	n.Write(60, payload)

	assert.Equal(t, payload, n.ReadBytes(60, 150))
	assert.True(t, n.PageDirty(0))
	assert.True(t, n.PageDirty(1))
	assert.True(t, n.PageDirty(3))
	assert.False(t, n.PageDirty(4))

	n.PutU32(62, 0xDEADBEEF)
	assert.Equal(t, uint32(0xDEADBEEF), n.U32(62))
	n.PutU16(127, 0x1234)
	assert.Equal(t, uint16(0x1234), n.U16(127))
	assert.Equal(t, uint8(0x12), n.U8(127))
	assert.Equal(t, uint8(0x34), n.U8(128))

	n.Clear(100, 100)
	assert.Equal(t, make([]byte, 100), n.ReadBytes(100, 100))
}

func TestMoveOverlapping(t *testing.T) {
	t.Parallel()

	l := testLayout()
	for _, tc := range []struct {
		name          string
		dst, src, len int
	}{
		{"forward small", 10, 4, 20},
		{"backward small", 4, 10, 20},
		{"forward across pages", 100, 30, 200},
		{"backward across pages", 30, 100, 200},
		{"forward one byte", 65, 64, 300},
		{"backward one byte", 64, 65, 300},
	} {
		t.Run(tc.name, func(t *testing.T) {
			n := filled(l)
			want := n.ReadBytes(0, l.NodeSize)
			copy(want[tc.dst:tc.dst+tc.len], append([]byte(nil), want[tc.src:tc.src+tc.len]...))

			n.Move(tc.dst, tc.src, tc.len)
			assert.Equal(t, want, n.ReadBytes(0, l.NodeSize))
		})
	}
}

func TestCopyBetweenNodes(t *testing.T) {
	t.Parallel()

	l := testLayout()
	src := filled(l)
	dst := New(2, l)
	dst.Copy(14, src, 50, 100)
	assert.Equal(t, src.ReadBytes(50, 100), dst.ReadBytes(14, 100))
	assert.True(t, dst.Dirty())
	assert.False(t, src.Dirty())
}

func TestOutOfRangePanics(t *testing.T) {
	t.Parallel()

	n := New(1, testLayout())
	assert.Panics(t, func() { n.ReadBytes(500, 20) })
	assert.Panics(t, func() { n.Write(-1, []byte{1}) })
	assert.Panics(t, func() { n.Move(0, 500, 20) })
}

func TestDescriptorRoundTrip(t *testing.T) {
	t.Parallel()

	l := testLayout()
	n := New(7, l)
	n.Init(KindIndex, 3)
	n.SetNext(9)
	n.SetPrev(5)

	m := New(7, l)
	m.Copy(0, n, 0, l.NodeSize)
	m.LoadDesc()
	assert.Equal(t, KindIndex, m.Kind())
	assert.Equal(t, uint8(3), m.Height())
	assert.Equal(t, ID(9), m.Next())
	assert.Equal(t, ID(5), m.Prev())
	assert.Equal(t, 0, m.NumRecs())
	assert.Equal(t, DescSize, m.RecOff(0))

	n.Init(KindLeaf, 1)
	assert.Equal(t, int8(-1), int8(n.U8(8)))
}

func leafWith(t *testing.T, l *Layout, keys ...string) *Node {
	t.Helper()
	n := New(1, l)
	n.Init(KindLeaf, 1)
	for i, k := range keys {
		slot := l.EncodeKey(KindLeaf, []byte(k))
		val := []byte("v-" + k)
		require.True(t, n.Fits(len(slot)+len(val)))
		n.InsertRecord(i, slot, val)
	}
	return n
}

func TestInsertRemoveRecord(t *testing.T) {
	t.Parallel()

	l := testLayout()
	n := leafWith(t, l, "b", "d")

	n.InsertRecord(0, l.EncodeKey(KindLeaf, []byte("a")), []byte("v-a"))
	n.InsertRecord(2, l.EncodeKey(KindLeaf, []byte("c")), []byte("v-c"))
	n.InsertRecord(4, l.EncodeKey(KindLeaf, []byte("e")), []byte("v-e"))
	require.NoError(t, n.Validate())
	require.Equal(t, 5, n.NumRecs())
	for i, k := range []string{"a", "b", "c", "d", "e"} {
		assert.Equal(t, []byte(k), n.Key(i))
		assert.Equal(t, []byte("v-"+k), n.Value(i))
	}

	free := n.FreeSpace()
	n.RemoveRecord(2)
	n.RemoveRecord(0)
	require.NoError(t, n.Validate())
	assert.Equal(t, 3, n.NumRecs())
	assert.Equal(t, []byte("b"), n.Key(0))
	assert.Equal(t, []byte("d"), n.Key(1))
	assert.Equal(t, []byte("v-e"), n.Value(2))
	assert.Greater(t, n.FreeSpace(), free)
}

func TestFillUntilFull(t *testing.T) {
	t.Parallel()

	l := &Layout{NodeSize: 512, PageSize: 512, MaxKeyLen: 16, BigKeys: true}
	n := New(1, l)
	n.Init(KindLeaf, 1)

	// 6 byte key slot + 8 byte value + 2 byte offset = 16 bytes per record.
	count := 0
	for {
		slot := l.EncodeKey(KindLeaf, []byte{0, 0, 0, byte(count)})
		if !n.Fits(len(slot) + 8) {
			break
		}
		n.InsertRecord(count, slot, make([]byte, 8))
		count++
	}
	assert.Equal(t, (512-DescSize-2)/16, count)
	assert.NoError(t, n.Validate())
}

func TestMoveTail(t *testing.T) {
	t.Parallel()

	l := testLayout()
	n := leafWith(t, l, "a", "b", "c", "d", "e")
	right := New(2, l)
	right.Init(KindLeaf, 1)

	n.MoveTail(right, 2)
	require.NoError(t, n.Validate())
	require.NoError(t, right.Validate())
	assert.Equal(t, 2, n.NumRecs())
	assert.Equal(t, 3, right.NumRecs())
	assert.Equal(t, []byte("c"), right.Key(0))
	assert.Equal(t, []byte("v-e"), right.Value(2))
	assert.Equal(t, []byte("b"), n.Key(1))
}

func TestIndexRecords(t *testing.T) {
	t.Parallel()

	l := &Layout{NodeSize: 512, PageSize: 128, MaxKeyLen: 16, BigKeys: true}
	n := New(4, l)
	n.Init(KindIndex, 2)
	n.InsertRecord(0, l.EncodeKey(KindIndex, []byte("m")), IndexValue(11))
	n.InsertRecord(0, l.EncodeKey(KindIndex, []byte("c")), IndexValue(10))

	require.NoError(t, n.Validate())
	assert.Equal(t, l.IndexKeySlot(), n.KeyLen(0))
	assert.Equal(t, []byte("c"), n.Key(0))
	assert.Equal(t, ID(10), n.Child(0))
	assert.Equal(t, ID(11), n.Child(1))
	assert.Equal(t, 1, n.FindChild(11))
	assert.Equal(t, -1, n.FindChild(12))

	n.OverwriteKey(1, l.EncodeKey(KindIndex, []byte("k")))
	assert.Equal(t, []byte("k"), n.Key(1))
	assert.Equal(t, ID(11), n.Child(1))
}

func TestValidateRejectsGarbage(t *testing.T) {
	t.Parallel()

	l := testLayout()

	n := leafWith(t, l, "a", "b")
	n.PutU8(9, 2)
	n.LoadDesc()
	assert.ErrorIs(t, n.Validate(), ErrCorrupt)

	n = leafWith(t, l, "a", "b")
	n.PutU16(l.NodeSize-2, 20)
	assert.ErrorIs(t, n.Validate(), ErrCorrupt)

	n = leafWith(t, l, "a", "b")
	n.PutU16(DescSize, 200)
	assert.ErrorIs(t, n.Validate(), ErrCorrupt)

	n = leafWith(t, l, "a")
	n.PutU8(8, 7)
	n.LoadDesc()
	assert.ErrorIs(t, n.Validate(), ErrCorrupt)
}
