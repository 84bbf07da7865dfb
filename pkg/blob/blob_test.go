// ABOUTME: Exercises tiny/small/empty inline encoding, out-of-line alloc/overwrite/free, and the duplicate table
package blob

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/nainya/kvengine/pkg/freelist"
	"github.com/nainya/kvengine/pkg/page"
)

const testPagesize = 512

type fakeIO struct {
	pages map[uint64]*page.Page
	next  uint64
	raw   map[uint64][]byte
	cur   uint64
}

func newFakeIO() *fakeIO {
	return &fakeIO{pages: make(map[uint64]*page.Page), next: 1, raw: make(map[uint64][]byte), cur: 1 << 20}
}

func (f *fakeIO) FetchPage(rid uint64) (*page.Page, error) {
	p, ok := f.pages[rid]
	if !ok {
		return nil, fmt.Errorf("no such page %d", rid)
	}
	return p, nil
}

func (f *fakeIO) NewPage(typ page.Type, size int) (*page.Page, error) {
	rid := f.next
	f.next++
	p := page.New(rid, size, typ)
	f.pages[rid] = p
	return p, nil
}

func (f *fakeIO) WritePage(p *page.Page) error {
	f.pages[p.Rid] = p
	return nil
}

func (f *fakeIO) ExtendRaw(size int64) (uint64, error) {
	addr := f.cur
	f.cur += uint64(size)
	return addr, nil
}

func (f *fakeIO) ReadRaw(offset uint64, size int) ([]byte, error) {
	buf, ok := f.raw[offset]
	if !ok {
		return make([]byte, size), nil
	}
	out := make([]byte, size)
	copy(out, buf)
	return out, nil
}

func (f *fakeIO) WriteRaw(offset uint64, data []byte) error {
	f.raw[offset] = append([]byte(nil), data...)
	return nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	io := newFakeIO()
	fl := freelist.New(io, testPagesize, 0)
	return New(io, fl)
}

func TestAllocateClassifiesByLength(t *testing.T) {
	store := newTestStore(t)

	empty, err := store.Allocate(nil)
	require.NoError(t, err)
	require.Equal(t, Empty, empty.Flags)

	tiny, err := store.Allocate([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, Tiny, tiny.Flags)

	small, err := store.Allocate([]byte("12345678"))
	require.NoError(t, err)
	require.Equal(t, Small, small.Flags)

	big, err := store.Allocate([]byte("this record is long enough to need out-of-line storage"))
	require.NoError(t, err)
	require.Equal(t, FlagNone, big.Flags)
}

func TestAllocateReadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	cases := [][]byte{
		nil,
		[]byte("short"),
		[]byte("12345678"),
		[]byte("a record long enough to spill out of line entirely"),
	}
	for _, record := range cases {
		h, err := store.Allocate(record)
		require.NoError(t, err)
		got, err := store.Read(h, nil)
		require.NoError(t, err)
		if diff := cmp.Diff(record, got); diff != "" {
			t.Fatalf("round-trip mismatch for %q (-want +got):\n%s", record, diff)
		}
	}
}

func TestReadPartialWindow(t *testing.T) {
	store := newTestStore(t)
	h, err := store.Allocate([]byte("0123456789"))
	require.NoError(t, err)

	got, err := store.Read(h, &PartialRange{Offset: 2, Size: 4})
	require.NoError(t, err)
	require.Equal(t, "2345", string(got))
}

func TestOverwriteInPlaceWhenItFits(t *testing.T) {
	store := newTestStore(t)
	h, err := store.Allocate([]byte("this record is long enough to need out-of-line storage"))
	require.NoError(t, err)

	updated, err := store.Overwrite(h, []byte("shorter but still out-of-line replacement text"), nil)
	require.NoError(t, err)
	require.Equal(t, h.Rid, updated.Rid, "a shrink that still fits the allocation should reuse the same extent")

	got, err := store.Read(updated, nil)
	require.NoError(t, err)
	require.Equal(t, "shorter but still out-of-line replacement text", string(got))
}

func TestOverwriteGrowsToNewExtentWhenTooBig(t *testing.T) {
	store := newTestStore(t)
	h, err := store.Allocate([]byte("small out-of-line record"))
	require.NoError(t, err)

	bigger := "a replacement so much larger than the original allocation that it cannot be reused in place"
	updated, err := store.Overwrite(h, []byte(bigger), nil)
	require.NoError(t, err)

	got, err := store.Read(updated, nil)
	require.NoError(t, err)
	require.Equal(t, bigger, string(got))
}

func TestOverwritePartialMergePreservesSurroundingBytes(t *testing.T) {
	store := newTestStore(t)
	h, err := store.Allocate([]byte("0123456789"))
	require.NoError(t, err)

	updated, err := store.Overwrite(h, []byte("XYZ"), &PartialRange{Offset: 3, Size: 3})
	require.NoError(t, err)

	got, err := store.Read(updated, nil)
	require.NoError(t, err)
	require.Equal(t, "012XYZ6789", string(got))
}

func TestOverwritePartialMergeGrowsAndZeroFillsGap(t *testing.T) {
	store := newTestStore(t)
	h, err := store.Allocate([]byte("abc"))
	require.NoError(t, err)

	updated, err := store.Overwrite(h, []byte("Z"), &PartialRange{Offset: 5, Size: 1})
	require.NoError(t, err)

	got, err := store.Read(updated, nil)
	require.NoError(t, err)
	want := []byte{'a', 'b', 'c', 0, 0, 'Z'}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("partial-grow mismatch (-want +got):\n%s", diff)
	}
}

func TestFreeIsNoopForInlineHandles(t *testing.T) {
	store := newTestStore(t)
	h, err := store.Allocate([]byte("tiny"))
	require.NoError(t, err)
	require.NoError(t, store.Free(h))
}

func TestDuplicateTableInsertOrderAndCount(t *testing.T) {
	store := newTestStore(t)
	first, err := store.Allocate([]byte("r1"))
	require.NoError(t, err)
	second, err := store.Allocate([]byte("r2"))
	require.NoError(t, err)

	tbl, pos, err := store.DupeInsert(Handle{}, &first, second, 0, DupeInsertLast)
	require.NoError(t, err)
	require.Equal(t, 1, pos)

	count, err := store.DupeCount(tbl)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	entries, err := store.DupeGetTable(tbl)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	got0, err := store.Read(entries[0], nil)
	require.NoError(t, err)
	require.Equal(t, "r1", string(got0))
	got1, err := store.Read(entries[1], nil)
	require.NoError(t, err)
	require.Equal(t, "r2", string(got1))
}

func TestDuplicateTableInsertFirst(t *testing.T) {
	store := newTestStore(t)
	r1, err := store.Allocate([]byte("r1"))
	require.NoError(t, err)
	r2, err := store.Allocate([]byte("r2"))
	require.NoError(t, err)

	tbl, pos, err := store.DupeInsert(Handle{}, &r1, r2, 0, DupeInsertLast)
	require.NoError(t, err)
	require.Equal(t, 1, pos)

	r3, err := store.Allocate([]byte("r3"))
	require.NoError(t, err)
	tbl, pos, err = store.DupeInsert(tbl, nil, r3, 0, DupeInsertFirst)
	require.NoError(t, err)
	require.Equal(t, 0, pos)

	var order []string
	n, err := store.DupeCount(tbl)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		h, err := store.DupeGet(tbl, i)
		require.NoError(t, err)
		v, err := store.Read(h, nil)
		require.NoError(t, err)
		order = append(order, string(v))
	}
	require.Equal(t, []string{"r3", "r1", "r2"}, order)
}

func TestDuplicateTableEraseOneAndAll(t *testing.T) {
	store := newTestStore(t)
	r1, err := store.Allocate([]byte("r1"))
	require.NoError(t, err)
	r2, err := store.Allocate([]byte("r2"))
	require.NoError(t, err)

	tbl, _, err := store.DupeInsert(Handle{}, &r1, r2, 0, DupeInsertLast)
	require.NoError(t, err)

	tbl, err = store.DupeErase(tbl, 0, EraseOne)
	require.NoError(t, err)
	count, err := store.DupeCount(tbl)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	remaining, err := store.DupeGet(tbl, 0)
	require.NoError(t, err)
	v, err := store.Read(remaining, nil)
	require.NoError(t, err)
	require.Equal(t, "r2", string(v))

	emptied, err := store.DupeErase(tbl, 0, EraseAll)
	require.NoError(t, err)
	require.Zero(t, emptied.Rid)
}
