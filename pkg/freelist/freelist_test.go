// ABOUTME: Exercises AllocArea/MarkFree/AllocPage against a fake in-memory page+raw-extent backend
package freelist

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/nainya/kvengine/pkg/page"
)

const testPagesize = 512

type fakeIO struct {
	pages map[uint64]*page.Page
	next  uint64
	raw   uint64
}

func newFakeIO() *fakeIO {
	return &fakeIO{pages: make(map[uint64]*page.Page), next: 1, raw: 1 << 20}
}

func (f *fakeIO) FetchPage(rid uint64) (*page.Page, error) {
	p, ok := f.pages[rid]
	if !ok {
		return nil, errUnreachable
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
	addr := f.raw
	f.raw += uint64(size)
	return addr, nil
}

func TestAllocAreaExtendsOnFirstMiss(t *testing.T) {
	io := newFakeIO()
	fl := New(io, testPagesize, 0)

	addr, err := fl.AllocArea(64, Hints{})
	require.NoError(t, err)
	require.NotZero(t, addr)

	total, err := fl.Total()
	require.NoError(t, err)
	require.Zero(t, total, "freshly extended space is not tracked until freed")
}

func TestMarkFreeThenReuse(t *testing.T) {
	io := newFakeIO()
	fl := New(io, testPagesize, 0)

	addr, err := fl.AllocArea(64, Hints{})
	require.NoError(t, err)

	require.NoError(t, fl.MarkFree(addr, 64, true))
	total, err := fl.Total()
	require.NoError(t, err)
	require.Equal(t, 2, total) // 64 bytes == 2 chunks of ChunkSize(32)

	reused, err := fl.AllocArea(64, Hints{})
	require.NoError(t, err)
	require.Equal(t, addr, reused, "a freed run should be handed back before extending again")

	total, err = fl.Total()
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestAllocAreaRespectsLowerBound(t *testing.T) {
	io := newFakeIO()
	fl := New(io, testPagesize, 0)

	low, err := fl.AllocArea(32, Hints{})
	require.NoError(t, err)
	high, err := fl.AllocArea(32, Hints{})
	require.NoError(t, err)
	require.NoError(t, fl.MarkFree(low, 32, true))
	require.NoError(t, fl.MarkFree(high, 32, true))

	reused, err := fl.AllocArea(32, Hints{LowerBound: high})
	require.NoError(t, err)
	require.GreaterOrEqual(t, reused, high, "AllocArea must never return an address below LowerBound")
}

func TestAllocPageIsPageAligned(t *testing.T) {
	io := newFakeIO()
	fl := New(io, testPagesize, 0)

	rid, err := fl.AllocPage(Hints{})
	require.NoError(t, err)
	require.NotZero(t, rid)
}

func TestFreelistPageRoundTripsHeaderFields(t *testing.T) {
	io := newFakeIO()
	p, err := io.NewPage(page.TypeFreelist, testPagesize)
	require.NoError(t, err)
	fp := Init(p, 4096, 128)
	fp.MarkRange(0, 4, true)

	reopened := Wrap(p)
	type snapshot struct {
		Overflow     uint64
		MaxBits      int
		StartAddress uint64
		FreeBits     []int
	}
	got := snapshot{
		Overflow:     reopened.Overflow(),
		MaxBits:      reopened.MaxBits(),
		StartAddress: reopened.StartAddress(),
	}
	for i := 0; i < reopened.MaxBits(); i++ {
		if reopened.IsFree(i) {
			got.FreeBits = append(got.FreeBits, i)
		}
	}
	want := snapshot{
		Overflow:     0,
		MaxBits:      128,
		StartAddress: 4096,
		FreeBits:     []int{0, 1, 2, 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("freelist page header mismatch (-want +got):\n%s", diff)
	}
}
