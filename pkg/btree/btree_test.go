// ABOUTME: Exercises Insert/Find/Delete/Enumerate end to end against a fake in-memory IO
package btree

import (
	"fmt"
	"testing"

	"github.com/nainya/kvengine/pkg/blob"
	"github.com/nainya/kvengine/pkg/extkey"
	"github.com/nainya/kvengine/pkg/freelist"
	"github.com/nainya/kvengine/pkg/keys"
	"github.com/nainya/kvengine/pkg/kverrors"
	"github.com/nainya/kvengine/pkg/page"
)

const testPagesize = 1024

// fakeIO is a minimal in-memory implementation of btree.IO plus blob.IO,
// enough to exercise Tree logic without a real Device/Cache/Freelist stack.
type fakeIO struct {
	pages map[uint64]*page.Page
	next  uint64
	raw   map[uint64][]byte
}

func newFakeIO() *fakeIO {
	return &fakeIO{pages: make(map[uint64]*page.Page), next: 1, raw: make(map[uint64][]byte)}
}

func (f *fakeIO) Fetch(rid uint64) (*page.Page, error) {
	p, ok := f.pages[rid]
	if !ok {
		return nil, fmt.Errorf("no such page %d", rid)
	}
	return p, nil
}

func (f *fakeIO) New(typ page.Type) (*page.Page, error) {
	rid := f.next
	f.next++
	p := page.New(rid, testPagesize, typ)
	f.pages[rid] = p
	return p, nil
}

func (f *fakeIO) Free(rid uint64) error {
	delete(f.pages, rid)
	return nil
}

func (f *fakeIO) Write(p *page.Page) error {
	f.pages[p.Rid] = p
	return nil
}

func (f *fakeIO) NewPage(typ page.Type, size int) (*page.Page, error) { return f.New(typ) }
func (f *fakeIO) WritePage(p *page.Page) error                       { return f.Write(p) }
func (f *fakeIO) FetchPage(rid uint64) (*page.Page, error)           { return f.Fetch(rid) }

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

func (f *fakeIO) ExtendRaw(size int64) (uint64, error) {
	addr := f.next * 4096
	f.next++
	return addr, nil
}

func newTestTree(t *testing.T, keysize int) *Tree {
	t.Helper()
	io := newFakeIO()
	fl := freelist.New(io, testPagesize, 0)
	blobs := blob.New(io, fl)
	ext := extkey.New(blobs)
	maxKeys := MaxKeysForPayload(testPagesize-page.HeaderSize, keysize)
	cfg := Config{MaxKeys: maxKeys, Keysize: keysize, Comparator: keys.Default{}, EnableDuplicates: true}
	return New(io, cfg, ext, blobs, 0)
}

func TestInsertFindBasic(t *testing.T) {
	tree := newTestTree(t, 16)
	if err := tree.Insert([]byte("alpha"), []byte("1"), keys.SetOverwrite); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tree.Insert([]byte("beta"), []byte("2"), keys.SetOverwrite); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, rec, err := tree.Find([]byte("alpha"), FindExact)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec.KeySize != 5 {
		t.Fatalf("unexpected keysize %d", rec.KeySize)
	}
}

func TestDuplicateInsertPlacement(t *testing.T) {
	tree := newTestTree(t, 16)
	if err := tree.Insert([]byte("k"), []byte("r1"), keys.SetOverwrite); err != nil {
		t.Fatalf("insert r1: %v", err)
	}
	if err := tree.Insert([]byte("k"), []byte("r2"), keys.SetDuplicate); err != nil {
		t.Fatalf("insert r2: %v", err)
	}
	if err := tree.Insert([]byte("k"), []byte("r3"), keys.SetDuplicateFirst); err != nil {
		t.Fatalf("insert r3: %v", err)
	}

	cur := NewCursor(tree)
	defer cur.Close()
	var got []string
	for err := cur.First(); err == nil; err = cur.Next(false, false) {
		rec, err := cur.Record(nil)
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		got = append(got, string(rec))
	}
	want := []string{"r3", "r1", "r2"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestInsertManyAndSplit(t *testing.T) {
	tree := newTestTree(t, 8)
	n := 500
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%05d", i))
		if err := tree.Insert(key, []byte(fmt.Sprintf("v%d", i)), keys.SetOverwrite); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%05d", i))
		if _, _, err := tree.Find(key, FindExact); err != nil {
			t.Fatalf("find %d: %v", i, err)
		}
	}
	if err := tree.CheckIntegrity(); err != nil {
		t.Fatalf("integrity: %v", err)
	}
}

func TestEnumerateOrdered(t *testing.T) {
	tree := newTestTree(t, 8)
	keysIn := []string{"delta", "alpha", "charlie", "bravo"}
	for _, k := range keysIn {
		if err := tree.Insert([]byte(k), []byte("v"), keys.SetOverwrite); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	var seen []string
	err := tree.Enumerate(func(k []byte, r keys.Record) error {
		seen = append(seen, string(k))
		return nil
	})
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}
	want := []string{"alpha", "bravo", "charlie", "delta"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("out of order: got %v want %v", seen, want)
		}
	}
}

func TestDeleteKey(t *testing.T) {
	tree := newTestTree(t, 8)
	for _, k := range []string{"a", "b", "c"} {
		if err := tree.Insert([]byte(k), []byte("v"), keys.SetOverwrite); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := tree.Delete([]byte("b"), -1, keys.EraseSingle); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := tree.Find([]byte("b"), FindExact); err == nil {
		t.Fatalf("expected key-not-found after delete")
	}
	if _, _, err := tree.Find([]byte("a"), FindExact); err != nil {
		t.Fatalf("find a: %v", err)
	}
}

func TestApproximateMatch(t *testing.T) {
	tree := newTestTree(t, 8)
	for _, k := range []string{"b", "d", "f"} {
		if err := tree.Insert([]byte(k), []byte("v"), keys.SetOverwrite); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	k, _, err := tree.Find([]byte("c"), FindLT)
	if err != nil || string(k) != "b" {
		t.Fatalf("FindLT(c): got %q err %v", k, err)
	}
	k, _, err = tree.Find([]byte("c"), FindGT)
	if err != nil || string(k) != "d" {
		t.Fatalf("FindGT(c): got %q err %v", k, err)
	}
}

func TestCursorOnlyDupes(t *testing.T) {
	tree := newTestTree(t, 16)
	if err := tree.Insert([]byte("a"), []byte("v-a"), keys.SetOverwrite); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if err := tree.Insert([]byte("k"), []byte("r1"), keys.SetOverwrite); err != nil {
		t.Fatalf("insert r1: %v", err)
	}
	if err := tree.Insert([]byte("k"), []byte("r2"), keys.SetDuplicate); err != nil {
		t.Fatalf("insert r2: %v", err)
	}
	if err := tree.Insert([]byte("z"), []byte("v-z"), keys.SetOverwrite); err != nil {
		t.Fatalf("insert z: %v", err)
	}

	cur := NewCursor(tree)
	defer cur.Close()
	if err := cur.Find([]byte("k"), FindExact); err != nil {
		t.Fatalf("find k: %v", err)
	}
	if rec, err := cur.Record(nil); err != nil || string(rec) != "r1" {
		t.Fatalf("expected r1 at first duplicate, got %q err %v", rec, err)
	}

	if err := cur.Next(false, true); err != nil {
		t.Fatalf("next within duplicate run: %v", err)
	}
	if rec, err := cur.Record(nil); err != nil || string(rec) != "r2" {
		t.Fatalf("expected r2 at second duplicate, got %q err %v", rec, err)
	}

	if err := cur.Next(false, true); kverrors.CodeOf(err) != kverrors.KeyNotFound {
		t.Fatalf("expected KeyNotFound once the duplicate run is exhausted, got %v", err)
	}

	if err := cur.Find([]byte("k"), FindExact); err != nil {
		t.Fatalf("re-find k: %v", err)
	}
	if err := cur.Next(true, false); err != nil {
		t.Fatalf("next with skipDupes and without onlyDupes should cross into the next distinct key: %v", err)
	}
	if key, err := cur.Key(); err != nil || string(key) != "z" {
		t.Fatalf("expected cursor to land on z, got %q err %v", key, err)
	}

	if err := cur.Find([]byte("k"), FindExact); err != nil {
		t.Fatalf("re-find k: %v", err)
	}
	if err := cur.Next(true, true); kverrors.CodeOf(err) != kverrors.KeyNotFound {
		t.Fatalf("skipDupes and onlyDupes together should still refuse to leave the key, got %v", err)
	}
}

func TestOverwritePartialMerge(t *testing.T) {
	tree := newTestTree(t, 8)
	if err := tree.Insert([]byte("key"), []byte("0123456789"), keys.SetOverwrite); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := tree.Overwrite([]byte("key"), []byte("XYZ"), &blob.PartialRange{Offset: 3, Size: 3}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	_, rec, err := tree.Find([]byte("key"), FindExact)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	got, err := tree.blobs.Read(rec.BlobHandle(), nil)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if want := "012XYZ6789"; string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	// a partial window past the old end grows the record, zero-filling the gap.
	if err := tree.Overwrite([]byte("key"), []byte("AB"), &blob.PartialRange{Offset: 12, Size: 2}); err != nil {
		t.Fatalf("overwrite past end: %v", err)
	}
	_, rec, err = tree.Find([]byte("key"), FindExact)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	got, err = tree.blobs.Read(rec.BlobHandle(), nil)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	want := append([]byte("012XYZ6789"), 0, 0, 'A', 'B')
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}

	if err := tree.Overwrite([]byte("missing"), []byte("v"), nil); kverrors.CodeOf(err) != kverrors.KeyNotFound {
		t.Fatalf("expected KeyNotFound overwriting a nonexistent key, got %v", err)
	}
}
