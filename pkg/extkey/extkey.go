// ABOUTME: Extended-key store for keys whose length exceeds a node's fixed slot
// ABOUTME: Stores the full key (not just its suffix) in the overflow blob, cached per-DB with an LRU

package extkey

import (
	"container/list"
	"sync"

	"github.com/nainya/kvengine/pkg/blob"
)

// Design-note decision (spec.md §9, "extended-key representation" open
// question): this store keeps the *full* key in the extkey BLOB rather than
// only the suffix past the inline prefix. The node's inline_bytes still holds
// the configured-keysize-byte prefix for ordering/prefix-compare purposes;
// the last 8 of those bytes are overwritten with the extkey RID (per the B+
// tree node's EXTENDED flag contract) once a key is promoted to extended.
// Tests in §8 do not depend on which choice was made; this one was picked
// because it keeps comparator logic uniform (always compare the full
// materialized key once a full compare is requested), at the cost of
// duplicating the inline prefix's bytes inside the blob.

const defaultCacheSize = 256

// entry is one LRU cache slot.
type entry struct {
	dbID uint16
	rid  uint64
	key  []byte
}

// Store manages extended-key overflow BLOBs and a per-DB LRU cache of
// recently materialized keys.
type Store struct {
	mu    sync.Mutex
	blobs *blob.Store

	cacheSize int
	order     *list.List // most-recently-used at the front
	index     map[uint16]map[uint64]*list.Element
}

func New(blobs *blob.Store) *Store {
	return &Store{
		blobs:     blobs,
		cacheSize: defaultCacheSize,
		order:     list.New(),
		index:     make(map[uint16]map[uint64]*list.Element),
	}
}

func (s *Store) SetCacheSize(n int) {
	if n > 0 {
		s.cacheSize = n
	}
}

// StoreExtended writes fullKey to a new overflow BLOB and caches it.
func (s *Store) StoreExtended(dbID uint16, fullKey []byte) (uint64, error) {
	h, err := s.blobs.Allocate(append([]byte(nil), fullKey...))
	if err != nil {
		return 0, err
	}
	// Extended keys are always out-of-line by construction (they exceed the
	// inline slot), so h.Rid is a real extent address here.
	s.put(dbID, h.Rid, fullKey)
	return h.Rid, nil
}

// GetExtended materializes the full key for rid, consulting the LRU cache first.
func (s *Store) GetExtended(dbID uint16, rid uint64) ([]byte, error) {
	if key, ok := s.get(dbID, rid); ok {
		return key, nil
	}
	key, err := s.blobs.Read(blob.Handle{Rid: rid}, nil)
	if err != nil {
		return nil, err
	}
	s.put(dbID, rid, key)
	return key, nil
}

// Invalidate drops rid from the cache (call after overwrite/free).
func (s *Store) Invalidate(dbID uint16, rid uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.index[dbID]
	if !ok {
		return
	}
	if el, ok := m[rid]; ok {
		s.order.Remove(el)
		delete(m, rid)
	}
}

func (s *Store) get(dbID uint16, rid uint64) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.index[dbID]
	if !ok {
		return nil, false
	}
	el, ok := m[rid]
	if !ok {
		return nil, false
	}
	s.order.MoveToFront(el)
	return el.Value.(*entry).key, true
}

func (s *Store) put(dbID uint16, rid uint64, key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.index[dbID]
	if !ok {
		m = make(map[uint64]*list.Element)
		s.index[dbID] = m
	}
	if el, ok := m[rid]; ok {
		el.Value.(*entry).key = key
		s.order.MoveToFront(el)
		return
	}
	el := s.order.PushFront(&entry{dbID: dbID, rid: rid, key: append([]byte(nil), key...)})
	m[rid] = el

	for s.order.Len() > s.cacheSize {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		oe := oldest.Value.(*entry)
		delete(s.index[oe.dbID], oe.rid)
		s.order.Remove(oldest)
	}
}
