package blobstore

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/hsne/resource"
)

// CachingStore keeps recently read blobs of an inner store in memory, up to
// a byte capacity. Cached bytes are charged to the resource controller;
// blobs it refuses are served uncached.
type CachingStore struct {
	inner    BlobStore
	rc       *resource.Controller
	capacity int64

	mu    sync.Mutex
	size  int64
	items map[string]*list.Element
	lru   *list.List

	hits   atomic.Int64
	misses atomic.Int64
}

type cachedBlob struct {
	name        string
	data        []byte
	reservation *resource.Reservation
}

// NewCachingStore wraps inner with a cache of capacity bytes.
func NewCachingStore(inner BlobStore, capacity int64, rc *resource.Controller) *CachingStore {
	return &CachingStore{
		inner:    inner,
		rc:       rc,
		capacity: capacity,
		items:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	if data, ok := s.get(name); ok {
		s.hits.Add(1)
		return &bytesBlob{data: data}, nil
	}
	s.misses.Add(1)

	data, err := Get(ctx, s.inner, name)
	if err != nil {
		return nil, err
	}
	s.set(name, data)
	return &bytesBlob{data: data}, nil
}

func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.invalidate(name)
	return s.inner.Put(ctx, name, data)
}

func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.invalidate(name)
	return s.inner.Delete(ctx, name)
}

func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// Stats returns the hit and miss counts.
func (s *CachingStore) Stats() (hits, misses int64) {
	return s.hits.Load(), s.misses.Load()
}

// Size returns the cached byte count.
func (s *CachingStore) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.size
}

func (s *CachingStore) get(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[name]
	if !ok {
		return nil, false
	}
	s.lru.MoveToFront(el)
	return el.Value.(*cachedBlob).data, true
}

func (s *CachingStore) set(name string, data []byte) {
	n := int64(len(data))
	if n > s.capacity {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[name]; ok {
		s.remove(el)
	}
	for s.size+n > s.capacity {
		s.remove(s.lru.Back())
	}

	r, err := s.rc.Reserve(n)
	if err != nil {
		return
	}
	s.items[name] = s.lru.PushFront(&cachedBlob{name: name, data: data, reservation: r})
	s.size += n
}

func (s *CachingStore) invalidate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[name]; ok {
		s.remove(el)
	}
}

func (s *CachingStore) remove(el *list.Element) {
	cb := s.lru.Remove(el).(*cachedBlob)
	delete(s.items, cb.name)
	s.size -= int64(len(cb.data))
	cb.reservation.Release()
}
