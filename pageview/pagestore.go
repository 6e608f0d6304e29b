package pageview

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheBytes is the default byte budget of a PageStore (128 MiB).
const DefaultCacheBytes int64 = 128 << 20

// PageStore is a bounded, concurrency-safe cache of immutable pages shared by
// any number of views.
//
// Entries are added only by the load-on-miss path of Get and removed only by
// least-recently-used eviction (or Purge). Pages are never mutated. A load in
// flight is not an entry yet, so eviction cannot remove it.
//
// Create one PageStore at process start, pass it to views with WithCache, and
// Purge it at shutdown.
type PageStore struct {
	pageSize   int64
	maxBytes   int64
	maxPages   int
	compressor PageCompressor
	metrics    Metrics
	logger     *slog.Logger

	flights singleflight.Group

	mu    sync.Mutex
	lru   *list.List // front = most recently used
	items map[PageKey]*list.Element
	bytes int64

	hits         atomic.Int64
	misses       atomic.Int64
	loads        atomic.Int64
	loadFailures atomic.Int64
	evictions    atomic.Int64
}

// pageEntry is one stored page.
type pageEntry struct {
	key    PageKey
	stored []byte
	rawLen int
}

// Stats is a point-in-time snapshot of page store counters.
type Stats struct {
	Hits         int64
	Misses       int64
	Loads        int64
	LoadFailures int64
	Evictions    int64
	Pages        int
	Bytes        int64
}

// NewPageStore creates a page store with documented defaults.
//
// Default behavior:
//   - Page size: DefaultPageSize
//   - Byte budget: DefaultCacheBytes
//   - Page count bound: none
//   - Compression: NewNoOpCompressor()
//   - Metrics: none
//
// Use option functions to override defaults:
//   - WithPageSize, WithCacheBytes, WithCachePages
//   - WithPageCompression, WithMetrics, WithLogger
func NewPageStore(opts ...Option) (*PageStore, error) {
	cfg := &storeConfig{
		pageSize:   DefaultPageSize,
		maxBytes:   DefaultCacheBytes,
		compressor: NewNoOpCompressor(),
		logger:     discardLogger,
	}

	for _, opt := range opts {
		if err := opt.applyStore(cfg); err != nil {
			return nil, fmt.Errorf("pageview: %w", err)
		}
	}

	return &PageStore{
		pageSize:   cfg.pageSize,
		maxBytes:   cfg.maxBytes,
		maxPages:   cfg.maxPages,
		compressor: cfg.compressor,
		metrics:    cfg.metrics,
		logger:     cfg.logger,
		lru:        list.New(),
		items:      make(map[PageKey]*list.Element),
	}, nil
}

// PageSize returns the page size pages in this store are cut with.
func (s *PageStore) PageSize() int64 { return s.pageSize }

// Get returns page[off:off+length] for key, loading the page on a miss.
//
// Concurrent callers requesting the same key while a load is in flight wait
// for that load instead of starting another. A failed load is delivered to
// every waiter and is not cached; the next Get retries. A waiter whose ctx
// ends stops waiting, but the load itself continues for the others.
func (s *PageStore) Get(ctx context.Context, key PageKey, off, length int, load LoadFunc) ([]byte, error) {
	if off < 0 || length < 0 {
		return nil, fmt.Errorf("pageview: page %d sub-range (off=%d, length=%d): %w", key.Index, off, length, ErrInvalidRange)
	}
	if load == nil {
		return nil, errors.New("pageview: load function is required")
	}

	page, ok, err := s.lookup(key)
	if err != nil {
		return nil, err
	}
	if ok {
		s.hits.Add(1)
		observeLookup(s.metrics, true)
		return slicePage(key, page, off, length)
	}

	s.misses.Add(1)
	observeLookup(s.metrics, false)

	page, err = s.loadShared(ctx, key, load)
	if err != nil {
		return nil, err
	}
	return slicePage(key, page, off, length)
}

// loadShared runs load at most once per key at a time.
func (s *PageStore) loadShared(ctx context.Context, key PageKey, load LoadFunc) ([]byte, error) {
	loadCtx := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(key.String(), func() (any, error) {
		// A flight for this key may have finished between our miss and now.
		if page, ok, err := s.lookup(key); err != nil || ok {
			return page, err
		}

		start := time.Now()
		page, err := load(loadCtx)
		s.loads.Add(1)
		observeLoad(s.metrics, len(page), time.Since(start), err)
		if err != nil {
			s.loadFailures.Add(1)
			s.logger.Warn("page load failed",
				"locator", key.Identity.Locator(),
				"page", key.Index,
				"error", err)
			return nil, err
		}
		if int64(len(page)) > s.pageSize {
			s.loadFailures.Add(1)
			return nil, fmt.Errorf("pageview: page %d loader returned %d bytes, exceeds page size %d", key.Index, len(page), s.pageSize)
		}

		s.insert(key, page)
		return page, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lookup returns the decoded page for key and marks it most recently used.
func (s *PageStore) lookup(key PageKey) ([]byte, bool, error) {
	s.mu.Lock()
	el, ok := s.items[key]
	if !ok {
		s.mu.Unlock()
		return nil, false, nil
	}
	s.lru.MoveToFront(el)
	entry := el.Value.(*pageEntry)
	s.mu.Unlock()

	// Entries are immutable, so decoding outside the lock is safe.
	page, err := s.compressor.Decode(entry.stored, entry.rawLen)
	if err != nil {
		return nil, false, fmt.Errorf("pageview: decode page %d: %w", key.Index, err)
	}
	return page, true, nil
}

// insert stores page under key and evicts until the store is within bounds.
func (s *PageStore) insert(key PageKey, page []byte) {
	stored := s.compressor.Encode(page)
	size := int64(len(stored))

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		s.lru.MoveToFront(el)
		return
	}
	if size > s.maxBytes {
		s.logger.Debug("page exceeds cache budget, not stored",
			"locator", key.Identity.Locator(),
			"page", key.Index,
			"bytes", size)
		return
	}

	s.items[key] = s.lru.PushFront(&pageEntry{key: key, stored: stored, rawLen: len(page)})
	s.bytes += size
	s.evictLocked()
	recordSize(s.metrics, s.lru.Len(), s.bytes)
}

// evictLocked removes least-recently-used pages until both bounds hold.
// Caller must hold s.mu.
func (s *PageStore) evictLocked() {
	for s.lru.Len() > 0 && (s.bytes > s.maxBytes || (s.maxPages > 0 && s.lru.Len() > s.maxPages)) {
		el := s.lru.Back()
		entry := el.Value.(*pageEntry)
		s.lru.Remove(el)
		delete(s.items, entry.key)
		s.bytes -= int64(len(entry.stored))

		s.evictions.Add(1)
		observeEviction(s.metrics, len(entry.stored))
		s.logger.Debug("page evicted",
			"locator", entry.key.Identity.Locator(),
			"page", entry.key.Index,
			"bytes", len(entry.stored))
	}
}

// Len returns the number of stored pages.
func (s *PageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Bytes returns the number of stored bytes.
func (s *PageStore) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// Contains reports whether key is stored, without touching recency.
func (s *PageStore) Contains(key PageKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[key]
	return ok
}

// Purge drops every stored page. Loads in flight still complete and may
// repopulate their keys.
func (s *PageStore) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Init()
	s.items = make(map[PageKey]*list.Element)
	s.bytes = 0
	recordSize(s.metrics, 0, 0)
}

// Stats returns a snapshot of the store's counters.
func (s *PageStore) Stats() Stats {
	s.mu.Lock()
	pages, bytes := s.lru.Len(), s.bytes
	s.mu.Unlock()

	return Stats{
		Hits:         s.hits.Load(),
		Misses:       s.misses.Load(),
		Loads:        s.loads.Load(),
		LoadFailures: s.loadFailures.Load(),
		Evictions:    s.evictions.Load(),
		Pages:        pages,
		Bytes:        bytes,
	}
}

// slicePage returns page[off:off+length] with capacity clipped so callers
// cannot append into cache memory.
func slicePage(key PageKey, page []byte, off, length int) ([]byte, error) {
	if length > len(page)-off {
		return nil, fmt.Errorf("pageview: page %d holds %d bytes, sub-range (off=%d, length=%d): %w", key.Index, len(page), off, length, ErrOutOfBounds)
	}
	return page[off : off+length : off+length], nil
}

// Ensure PageStore implements PageCache.
var _ PageCache = (*PageStore)(nil)
