package pageview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// View is a random-access, read-only view over one remote object.
//
// The object's length is fixed when the view is created; the view does not
// observe growth or truncation. A View holds no mutable state and is safe for
// concurrent use; views share state only through their PageCache.
type View struct {
	locator  string
	length   int64
	pageSize int64
	identity Identity
	cached   bool
	reader   DirectReader
	cache    PageCache
	logger   *slog.Logger
}

// NewView creates a view over the object at locator, length bytes long,
// fetching ranges through r.
//
// Default behavior:
//   - Page size: DefaultPageSize, or the cache's page size when WithCache is set
//   - Cache: none (every read is a direct read)
//   - Validator: none (caching disabled even if a cache is set)
//
// Pages are served from the cache only when both WithCache and a non-zero
// WithValidator are given.
func NewView(locator string, length int64, r DirectReader, opts ...Option) (*View, error) {
	if r == nil {
		return nil, errors.New("pageview: direct reader is required")
	}
	if length < 0 {
		return nil, fmt.Errorf("pageview: length must be non-negative (got %d)", length)
	}

	cfg := &viewConfig{
		pageSize: DefaultPageSize,
		logger:   discardLogger,
	}
	for _, opt := range opts {
		if err := opt.applyView(cfg); err != nil {
			return nil, fmt.Errorf("pageview: %w", err)
		}
	}

	pageSize := cfg.pageSize
	if cfg.cache != nil {
		cachePageSize := cfg.cache.PageSize()
		if cachePageSize <= 0 {
			return nil, fmt.Errorf("pageview: cache reports invalid page size %d", cachePageSize)
		}
		if cfg.pageSizeSet && cfg.pageSize != cachePageSize {
			return nil, fmt.Errorf("pageview: page size %d does not match cache page size %d", cfg.pageSize, cachePageSize)
		}
		pageSize = cachePageSize
	}

	v := &View{
		locator:  locator,
		length:   length,
		pageSize: pageSize,
		reader:   r,
		cache:    cfg.cache,
		logger:   cfg.logger.With("locator", locator),
	}
	if cfg.cache != nil {
		v.identity, v.cached = NewIdentity(locator, cfg.validator)
	}
	return v, nil
}

// Open stats locator on b and returns a view pinned to the length and
// validator observed now.
func Open(ctx context.Context, b Backend, locator string, opts ...Option) (*View, error) {
	if b == nil {
		return nil, errors.New("pageview: backend is required")
	}
	info, err := b.Stat(ctx, locator)
	if err != nil {
		return nil, err
	}
	r, err := b.Reader(info)
	if err != nil {
		return nil, err
	}

	// The observed validator goes first so an explicit WithValidator wins.
	all := make([]Option, 0, len(opts)+1)
	all = append(all, WithValidator(info.Validator))
	all = append(all, opts...)
	return NewView(info.Locator, info.Size, r, all...)
}

// Locator returns the object locator.
func (v *View) Locator() string { return v.locator }

// Size returns the object length in bytes.
func (v *View) Size() int64 { return v.length }

// PageSize returns the page size used to split reads.
func (v *View) PageSize() int64 { return v.pageSize }

// Identity returns the object identity, or false if it is unknown.
func (v *View) Identity() (Identity, bool) { return v.identity, v.cached }

// Cached reports whether reads go through the page cache.
func (v *View) Cached() bool { return v.cached }

// Read copies up to size bytes starting at offset into dst and returns the
// number of bytes copied.
//
// The range is clipped at end-of-object: Read returns min(size, Size()-offset)
// bytes, and 0 without error when offset >= Size(). Anything short of that is
// an error; partial success is never returned. dst must hold at least the
// number of bytes that will be copied.
func (v *View) Read(ctx context.Context, offset int64, size int, dst []byte) (int, error) {
	if offset < 0 || size < 0 {
		return 0, fmt.Errorf("pageview: read (offset=%d, size=%d): %w", offset, size, ErrInvalidRange)
	}
	if offset >= v.length || size == 0 {
		return 0, nil
	}

	want := min(int64(size), v.length-offset)
	if int64(len(dst)) < want {
		return 0, fmt.Errorf("pageview: destination holds %d bytes, read needs %d: %w", len(dst), want, ErrInvalidRange)
	}
	end := offset + want

	pos := offset
	transferred := 0
	for pos < end {
		index := pos / v.pageSize
		inPage := pos % v.pageSize
		span := min(v.pageSize-inPage, end-pos)

		data, err := v.getPage(ctx, index, inPage, span)
		if err != nil {
			return 0, err
		}
		if int64(len(data)) != span {
			return 0, fmt.Errorf("pageview: page %d: %w", index, &ShortReadError{Offset: pos, Want: int(span), Got: len(data)})
		}

		n := copy(dst[transferred:], data)
		pos += int64(n)
		transferred += n
	}

	return transferred, nil
}

// getPage returns length bytes of page index starting at inPage.
//
// With a known identity the whole page is loaded into the cache and the
// sub-range is sliced from it. Without one the exact sub-range is fetched.
func (v *View) getPage(ctx context.Context, index, inPage, length int64) ([]byte, error) {
	if !v.cached {
		return v.getPageDirect(ctx, index, inPage, length)
	}

	key := PageKey{Identity: v.identity, Index: index}
	return v.cache.Get(ctx, key, int(inPage), int(length), func(ctx context.Context) ([]byte, error) {
		v.logger.Debug("page miss", "page", index)
		return v.getPageDirect(ctx, index, 0, v.pageSize)
	})
}

// getPageDirect fetches length bytes of page index starting at inPage,
// clipped at end-of-object.
func (v *View) getPageDirect(ctx context.Context, index, inPage, length int64) ([]byte, error) {
	start := index*v.pageSize + inPage
	if start >= v.length {
		return nil, fmt.Errorf("pageview: page %d offset %d at or past end %d: %w", index, start, v.length, ErrOutOfBounds)
	}
	n := min(start+length, v.length) - start

	buf := make([]byte, n)
	got, err := v.reader.ReadDirect(ctx, buf, start)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	if err != nil {
		if errors.Is(err, ErrValidatorMismatch) {
			v.logger.Warn("object changed since open", "page", index, "error", err)
		}
		return nil, fmt.Errorf("pageview: read page %d at offset %d: %w", index, start, err)
	}
	if int64(got) < n {
		return nil, fmt.Errorf("pageview: page %d: %w", index, &ShortReadError{Offset: start, Want: int(n), Got: got})
	}
	return buf, nil
}

// ReaderAt returns an io.ReaderAt over the view that issues reads with ctx.
// The returned value also implements Size() int64.
func (v *View) ReaderAt(ctx context.Context) io.ReaderAt {
	return &viewReaderAt{view: v, ctx: ctx}
}

// viewReaderAt adapts View to io.ReaderAt.
type viewReaderAt struct {
	view *View
	ctx  context.Context
}

// ReadAt implements io.ReaderAt.
func (r *viewReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("pageview: negative offset %d: %w", off, ErrInvalidRange)
	}
	if off >= r.view.length {
		return 0, io.EOF
	}
	n, err := r.view.Read(r.ctx, off, len(p), p)
	if err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the object length in bytes.
func (r *viewReaderAt) Size() int64 { return r.view.length }
