// Package pageview provides random-access, page-cached views over remote
// objects that can only be fetched in byte ranges.
//
// A View decomposes arbitrary (offset, size) reads into page-aligned spans.
// When the object's validator (ETag, Last-Modified) is known, whole pages are
// fetched once and shared through a PageStore; when it is not, every span is
// fetched directly and nothing is cached. Pages are immutable and keyed by the
// object's identity, so a changed object is a new identity and stale pages are
// never reachable.
package pageview

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultPageSize is the page size used when none is configured (2 MiB).
const DefaultPageSize int64 = 2 << 20

// -----------------------------------------------------------------------------
// Identity model
// -----------------------------------------------------------------------------

// Validator is the change-detection token a remote object exposed when it was
// opened. A zero Validator means the object's identity is unknown.
type Validator struct {
	// ETag is the entity tag, including quotes and any W/ prefix.
	ETag string

	// LastModified is the object's modification time.
	LastModified time.Time
}

// IsZero reports whether the validator carries no change-detection token.
func (v Validator) IsZero() bool {
	return v.ETag == "" && v.LastModified.IsZero()
}

// Identity is an immutable (locator, validator) snapshot.
//
// Identity is comparable. Two identities are equal only if the locator and
// every captured validator field match exactly.
type Identity struct {
	locator  string
	etag     string
	modified int64 // UnixNano, zero when absent
	hasMod   bool
}

// NewIdentity builds an identity for locator. It returns false when v is
// zero: without a validator there is no way to detect staleness, so callers
// must not cache pages for the object.
func NewIdentity(locator string, v Validator) (Identity, bool) {
	if v.IsZero() {
		return Identity{}, false
	}
	id := Identity{locator: locator, etag: v.ETag}
	if !v.LastModified.IsZero() {
		id.modified = v.LastModified.UnixNano()
		id.hasMod = true
	}
	return id, true
}

// Locator returns the object locator.
func (id Identity) Locator() string { return id.locator }

// Validator returns the captured validator.
func (id Identity) Validator() Validator {
	v := Validator{ETag: id.etag}
	if id.hasMod {
		v.LastModified = time.Unix(0, id.modified).UTC()
	}
	return v
}

// String returns a canonical, collision-free encoding of the identity.
func (id Identity) String() string {
	var b strings.Builder
	writeField(&b, id.locator)
	writeField(&b, id.etag)
	if id.hasMod {
		b.WriteString(strconv.FormatInt(id.modified, 10))
	} else {
		b.WriteByte('-')
	}
	return b.String()
}

// writeField writes a length-prefixed field so that separators inside values
// cannot make two different identities encode to the same string.
func writeField(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
	b.WriteByte('|')
}

// PageKey addresses one page of one object identity.
type PageKey struct {
	Identity Identity
	Index    int64
}

// String returns a canonical encoding of the key.
func (k PageKey) String() string {
	return k.Identity.String() + "#" + strconv.FormatInt(k.Index, 10)
}

// -----------------------------------------------------------------------------
// Collaborators
// -----------------------------------------------------------------------------

// DirectReader fetches exact byte ranges of one remote object.
//
// ReadDirect reads len(p) bytes starting at absolute offset off and returns
// the number of bytes read. Implementations may return io.EOF together with
// n == len(p) when the range ends exactly at end-of-object.
type DirectReader interface {
	ReadDirect(ctx context.Context, p []byte, off int64) (int, error)
}

// DirectReaderFunc adapts a function to DirectReader.
type DirectReaderFunc func(ctx context.Context, p []byte, off int64) (int, error)

// ReadDirect calls f(ctx, p, off).
func (f DirectReaderFunc) ReadDirect(ctx context.Context, p []byte, off int64) (int, error) {
	return f(ctx, p, off)
}

// LoadFunc produces the full content of a page on a cache miss.
// The returned slice is adopted by the cache and must not be retained or
// modified by the loader.
type LoadFunc func(ctx context.Context) ([]byte, error)

// PageCache resolves page keys to immutable page bytes.
//
// Get returns page[off:off+length] for key, invoking load on a miss. At most
// one load per key runs at a time; concurrent callers share its result.
// The returned slice aliases cache memory and must not be modified.
type PageCache interface {
	Get(ctx context.Context, key PageKey, off, length int, load LoadFunc) ([]byte, error)

	// PageSize returns the page size all pages in this cache were cut with.
	PageSize() int64
}

// ObjectInfo describes a remote object at the moment it was opened.
type ObjectInfo struct {
	// Locator identifies the object within its backend.
	Locator string

	// Size is the object length in bytes.
	Size int64

	// Validator is the change-detection token, zero if the backend has none.
	Validator Validator
}

// Backend discovers remote objects and produces direct readers for them.
//
// Implementations may target memory, filesystems, S3, HTTP, or other
// range-capable stores.
type Backend interface {
	// Stat returns the object's length and validator.
	// Returns ErrNotFound if the object does not exist.
	Stat(ctx context.Context, locator string) (ObjectInfo, error)

	// Reader returns a DirectReader pinned to info. When info carries a
	// validator, reads fail with ErrValidatorMismatch once the object changes.
	Reader(info ObjectInfo) (DirectReader, error)
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// Error sentinel values for common conditions.
var (
	// ErrNotFound indicates a requested object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrOutOfBounds indicates a page or direct read that begins at or past
	// end-of-object.
	ErrOutOfBounds = errors.New("out of bounds")

	// ErrShortRead indicates a direct read returned fewer bytes than required.
	ErrShortRead = errors.New("short read")

	// ErrInvalidRange indicates a negative offset or size, or a destination
	// buffer too small for the requested range.
	ErrInvalidRange = errors.New("invalid range")

	// ErrValidatorMismatch indicates the remote object changed after it was
	// opened.
	ErrValidatorMismatch = errors.New("validator mismatch")
)

// ShortReadError reports a read-integrity failure.
type ShortReadError struct {
	Offset int64
	Want   int
	Got    int
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("short read at offset %d: want %d bytes, got %d", e.Offset, e.Want, e.Got)
}

func (e *ShortReadError) Unwrap() error {
	return ErrShortRead
}
