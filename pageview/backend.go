package pageview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrInvalidPath indicates a locator that would escape the backend root.
var ErrInvalidPath = errors.New("invalid path: escapes backend root")

// -----------------------------------------------------------------------------
// Filesystem Backend
// -----------------------------------------------------------------------------

// fsBackend implements Backend over files under a root directory.
type fsBackend struct {
	root string
}

// NewFSBackend creates a filesystem-backed Backend rooted at the given
// directory. The directory must exist.
//
// Validators are derived from size and modification time, the same inputs
// common HTTP servers use for weak ETags.
func NewFSBackend(root string) (Backend, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, os.ErrNotExist
	}
	return &fsBackend{root: root}, nil
}

func (f *fsBackend) Stat(_ context.Context, locator string) (ObjectInfo, error) {
	fullPath, err := f.safePath(locator)
	if err != nil {
		return ObjectInfo{}, err
	}
	fi, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, ErrNotFound
		}
		return ObjectInfo{}, err
	}
	if fi.IsDir() {
		return ObjectInfo{}, fmt.Errorf("pageview: %s is a directory: %w", locator, ErrNotFound)
	}
	return ObjectInfo{
		Locator:   locator,
		Size:      fi.Size(),
		Validator: fileValidator(fi),
	}, nil
}

func (f *fsBackend) Reader(info ObjectInfo) (DirectReader, error) {
	fullPath, err := f.safePath(info.Locator)
	if err != nil {
		return nil, err
	}
	return &fsReader{path: fullPath, validator: info.Validator}, nil
}

// fileValidator builds a validator from file metadata.
func fileValidator(fi os.FileInfo) Validator {
	mod := fi.ModTime().UTC()
	return Validator{
		ETag:         fmt.Sprintf(`W/"%x-%x"`, mod.UnixNano(), fi.Size()),
		LastModified: mod,
	}
}

func (f *fsBackend) safePath(locator string) (string, error) {
	cleaned := filepath.Clean(locator)
	if cleaned == "." || locator == "" {
		return "", ErrInvalidPath
	}
	if filepath.IsAbs(cleaned) {
		return "", ErrInvalidPath
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}

	fullPath := filepath.Join(f.root, cleaned)

	absRoot, err := filepath.Abs(f.root)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}

	return fullPath, nil
}

// fsReader reads ranges of one file, failing once the file's validator no
// longer matches the one captured at open.
type fsReader struct {
	path      string
	validator Validator
}

func (r *fsReader) ReadDirect(_ context.Context, p []byte, off int64) (int, error) {
	file, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	defer closer(file)()

	if !r.validator.IsZero() {
		fi, err := file.Stat()
		if err != nil {
			return 0, err
		}
		if current := fileValidator(fi); current.ETag != r.validator.ETag || !current.LastModified.Equal(r.validator.LastModified) {
			return 0, fmt.Errorf("pageview: %s: %w", r.path, ErrValidatorMismatch)
		}
	}

	return file.ReadAt(p, off)
}

// -----------------------------------------------------------------------------
// Memory Backend
// -----------------------------------------------------------------------------

// MemoryBackend is an in-memory Backend whose objects can be replaced.
//
// Every Put assigns a fresh ETag, so replacing an object yields a new
// identity. MemoryBackend is safe for concurrent use.
type MemoryBackend struct {
	mu         sync.RWMutex
	objects    map[string]*memoryObject
	generation uint64
}

// memoryObject is one immutable object version.
type memoryObject struct {
	data     []byte
	etag     string
	modified time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		objects: make(map[string]*memoryObject),
	}
}

// Put stores a copy of data at locator, replacing any previous version, and
// returns the new version's info.
func (m *MemoryBackend) Put(locator string, data []byte) (ObjectInfo, error) {
	normalized, valid := normalizeLocator(locator)
	if !valid {
		return ObjectInfo{}, ErrInvalidPath
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	obj := &memoryObject{
		data:     dataCopy,
		etag:     fmt.Sprintf(`"%d-%x"`, m.generation, len(dataCopy)),
		modified: time.Now().UTC(),
	}
	m.objects[normalized] = obj

	return ObjectInfo{
		Locator:   normalized,
		Size:      int64(len(dataCopy)),
		Validator: Validator{ETag: obj.etag, LastModified: obj.modified},
	}, nil
}

// Delete removes the object at locator if it exists.
func (m *MemoryBackend) Delete(locator string) error {
	normalized, valid := normalizeLocator(locator)
	if !valid {
		return ErrInvalidPath
	}

	m.mu.Lock()
	delete(m.objects, normalized)
	m.mu.Unlock()

	return nil
}

// Stat implements Backend.
func (m *MemoryBackend) Stat(_ context.Context, locator string) (ObjectInfo, error) {
	normalized, valid := normalizeLocator(locator)
	if !valid {
		return ObjectInfo{}, ErrInvalidPath
	}

	m.mu.RLock()
	obj, exists := m.objects[normalized]
	m.mu.RUnlock()

	if !exists {
		return ObjectInfo{}, ErrNotFound
	}
	return ObjectInfo{
		Locator:   normalized,
		Size:      int64(len(obj.data)),
		Validator: Validator{ETag: obj.etag, LastModified: obj.modified},
	}, nil
}

// Reader implements Backend.
func (m *MemoryBackend) Reader(info ObjectInfo) (DirectReader, error) {
	normalized, valid := normalizeLocator(info.Locator)
	if !valid {
		return nil, ErrInvalidPath
	}
	return &memoryReader{backend: m, locator: normalized, etag: info.Validator.ETag}, nil
}

// memoryReader reads ranges of one memory object.
type memoryReader struct {
	backend *MemoryBackend
	locator string
	etag    string
}

func (r *memoryReader) ReadDirect(_ context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrInvalidRange
	}

	r.backend.mu.RLock()
	obj, exists := r.backend.objects[r.locator]
	r.backend.mu.RUnlock()

	if !exists {
		return 0, ErrNotFound
	}
	if r.etag != "" && obj.etag != r.etag {
		return 0, fmt.Errorf("pageview: %s: %w", r.locator, ErrValidatorMismatch)
	}
	if off >= int64(len(obj.data)) {
		return 0, io.EOF
	}

	n := copy(p, obj.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func normalizeLocator(locator string) (string, bool) {
	if locator == "" {
		return "", false
	}

	cleaned := filepath.Clean(locator)
	cleaned = filepath.ToSlash(cleaned)
	cleaned = strings.TrimPrefix(cleaned, "/")

	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || cleaned == "." {
		return "", false
	}

	return cleaned, true
}

// Ensure the backends implement Backend.
var (
	_ Backend = (*fsBackend)(nil)
	_ Backend = (*MemoryBackend)(nil)
)
