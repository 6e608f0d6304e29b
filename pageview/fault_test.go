package pageview

import (
	"context"
	"io"
	"sync"
)

// -----------------------------------------------------------------------------
// Fault-Injection Direct Reader (test-only)
// -----------------------------------------------------------------------------
//
// faultReader serves ranges of an in-memory object and enables deterministic
// fault injection for testing view and page store failure paths. It provides:
//   - Error injection and truncated reads
//   - Call observation/recording
//   - Blocking points to hold loads in flight

// readCall records one ReadDirect invocation.
type readCall struct {
	off    int64
	length int
}

// faultReader is a DirectReader over data with fault injection capabilities.
type faultReader struct {
	data []byte

	mu sync.Mutex

	// Error injection
	readErr   error
	failCalls int // if > 0, only the first failCalls reads fail with readErr
	shortBy   int // if > 0, every read returns this many bytes less

	// Call observation
	calls []readCall

	// Blocking: if non-nil, ReadDirect signals started then waits for release
	started chan struct{}
	release chan struct{}
}

func newFaultReader(data []byte) *faultReader {
	return &faultReader{data: data}
}

// SetReadError makes the next n reads fail with err (n <= 0 means every read).
func (f *faultReader) SetReadError(err error, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
	f.failCalls = n
}

// SetShortBy makes every read return n bytes less than requested.
func (f *faultReader) SetShortBy(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shortBy = n
}

// Block makes reads wait until Release is called. Each read sends on the
// returned channel once it has started.
func (f *faultReader) Block() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = make(chan struct{}, 64)
	f.release = make(chan struct{})
	return f.started
}

// Release unblocks reads held by Block.
func (f *faultReader) Release() {
	f.mu.Lock()
	ch := f.release
	f.release = nil
	f.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Calls returns a copy of the recorded reads.
func (f *faultReader) Calls() []readCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]readCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns the number of recorded reads.
func (f *faultReader) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *faultReader) ReadDirect(ctx context.Context, p []byte, off int64) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, readCall{off: off, length: len(p)})
	var err error
	if f.readErr != nil {
		err = f.readErr
		if f.failCalls > 0 {
			f.failCalls--
			if f.failCalls == 0 {
				f.readErr = nil
			}
		}
	}
	shortBy := f.shortBy
	started, release := f.started, f.release
	f.mu.Unlock()

	if release != nil {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	if err != nil {
		return 0, err
	}
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	n = max(0, n-shortBy)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// patterned returns n bytes whose value depends on their offset.
func patterned(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte((i*7 + i/251) % 256)
	}
	return data
}

// testValidator is a fixed validator that enables caching.
var testValidator = Validator{ETag: `"v1"`}
