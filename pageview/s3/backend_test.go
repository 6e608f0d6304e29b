package s3

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3api "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pithecene-io/pageview/pageview"
)

// -----------------------------------------------------------------------------
// Unit tests for the S3 backend
// These use the mock client and don't require real S3/LocalStack/MinIO.
// -----------------------------------------------------------------------------

func putObject(t *testing.T, mock *MockS3Client, key string, data []byte) {
	t.Helper()
	_, err := mock.PutObject(t.Context(), &s3api.PutObjectInput{
		Bucket: aws.String("test"),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
}

func patterned(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(nil, Config{Bucket: "test"})
	if err == nil {
		t.Error("expected error for nil client")
	}
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(NewMockS3Client(), Config{})
	if err == nil {
		t.Error("expected error for empty bucket")
	}
}

func TestNew_PrefixNormalization(t *testing.T) {
	tests := []struct {
		prefix   string
		expected string
	}{
		{"", ""},
		{"foo", "foo/"},
		{"foo/", "foo/"},
		{"foo/bar", "foo/bar/"},
	}

	for _, tt := range tests {
		backend, err := New(NewMockS3Client(), Config{Bucket: "test", Prefix: tt.prefix})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if backend.prefix != tt.expected {
			t.Errorf("prefix %q: expected %q, got %q", tt.prefix, tt.expected, backend.prefix)
		}
	}
}

func TestBackend_Stat_Success(t *testing.T) {
	mock := NewMockS3Client()
	putObject(t, mock, "data/blob.bin", patterned(1000))
	backend, _ := New(mock, Config{Bucket: "test"})

	info, err := backend.Stat(t.Context(), "data/blob.bin")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size != 1000 {
		t.Errorf("expected size 1000, got %d", info.Size)
	}
	if info.Validator.ETag == "" {
		t.Error("expected non-empty ETag")
	}
	if info.Validator.LastModified.IsZero() {
		t.Error("expected non-zero LastModified")
	}
}

func TestBackend_Stat_WithPrefix(t *testing.T) {
	mock := NewMockS3Client()
	putObject(t, mock, "tenant/blob.bin", patterned(10))
	backend, _ := New(mock, Config{Bucket: "test", Prefix: "tenant"})

	info, err := backend.Stat(t.Context(), "blob.bin")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Locator != "blob.bin" {
		t.Errorf("expected locator without prefix, got %q", info.Locator)
	}
}

func TestBackend_Stat_ErrNotFound(t *testing.T) {
	backend, _ := New(NewMockS3Client(), Config{Bucket: "test"})

	_, err := backend.Stat(t.Context(), "missing.bin")
	if !errors.Is(err, pageview.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestBackend_Stat_ErrInvalidPath(t *testing.T) {
	backend, _ := New(NewMockS3Client(), Config{Bucket: "test"})

	for _, locator := range []string{"", ".", "..", "../escape", "/"} {
		if _, err := backend.Stat(t.Context(), locator); !errors.Is(err, pageview.ErrInvalidPath) {
			t.Errorf("locator %q: expected ErrInvalidPath, got: %v", locator, err)
		}
	}
}

func TestBackend_ReadDirect_Range(t *testing.T) {
	mock := NewMockS3Client()
	data := patterned(1000)
	putObject(t, mock, "blob.bin", data)
	backend, _ := New(mock, Config{Bucket: "test"})

	info, _ := backend.Stat(t.Context(), "blob.bin")
	r, err := backend.Reader(info)
	if err != nil {
		t.Fatalf("Reader failed: %v", err)
	}

	buf := make([]byte, 100)
	n, err := r.ReadDirect(t.Context(), buf, 200)
	if err != nil {
		t.Fatalf("ReadDirect failed: %v", err)
	}
	if n != 100 || !bytes.Equal(buf, data[200:300]) {
		t.Errorf("unexpected range content (n=%d)", n)
	}
	if got := mock.Ranges[len(mock.Ranges)-1]; got != "bytes=200-299" {
		t.Errorf("expected range bytes=200-299, got %q", got)
	}
}

func TestBackend_ReadDirect_PastEnd(t *testing.T) {
	mock := NewMockS3Client()
	data := patterned(100)
	putObject(t, mock, "blob.bin", data)
	backend, _ := New(mock, Config{Bucket: "test"})

	info, _ := backend.Stat(t.Context(), "blob.bin")
	r, _ := backend.Reader(info)

	buf := make([]byte, 50)
	n, err := r.ReadDirect(t.Context(), buf, 80)
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF for range past end, got: %v", err)
	}
	if n != 20 || !bytes.Equal(buf[:n], data[80:]) {
		t.Errorf("expected 20 tail bytes, got %d", n)
	}

	n, err = r.ReadDirect(t.Context(), buf, 100)
	if n != 0 || !errors.Is(err, io.EOF) {
		t.Errorf("expected (0, io.EOF) at end, got (%d, %v)", n, err)
	}
}

func TestBackend_ReadDirect_ErrValidatorMismatch(t *testing.T) {
	mock := NewMockS3Client()
	putObject(t, mock, "blob.bin", patterned(100))
	backend, _ := New(mock, Config{Bucket: "test"})

	info, _ := backend.Stat(t.Context(), "blob.bin")
	r, _ := backend.Reader(info)

	putObject(t, mock, "blob.bin", bytes.Repeat([]byte{0xFF}, 100))

	_, err := r.ReadDirect(t.Context(), make([]byte, 10), 0)
	if !errors.Is(err, pageview.ErrValidatorMismatch) {
		t.Errorf("expected ErrValidatorMismatch, got: %v", err)
	}
}

func TestBackend_ReadDirect_IfUnmodifiedSinceFallback(t *testing.T) {
	mock := NewMockS3Client()
	putObject(t, mock, "blob.bin", patterned(100))
	backend, _ := New(mock, Config{Bucket: "test"})

	info, _ := backend.Stat(t.Context(), "blob.bin")
	info.Validator.ETag = ""
	r, _ := backend.Reader(info)

	if _, err := r.ReadDirect(t.Context(), make([]byte, 10), 0); err != nil {
		t.Fatalf("ReadDirect before change failed: %v", err)
	}

	putObject(t, mock, "blob.bin", patterned(100))

	_, err := r.ReadDirect(t.Context(), make([]byte, 10), 0)
	if !errors.Is(err, pageview.ErrValidatorMismatch) {
		t.Errorf("expected ErrValidatorMismatch, got: %v", err)
	}
}

func TestBackend_ReadDirect_ErrNotFound(t *testing.T) {
	mock := NewMockS3Client()
	backend, _ := New(mock, Config{Bucket: "test"})

	r, _ := backend.Reader(pageview.ObjectInfo{Locator: "gone.bin", Size: 10})
	_, err := r.ReadDirect(t.Context(), make([]byte, 10), 0)
	if !errors.Is(err, pageview.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestBackend_ReadDirect_PropagatesClientError(t *testing.T) {
	mock := NewMockS3Client()
	putObject(t, mock, "blob.bin", patterned(100))
	backend, _ := New(mock, Config{Bucket: "test"})
	info, _ := backend.Stat(t.Context(), "blob.bin")
	r, _ := backend.Reader(info)

	boom := errors.New("connection reset")
	mock.GetObjectErr = boom

	_, err := r.ReadDirect(t.Context(), make([]byte, 10), 0)
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped client error, got: %v", err)
	}
}

// -----------------------------------------------------------------------------
// View over S3
// -----------------------------------------------------------------------------

func TestView_OverS3_CachesPages(t *testing.T) {
	ctx := t.Context()
	mock := NewMockS3Client()
	data := patterned(10_000)
	putObject(t, mock, "blob.bin", data)
	backend, _ := New(mock, Config{Bucket: "test"})

	store, err := pageview.NewPageStore(pageview.WithPageSize(4096), pageview.WithCacheBytes(1<<20))
	if err != nil {
		t.Fatalf("NewPageStore failed: %v", err)
	}
	view, err := pageview.Open(ctx, backend, "blob.bin", pageview.WithCache(store))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	mock.ResetCounts()

	dst := make([]byte, 6000)
	for range 3 {
		n, err := view.Read(ctx, 3000, 6000, dst)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if n != 6000 || !bytes.Equal(dst, data[3000:9000]) {
			t.Fatalf("unexpected read result (n=%d)", n)
		}
	}

	// Pages 0, 1, 2 cover [3000, 9000); each is fetched once.
	if calls := mock.Calls(); calls != 3 {
		t.Errorf("expected 3 GetObject calls, got %d (%v)", calls, mock.Ranges)
	}
	if got := mock.Ranges[2]; got != "bytes=8192-9999" {
		t.Errorf("expected last page clipped at EOF, got %q", got)
	}
}

func TestView_OverS3_ObjectReplaced(t *testing.T) {
	ctx := t.Context()
	mock := NewMockS3Client()
	putObject(t, mock, "blob.bin", patterned(8192))
	backend, _ := New(mock, Config{Bucket: "test"})

	store, _ := pageview.NewPageStore(pageview.WithPageSize(4096))
	view, err := pageview.Open(ctx, backend, "blob.bin", pageview.WithCache(store))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	dst := make([]byte, 10)
	if _, err := view.Read(ctx, 0, 10, dst); err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	replacement := bytes.Repeat([]byte{7}, 8192)
	putObject(t, mock, "blob.bin", replacement)

	// Page 0 is still served from the pinned version.
	if _, err := view.Read(ctx, 0, 10, dst); err != nil {
		t.Errorf("cached read failed: %v", err)
	}
	// Page 1 was never cached; the old identity cannot load it.
	if _, err := view.Read(ctx, 5000, 10, dst); !errors.Is(err, pageview.ErrValidatorMismatch) {
		t.Errorf("expected ErrValidatorMismatch, got: %v", err)
	}

	fresh, err := pageview.Open(ctx, backend, "blob.bin", pageview.WithCache(store))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if _, err := fresh.Read(ctx, 0, 10, dst); err != nil {
		t.Fatalf("fresh read failed: %v", err)
	}
	if !bytes.Equal(dst, replacement[:10]) {
		t.Error("fresh view served stale page")
	}
}

func TestView_OverS3_TruncatedBody(t *testing.T) {
	ctx := t.Context()
	mock := NewMockS3Client()
	putObject(t, mock, "blob.bin", patterned(1000))
	backend, _ := New(mock, Config{Bucket: "test"})

	view, err := pageview.Open(ctx, backend, "blob.bin")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	mock.TruncateBody = 1

	_, err = view.Read(ctx, 0, 100, make([]byte, 100))
	if !errors.Is(err, pageview.ErrShortRead) {
		t.Errorf("expected ErrShortRead, got: %v", err)
	}
}
