package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// mockObject is one object version held by MockS3Client.
type mockObject struct {
	data     []byte
	etag     string
	modified time.Time
}

// MockS3Client is a test double for API.
//
// It honors Range, If-Match, and If-Unmodified-Since the way S3 does, and
// assigns an MD5 ETag on every PutObject.
type MockS3Client struct {
	mu      sync.RWMutex
	objects map[string]*mockObject
	now     func() time.Time

	// Call counters for test assertions
	GetObjectCalls  int
	HeadObjectCalls int

	// Ranges records the Range header of every GetObject call in order.
	Ranges []string

	// GetObjectErr, when set, is returned by every GetObject call.
	GetObjectErr error

	// TruncateBody, when positive, drops that many trailing bytes from every
	// ranged GetObject body.
	TruncateBody int
}

// NewMockS3Client creates a new mock S3 client for testing.
func NewMockS3Client() *MockS3Client {
	return &MockS3Client{
		objects: make(map[string]*mockObject),
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

// ResetCounts resets call counters and recorded ranges for test isolation.
func (m *MockS3Client) ResetCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetObjectCalls = 0
	m.HeadObjectCalls = 0
	m.Ranges = nil
}

// Calls returns the GetObject call count.
func (m *MockS3Client) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.GetObjectCalls
}

// PutObject stores an object and assigns it a fresh ETag.
func (m *MockS3Client) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(params.Key)
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	sum := md5.Sum(data)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`

	m.mu.Lock()
	defer m.mu.Unlock()

	modified := m.now()
	if prev, ok := m.objects[key]; ok && !modified.After(prev.modified) {
		modified = prev.modified.Add(time.Second)
	}
	m.objects[key] = &mockObject{data: data, etag: etag, modified: modified}
	return &s3.PutObjectOutput{ETag: aws.String(etag)}, nil
}

// GetObject implements API.GetObject for testing.
func (m *MockS3Client) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(params.Key)

	m.mu.Lock()
	m.GetObjectCalls++
	m.Ranges = append(m.Ranges, aws.ToString(params.Range))
	obj, exists := m.objects[key]
	injected := m.GetObjectErr
	truncate := m.TruncateBody
	m.mu.Unlock()

	if injected != nil {
		return nil, injected
	}
	if !exists {
		return nil, &types.NoSuchKey{}
	}

	if params.IfMatch != nil && aws.ToString(params.IfMatch) != obj.etag {
		return nil, &smithyAPIError{code: "PreconditionFailed", message: "At least one of the pre-conditions you specified did not hold"}
	}
	if params.IfUnmodifiedSince != nil && obj.modified.After(*params.IfUnmodifiedSince) {
		return nil, &smithyAPIError{code: "PreconditionFailed", message: "At least one of the pre-conditions you specified did not hold"}
	}

	data := obj.data
	if params.Range != nil {
		rangeStr := aws.ToString(params.Range)
		var start, end int64
		_, _ = fmt.Sscanf(rangeStr, "bytes=%d-%d", &start, &end)

		if start >= int64(len(data)) {
			return nil, &smithyAPIError{code: "InvalidRange", message: "The requested range is not satisfiable"}
		}

		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}

		data = data[start : end+1]
		if truncate > 0 {
			data = data[:max(0, len(data)-truncate)]
		}
	}

	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
		ETag:          aws.String(obj.etag),
		LastModified:  aws.Time(obj.modified),
	}, nil
}

// HeadObject implements API.HeadObject for testing.
func (m *MockS3Client) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	key := aws.ToString(params.Key)

	m.mu.Lock()
	m.HeadObjectCalls++
	obj, exists := m.objects[key]
	m.mu.Unlock()

	if !exists {
		return nil, &types.NotFound{}
	}

	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		ETag:          aws.String(obj.etag),
		LastModified:  aws.Time(obj.modified),
	}, nil
}

// smithyAPIError implements smithy.APIError for testing.
type smithyAPIError struct {
	code    string
	message string
}

func (e *smithyAPIError) Error() string {
	return e.message
}

func (e *smithyAPIError) ErrorCode() string {
	return e.code
}

func (e *smithyAPIError) ErrorMessage() string {
	return e.message
}

func (e *smithyAPIError) ErrorFault() smithy.ErrorFault {
	return smithy.FaultUnknown
}

// Ensure MockS3Client implements API.
var _ API = (*MockS3Client)(nil)
