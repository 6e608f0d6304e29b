// Package s3 provides an S3-compatible backend for pageview.
//
// This adapter supports AWS S3, MinIO, LocalStack, Cloudflare R2,
// and other S3-compatible object stores.
//
// # Behavior
//
//   - Stat: HeadObject; length from Content-Length, validator from ETag and
//     Last-Modified.
//   - ReadDirect: ranged GetObject ("bytes=start-end", inclusive). Reads are
//     pinned to the ETag observed at Stat via If-Match (falling back to
//     If-Unmodified-Since when no ETag was returned). A changed object fails
//     with pageview.ErrValidatorMismatch.
//   - Offsets at or past end-of-object (InvalidRange) return io.EOF.
//
// # Consistency
//
// AWS S3 provides strong read-after-write consistency. Other S3-compatible
// backends may not; conditional reads still guarantee that every cached page
// of one identity comes from one object version.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/pithecene-io/pageview/pageview"
)

// API defines the subset of the S3 client interface used by the backend.
// This enables testing with mock implementations.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Config holds configuration for the S3 backend.
type Config struct {
	// Bucket is the S3 bucket name. Required.
	Bucket string

	// Prefix is an optional key prefix for all operations.
	// If set, all locators are prefixed with this value (with a trailing slash added if missing).
	Prefix string
}

// Backend implements pageview.Backend using an S3-compatible store.
type Backend struct {
	client API
	bucket string
	prefix string
}

// New creates a new S3 backend with the given client and configuration.
//
// The client must be pre-configured with credentials, region, and endpoint.
// Use NewClient or github.com/aws/aws-sdk-go-v2/config to build one.
//
// Example:
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	client := s3.NewFromConfig(cfg)
//	backend, err := s3backend.New(client, s3backend.Config{Bucket: "my-bucket"})
//	view, err := pageview.Open(ctx, backend, "data/events.parquet", pageview.WithCache(store))
func New(client API, cfg Config) (*Backend, error) {
	if client == nil {
		return nil, errors.New("s3: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Backend{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

// Stat returns the object's length and validator.
// Returns pageview.ErrNotFound if the object does not exist.
// Returns pageview.ErrInvalidPath for empty or escaping locators.
func (b *Backend) Stat(ctx context.Context, locator string) (pageview.ObjectInfo, error) {
	fullKey, err := b.validateKey(locator)
	if err != nil {
		return pageview.ObjectInfo{}, err
	}

	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if isNotFound(err) {
			return pageview.ObjectInfo{}, pageview.ErrNotFound
		}
		return pageview.ObjectInfo{}, fmt.Errorf("s3: head object: %w", err)
	}

	return pageview.ObjectInfo{
		Locator: locator,
		Size:    aws.ToInt64(out.ContentLength),
		Validator: pageview.Validator{
			ETag:         aws.ToString(out.ETag),
			LastModified: aws.ToTime(out.LastModified),
		},
	}, nil
}

// Reader returns a DirectReader for the object described by info.
// Returns pageview.ErrInvalidPath for empty or escaping locators.
func (b *Backend) Reader(info pageview.ObjectInfo) (pageview.DirectReader, error) {
	fullKey, err := b.validateKey(info.Locator)
	if err != nil {
		return nil, err
	}
	return &objectReader{
		backend:  b,
		key:      fullKey,
		etag:     info.Validator.ETag,
		modified: info.Validator.LastModified,
	}, nil
}

// objectReader issues ranged, conditional GetObject requests for one key.
// It is safe for concurrent use.
type objectReader struct {
	backend  *Backend
	key      string
	etag     string
	modified time.Time
}

// ReadDirect implements pageview.DirectReader.
func (r *objectReader) ReadDirect(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("s3: negative offset: %w", pageview.ErrInvalidRange)
	}
	if len(p) == 0 {
		return 0, nil
	}

	end := off + int64(len(p)) - 1
	input := &s3.GetObjectInput{
		Bucket: aws.String(r.backend.bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	}
	switch {
	case r.etag != "":
		input.IfMatch = aws.String(r.etag)
	case !r.modified.IsZero():
		input.IfUnmodifiedSince = aws.Time(r.modified)
	}

	out, err := r.backend.client.GetObject(ctx, input)
	if err != nil {
		if isNotFound(err) {
			return 0, pageview.ErrNotFound
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "InvalidRange":
				return 0, io.EOF
			case "PreconditionFailed", "412":
				return 0, fmt.Errorf("s3: %s: %w", r.key, pageview.ErrValidatorMismatch)
			}
		}
		return 0, fmt.Errorf("s3: range read: %w", err)
	}
	defer func() { _ = out.Body.Close() }()

	n, err := io.ReadFull(out.Body, p)
	if errors.Is(err, io.ErrUnexpectedEOF) || (errors.Is(err, io.EOF) && n == 0) {
		// Requested range extends beyond EOF.
		return n, io.EOF
	}
	if err != nil {
		return n, fmt.Errorf("s3: reading range body: %w", err)
	}
	return n, nil
}

// validateKey validates and returns the full key for a locator.
func (b *Backend) validateKey(locator string) (string, error) {
	if locator == "" {
		return "", pageview.ErrInvalidPath
	}

	cleaned := path.Clean(locator)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", pageview.ErrInvalidPath
	}
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" {
		return "", pageview.ErrInvalidPath
	}

	return b.prefix + cleaned, nil
}

// isNotFound checks if an error indicates the object was not found.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey" || code == "404"
	}
	return false
}

// Ensure Backend implements pageview.Backend.
var _ pageview.Backend = (*Backend)(nil)
