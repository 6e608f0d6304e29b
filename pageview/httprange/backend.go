// Package httprange provides an HTTP backend for pageview.
//
// Objects are addressed by URL. Stat issues a HEAD request; direct reads
// issue GET requests with a single byte range.
//
// # Behavior
//
//   - Length comes from Content-Length; the validator from ETag and
//     Last-Modified.
//   - Reads are pinned to the validator observed at Stat: a strong ETag is
//     sent as If-Match, otherwise Last-Modified is sent as
//     If-Unmodified-Since. 412 Precondition Failed, or a 206 response whose
//     ETag differs from the pinned one, fails with
//     pageview.ErrValidatorMismatch.
//   - 416 Range Not Satisfiable returns io.EOF.
//   - 404 and 410 return pageview.ErrNotFound.
//   - A server that ignores Range (200 for a non-zero offset) fails with
//     ErrRangeNotSupported.
package httprange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pithecene-io/pageview/pageview"
)

// ErrRangeNotSupported indicates the server does not serve byte ranges.
var ErrRangeNotSupported = errors.New("range requests not supported")

// Config holds configuration for the HTTP backend.
type Config struct {
	// BaseURL, when set, is the URL locators are resolved against.
	// When empty, locators must be absolute http(s) URLs.
	BaseURL string

	// Client is the HTTP client to use. Defaults to http.DefaultClient.
	Client *http.Client

	// Header is added to every request (e.g. Authorization).
	Header http.Header
}

// Backend implements pageview.Backend over HTTP range requests.
type Backend struct {
	client *http.Client
	base   *url.URL
	header http.Header
}

// New creates an HTTP backend.
func New(cfg Config) (*Backend, error) {
	b := &Backend{
		client: cfg.Client,
		header: cfg.Header.Clone(),
	}
	if b.client == nil {
		b.client = http.DefaultClient
	}
	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("httprange: parse base URL: %w", err)
		}
		if base.Scheme != "http" && base.Scheme != "https" {
			return nil, fmt.Errorf("httprange: base URL must be http or https (got %q)", base.Scheme)
		}
		if !strings.HasSuffix(base.Path, "/") {
			base.Path += "/"
		}
		b.base = base
	}
	return b, nil
}

// Stat returns the resource's length and validator.
func (b *Backend) Stat(ctx context.Context, locator string) (pageview.ObjectInfo, error) {
	target, err := b.resolve(locator)
	if err != nil {
		return pageview.ObjectInfo{}, err
	}

	req, err := b.newRequest(ctx, http.MethodHead, target)
	if err != nil {
		return pageview.ObjectInfo{}, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return pageview.ObjectInfo{}, fmt.Errorf("httprange: head %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return pageview.ObjectInfo{}, pageview.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return pageview.ObjectInfo{}, fmt.Errorf("httprange: head %s: unexpected status %s", target, resp.Status)
	}
	if resp.ContentLength < 0 {
		return pageview.ObjectInfo{}, fmt.Errorf("httprange: head %s: response has no Content-Length", target)
	}
	if strings.EqualFold(resp.Header.Get("Accept-Ranges"), "none") {
		return pageview.ObjectInfo{}, fmt.Errorf("httprange: %s: %w", target, ErrRangeNotSupported)
	}

	return pageview.ObjectInfo{
		Locator:   locator,
		Size:      resp.ContentLength,
		Validator: responseValidator(resp.Header),
	}, nil
}

// Reader returns a DirectReader for the resource described by info.
func (b *Backend) Reader(info pageview.ObjectInfo) (pageview.DirectReader, error) {
	target, err := b.resolve(info.Locator)
	if err != nil {
		return nil, err
	}
	return &rangeReader{backend: b, url: target, validator: info.Validator}, nil
}

// rangeReader issues conditional range requests for one URL.
// It is safe for concurrent use.
type rangeReader struct {
	backend   *Backend
	url       string
	validator pageview.Validator
}

// ReadDirect implements pageview.DirectReader.
func (r *rangeReader) ReadDirect(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("httprange: negative offset: %w", pageview.ErrInvalidRange)
	}
	if len(p) == 0 {
		return 0, nil
	}

	req, err := r.backend.newRequest(ctx, http.MethodGet, r.url)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1))
	switch etag := r.validator.ETag; {
	case etag != "" && !isWeak(etag):
		req.Header.Set("If-Match", etag)
	case !r.validator.LastModified.IsZero():
		req.Header.Set("If-Unmodified-Since", r.validator.LastModified.UTC().Format(http.TimeFormat))
	}

	resp, err := r.backend.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("httprange: get %s: %w", r.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		if err := r.checkPartial(resp, off); err != nil {
			return 0, err
		}
	case http.StatusOK:
		if off != 0 {
			return 0, fmt.Errorf("httprange: %s: %w", r.url, ErrRangeNotSupported)
		}
	case http.StatusRequestedRangeNotSatisfiable:
		return 0, io.EOF
	case http.StatusPreconditionFailed:
		return 0, fmt.Errorf("httprange: %s: %w", r.url, pageview.ErrValidatorMismatch)
	case http.StatusNotFound, http.StatusGone:
		return 0, pageview.ErrNotFound
	default:
		return 0, fmt.Errorf("httprange: get %s: unexpected status %s", r.url, resp.Status)
	}

	n, err := io.ReadFull(resp.Body, p)
	if errors.Is(err, io.ErrUnexpectedEOF) || (errors.Is(err, io.EOF) && n == 0) {
		return n, io.EOF
	}
	if err != nil {
		return n, fmt.Errorf("httprange: reading range body: %w", err)
	}
	return n, nil
}

// checkPartial verifies a 206 response belongs to the pinned version and
// starts at off.
func (r *rangeReader) checkPartial(resp *http.Response, off int64) error {
	if pinned, got := r.validator.ETag, resp.Header.Get("ETag"); pinned != "" && got != "" && got != pinned {
		return fmt.Errorf("httprange: %s: etag %s, opened as %s: %w", r.url, got, pinned, pageview.ErrValidatorMismatch)
	}

	start, ok := contentRangeStart(resp.Header.Get("Content-Range"))
	if ok && start != off {
		return fmt.Errorf("httprange: %s: response starts at %d, requested %d", r.url, start, off)
	}
	return nil
}

// resolve maps a locator to an absolute URL.
func (b *Backend) resolve(locator string) (string, error) {
	if locator == "" {
		return "", pageview.ErrInvalidPath
	}

	ref, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("httprange: parse locator %q: %w", locator, pageview.ErrInvalidPath)
	}

	if b.base == nil {
		if ref.Scheme != "http" && ref.Scheme != "https" {
			return "", fmt.Errorf("httprange: locator %q is not an http(s) URL: %w", locator, pageview.ErrInvalidPath)
		}
		return ref.String(), nil
	}

	if ref.IsAbs() || ref.Host != "" {
		return "", fmt.Errorf("httprange: locator %q must be relative to the base URL: %w", locator, pageview.ErrInvalidPath)
	}
	if ref.Path == ".." || strings.HasPrefix(ref.Path, "../") || strings.Contains(ref.Path, "/../") {
		return "", pageview.ErrInvalidPath
	}
	ref.Path = strings.TrimPrefix(ref.Path, "/")
	return b.base.ResolveReference(ref).String(), nil
}

func (b *Backend) newRequest(ctx context.Context, method, target string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("httprange: build request: %w", err)
	}
	for k, vs := range b.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

// responseValidator extracts the validator from response headers.
func responseValidator(h http.Header) pageview.Validator {
	v := pageview.Validator{ETag: h.Get("ETag")}
	if lm := h.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			v.LastModified = t.UTC()
		}
	}
	return v
}

func isWeak(etag string) bool {
	return strings.HasPrefix(etag, "W/")
}

// contentRangeStart parses the first byte position of "bytes start-end/size".
func contentRangeStart(header string) (int64, bool) {
	rest, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return 0, false
	}
	first, _, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, false
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, false
	}
	return start, true
}

// Ensure Backend implements pageview.Backend.
var _ pageview.Backend = (*Backend)(nil)
