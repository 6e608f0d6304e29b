package pageview

import (
	"errors"
	"fmt"
	"log/slog"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// viewConfig holds the resolved configuration for a view.
type viewConfig struct {
	pageSize    int64
	pageSizeSet bool
	validator   Validator
	cache       PageCache
	logger      *slog.Logger
}

// storeConfig holds the resolved configuration for a page store.
type storeConfig struct {
	pageSize   int64
	maxBytes   int64
	maxPages   int
	compressor PageCompressor
	metrics    Metrics
	logger     *slog.Logger
}

// Option configures view or page store construction.
// Options implement methods for the constructors they support.
// Using an option with an unsupported constructor returns an error.
type Option interface {
	applyView(*viewConfig) error
	applyStore(*storeConfig) error
}

// ErrOptionNotValidForView indicates an option was used with NewView or Open
// that only applies to NewPageStore.
var ErrOptionNotValidForView = errors.New("option not valid for view")

// ErrOptionNotValidForStore indicates an option was used with NewPageStore
// that only applies to views.
var ErrOptionNotValidForStore = errors.New("option not valid for page store")

// discardLogger is used when no logger is configured.
var discardLogger = slog.New(slog.DiscardHandler)

// pageSizeOption implements Option for WithPageSize.
type pageSizeOption struct {
	size int64
}

// WithPageSize sets the page size in bytes.
// Default: DefaultPageSize (2 MiB).
//
// A view sharing a PageStore always uses the store's page size; setting a
// different size on such a view is an error.
func WithPageSize(n int64) Option {
	return &pageSizeOption{size: n}
}

func (o *pageSizeOption) applyView(cfg *viewConfig) error {
	if o.size <= 0 {
		return fmt.Errorf("WithPageSize: page size must be positive (got %d)", o.size)
	}
	cfg.pageSize = o.size
	cfg.pageSizeSet = true
	return nil
}

func (o *pageSizeOption) applyStore(cfg *storeConfig) error {
	if o.size <= 0 {
		return fmt.Errorf("WithPageSize: page size must be positive (got %d)", o.size)
	}
	cfg.pageSize = o.size
	return nil
}

// loggerOption implements Option for WithLogger.
type loggerOption struct {
	logger *slog.Logger
}

// WithLogger sets the structured logger.
// Default: a logger that discards all records.
func WithLogger(l *slog.Logger) Option {
	return &loggerOption{logger: l}
}

func (o *loggerOption) applyView(cfg *viewConfig) error {
	if o.logger != nil {
		cfg.logger = o.logger
	}
	return nil
}

func (o *loggerOption) applyStore(cfg *storeConfig) error {
	if o.logger != nil {
		cfg.logger = o.logger
	}
	return nil
}

// validatorOption implements Option for WithValidator (view-only).
type validatorOption struct {
	validator Validator
}

// WithValidator records the validator captured when the object was opened.
// Default: none, which disables caching for the view.
// This option is only valid for views.
func WithValidator(v Validator) Option {
	return &validatorOption{validator: v}
}

func (o *validatorOption) applyView(cfg *viewConfig) error {
	cfg.validator = o.validator
	return nil
}

func (o *validatorOption) applyStore(*storeConfig) error {
	return fmt.Errorf("WithValidator: %w", ErrOptionNotValidForStore)
}

// cacheOption implements Option for WithCache (view-only).
type cacheOption struct {
	cache PageCache
}

// WithCache sets the shared page cache for the view.
// Default: none, which makes every read a direct read.
// This option is only valid for views.
func WithCache(c PageCache) Option {
	return &cacheOption{cache: c}
}

func (o *cacheOption) applyView(cfg *viewConfig) error {
	cfg.cache = o.cache
	return nil
}

func (o *cacheOption) applyStore(*storeConfig) error {
	return fmt.Errorf("WithCache: %w", ErrOptionNotValidForStore)
}

// cacheBytesOption implements Option for WithCacheBytes (store-only).
type cacheBytesOption struct {
	bytes int64
}

// WithCacheBytes bounds the total stored page bytes.
// Default: DefaultCacheBytes.
// This option is only valid for NewPageStore.
func WithCacheBytes(n int64) Option {
	return &cacheBytesOption{bytes: n}
}

func (o *cacheBytesOption) applyView(*viewConfig) error {
	return fmt.Errorf("WithCacheBytes: %w", ErrOptionNotValidForView)
}

func (o *cacheBytesOption) applyStore(cfg *storeConfig) error {
	if o.bytes <= 0 {
		return fmt.Errorf("WithCacheBytes: byte budget must be positive (got %d)", o.bytes)
	}
	cfg.maxBytes = o.bytes
	return nil
}

// cachePagesOption implements Option for WithCachePages (store-only).
type cachePagesOption struct {
	pages int
}

// WithCachePages bounds the number of stored pages. Zero means no count bound.
// Default: 0.
// This option is only valid for NewPageStore.
func WithCachePages(n int) Option {
	return &cachePagesOption{pages: n}
}

func (o *cachePagesOption) applyView(*viewConfig) error {
	return fmt.Errorf("WithCachePages: %w", ErrOptionNotValidForView)
}

func (o *cachePagesOption) applyStore(cfg *storeConfig) error {
	if o.pages < 0 {
		return fmt.Errorf("WithCachePages: page count must be non-negative (got %d)", o.pages)
	}
	cfg.maxPages = o.pages
	return nil
}

// compressionOption implements Option for WithPageCompression (store-only).
type compressionOption struct {
	compressor PageCompressor
}

// WithPageCompression stores pages compressed with c. The byte budget then
// counts compressed bytes.
// Default: NewNoOpCompressor().
// This option is only valid for NewPageStore.
func WithPageCompression(c PageCompressor) Option {
	return &compressionOption{compressor: c}
}

func (o *compressionOption) applyView(*viewConfig) error {
	return fmt.Errorf("WithPageCompression: %w", ErrOptionNotValidForView)
}

func (o *compressionOption) applyStore(cfg *storeConfig) error {
	if o.compressor == nil {
		return errors.New("WithPageCompression: compressor must not be nil")
	}
	cfg.compressor = o.compressor
	return nil
}

// metricsOption implements Option for WithMetrics (store-only).
type metricsOption struct {
	metrics Metrics
}

// WithMetrics sets the metrics sink for the page store. A nil sink disables
// metrics.
// This option is only valid for NewPageStore.
func WithMetrics(m Metrics) Option {
	return &metricsOption{metrics: m}
}

func (o *metricsOption) applyView(*viewConfig) error {
	return fmt.Errorf("WithMetrics: %w", ErrOptionNotValidForView)
}

func (o *metricsOption) applyStore(cfg *storeConfig) error {
	cfg.metrics = o.metrics
	return nil
}
