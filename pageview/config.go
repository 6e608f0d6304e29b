package pageview

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/pithecene-io/pageview/internal/bytesize"
)

var jsonConfig = jsoniter.ConfigCompatibleWithStandardLibrary

// Compression names accepted in Config.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// Config is the file-level configuration of a shared PageStore.
//
// Example:
//
//	{
//	  "page_size": "2Mi",
//	  "cache_bytes": "256Mi",
//	  "cache_pages": 0,
//	  "compression": "zstd"
//	}
type Config struct {
	// PageSize is the page size in bytes.
	PageSize int64

	// CacheBytes bounds stored page bytes.
	CacheBytes int64

	// CachePages bounds the number of stored pages (0 = no count bound).
	CachePages int

	// Compression is "none" or "zstd".
	Compression string
}

// fileConfig is the on-disk form of Config.
type fileConfig struct {
	PageSize    *bytesize.Size `json:"page_size"`
	CacheBytes  *bytesize.Size `json:"cache_bytes"`
	CachePages  int            `json:"cache_pages"`
	Compression string         `json:"compression"`
}

// DefaultConfig returns the configuration NewPageStore uses with no options.
func DefaultConfig() Config {
	return Config{
		PageSize:    DefaultPageSize,
		CacheBytes:  DefaultCacheBytes,
		Compression: CompressionNone,
	}
}

// LoadConfig decodes a JSON configuration from r. Omitted fields keep their
// DefaultConfig values. The result is validated.
func LoadConfig(r io.Reader) (Config, error) {
	var fc fileConfig
	if err := jsonConfig.NewDecoder(r).Decode(&fc); err != nil {
		return Config{}, fmt.Errorf("pageview: decode config: %w", err)
	}

	cfg := DefaultConfig()
	if fc.PageSize != nil {
		cfg.PageSize = int64(*fc.PageSize)
	}
	if fc.CacheBytes != nil {
		cfg.CacheBytes = int64(*fc.CacheBytes)
	}
	cfg.CachePages = fc.CachePages
	if fc.Compression != "" {
		cfg.Compression = fc.Compression
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration describes a usable page store.
func (c Config) Validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("pageview: config: page_size must be positive (got %d)", c.PageSize)
	}
	if c.CacheBytes <= 0 {
		return fmt.Errorf("pageview: config: cache_bytes must be positive (got %d)", c.CacheBytes)
	}
	if c.CacheBytes < c.PageSize {
		return fmt.Errorf("pageview: config: cache_bytes %d is smaller than one page (%d)", c.CacheBytes, c.PageSize)
	}
	if c.CachePages < 0 {
		return fmt.Errorf("pageview: config: cache_pages must be non-negative (got %d)", c.CachePages)
	}
	switch c.Compression {
	case "", CompressionNone, CompressionZstd:
	default:
		return fmt.Errorf("pageview: config: unknown compression %q", c.Compression)
	}
	return nil
}

// StoreOptions converts the configuration to NewPageStore options.
func (c Config) StoreOptions() ([]Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	opts := []Option{
		WithPageSize(c.PageSize),
		WithCacheBytes(c.CacheBytes),
		WithCachePages(c.CachePages),
	}
	if c.Compression == CompressionZstd {
		zc, err := NewZstdCompressor()
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithPageCompression(zc))
	}
	return opts, nil
}
