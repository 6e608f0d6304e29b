// Package testutil provides helpers for examples.
package testutil

import (
	"fmt"
	"os"
)

// TempDir creates a fresh directory for an example run and returns it with
// a cleanup function that removes it.
//
// Usage:
//
//	dir, cleanup, err := testutil.TempDir("pageview-parquet")
//	if err != nil { ... }
//	defer cleanup()
func TempDir(prefix string) (string, func(), error) {
	dir, err := os.MkdirTemp("", prefix+"-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	return dir, func() { RemoveAll(dir) }, nil
}

// RemoveAll removes the path and any children. Errors are ignored.
func RemoveAll(path string) { _ = os.RemoveAll(path) }
