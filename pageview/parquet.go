package pageview

import (
	"context"
	"errors"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// ErrInvalidFormat indicates the object is not a readable parquet file.
var ErrInvalidFormat = errors.New("invalid format")

// OpenParquet opens the object behind v as a parquet file.
//
// Footer, page index, and column chunk reads all go through the view, so
// repeated scans of a cached object hit the page store instead of the
// network. Reads issued later through the returned file use ctx.
func OpenParquet(ctx context.Context, v *View, opts ...parquet.FileOption) (*parquet.File, error) {
	if v == nil {
		return nil, errors.New("pageview: view is required")
	}
	if v.Size() == 0 {
		return nil, fmt.Errorf("pageview: %s is empty: %w", v.Locator(), ErrInvalidFormat)
	}

	file, err := parquet.OpenFile(v.ReaderAt(ctx), v.Size(), opts...)
	if err != nil {
		return nil, fmt.Errorf("pageview: open parquet %s: %w: %w", v.Locator(), ErrInvalidFormat, err)
	}
	return file, nil
}
