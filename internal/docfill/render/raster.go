package render

import (
	"context"
	"image"
	"math"
)

const (
	// DefaultViewportWidth is the raster width in pixels, A4 width at 96 dpi
	DefaultViewportWidth = 794
	DefaultMargin        = 48

	a4Ratio = 297.0 / 210.0
)

// Rasterizer draws a visual tree onto a single tall image whose width is the
// configured viewport width. Implementations own one drawing surface that is
// reused across runs and cleared by Reset at the start of each run, so a
// rasterizer must not be used by two runs at once.
type Rasterizer interface {
	Rasterize(ctx context.Context, doc *Document) (image.Image, error)
	Reset() error
	Close() error
}

// PageHeight returns the height in pixels of an A4 page drawn width pixels wide
func PageHeight(width int) int {
	return int(math.Round(float64(width) * a4Ratio))
}
