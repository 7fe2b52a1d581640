package render

import (
	"bytes"
	"context"
	"image"
	"sync"
	"time"

	// decoders for embedded pictures
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

const maxConcurrentDecodes = 4

// resources holds the decoded pictures of a document
type resources struct {
	mu     sync.Mutex
	images map[*Image]image.Image
}

func (r *resources) image(img *Image) (image.Image, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	decoded, ok := r.images[img]
	return decoded, ok
}

func (r *resources) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.images)
}

// loadResources decodes the document's pictures concurrently. It waits at
// most settle for the decoders; pictures that are still pending or that fail
// to decode are left out of the raster.
func loadResources(ctx context.Context, doc *Document, settle time.Duration, logger *zap.Logger) *resources {
	res := &resources{images: make(map[*Image]image.Image)}
	pending := doc.Images()
	if len(pending) == 0 {
		return res
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDecodes)
	for _, img := range pending {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			decoded, format, err := image.Decode(bytes.NewReader(img.Data))
			if err != nil {
				logger.Warn("embedded image skipped",
					zap.String("name", img.Name),
					zap.Error(err))
				return nil
			}
			res.mu.Lock()
			res.images[img] = decoded
			res.mu.Unlock()
			logger.Debug("embedded image decoded",
				zap.String("name", img.Name),
				zap.String("format", format))
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	timer := time.NewTimer(settle)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		logger.Warn("resource settle timeout reached, rasterizing with loaded resources",
			zap.Duration("settle", settle))
	case <-ctx.Done():
	}
	return res
}
