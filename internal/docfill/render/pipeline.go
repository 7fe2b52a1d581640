package render

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	docerrors "github.com/a3tai/mcp-docfill/internal/docfill/errors"
)

// Output is a rendered document
type Output struct {
	PDF    []byte
	Pages  int
	Width  int
	Height int
}

// StageObserver receives the duration of each completed pipeline stage
type StageObserver func(stage string, elapsed time.Duration)

// Pipeline turns a filled .docx into a paginated A4 PDF: visual tree, raster,
// page tiles, PDF, verification. Runs are serialized because the rasterizer
// surface is shared.
type Pipeline struct {
	rasterizer Rasterizer
	assembler  *Assembler
	validator  *Validator
	logger     *zap.Logger
	observe    StageObserver

	mu sync.Mutex
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithStageObserver registers a callback for stage timings
func WithStageObserver(fn StageObserver) PipelineOption {
	return func(p *Pipeline) { p.observe = fn }
}

// WithValidator replaces the default output validator
func WithValidator(v *Validator) PipelineOption {
	return func(p *Pipeline) { p.validator = v }
}

// NewPipeline creates a pipeline drawing with rasterizer
func NewPipeline(rasterizer Rasterizer, logger *zap.Logger, opts ...PipelineOption) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		rasterizer: rasterizer,
		assembler:  NewAssembler(),
		validator:  NewValidator(0),
		logger:     logger,
		observe:    func(string, time.Duration) {},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Render converts a filled .docx package into PDF bytes. Every failure is
// returned as a RenderFailure carrying the stage it happened in.
func (p *Pipeline) Render(ctx context.Context, document []byte) (*Output, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	doc, err := BuildVisualTree(document)
	if err != nil {
		return nil, err
	}
	p.observe(StageVisualTree, time.Since(start))

	start = time.Now()
	raster, err := p.rasterizer.Rasterize(ctx, doc)
	if err != nil {
		return nil, stageError(StageRaster, err)
	}
	// the raster aliases the rasterizer surface, clear it once the PDF is out
	defer func() {
		if err := p.rasterizer.Reset(); err != nil {
			p.logger.Warn("rasterizer reset failed", zap.Error(err))
		}
	}()
	p.observe(StageRaster, time.Since(start))

	if err := ctx.Err(); err != nil {
		return nil, stageError(StagePDF, err)
	}

	start = time.Now()
	data, pages, err := p.assembler.Assemble(raster)
	if err != nil {
		return nil, stageError(StagePDF, err)
	}
	p.observe(StagePDF, time.Since(start))

	start = time.Now()
	verified, err := p.validator.Validate(data)
	if err != nil {
		return nil, stageError(StageVerify, err)
	}
	p.observe(StageVerify, time.Since(start))

	out := &Output{
		PDF:    data,
		Pages:  verified,
		Width:  raster.Bounds().Dx(),
		Height: raster.Bounds().Dy(),
	}
	p.logger.Info("document rendered",
		zap.Int("pages", pages),
		zap.Int("bytes", len(data)),
		zap.Int("raster_height", out.Height))
	return out, nil
}

// Close releases the rasterizer
func (p *Pipeline) Close() error {
	return p.rasterizer.Close()
}

func stageError(stage string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return docerrors.Wrap(docerrors.ErrorTypeRenderFailure, err).WithStage(stage).WithContext("cancelled")
	}
	return docerrors.Wrap(docerrors.ErrorTypeRenderFailure, err).WithStage(stage)
}
