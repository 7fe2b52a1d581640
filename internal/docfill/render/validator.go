package render

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const pdfMagic = "%PDF-"

// Validator checks generated PDF bytes before they leave the pipeline
type Validator struct {
	maxFileSize int64
}

// NewValidator creates a validator; maxFileSize <= 0 disables the size check
func NewValidator(maxFileSize int64) *Validator {
	return &Validator{maxFileSize: maxFileSize}
}

// Validate reports the page count of a well-formed PDF. The document is
// read by two independent parsers and both must agree on the page count.
func (v *Validator) Validate(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("pdf is empty")
	}
	if !bytes.HasPrefix(data, []byte(pdfMagic)) {
		return 0, fmt.Errorf("missing %s header", pdfMagic)
	}
	if v.maxFileSize > 0 && int64(len(data)) > v.maxFileSize {
		return 0, fmt.Errorf("pdf too large: %d bytes (max: %d bytes)", len(data), v.maxFileSize)
	}

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PDF: %w", err)
	}
	pages := r.NumPage()
	if pages == 0 {
		return 0, fmt.Errorf("pdf has no pages")
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("invalid PDF structure: %w", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return 0, fmt.Errorf("invalid PDF structure: %w", err)
	}
	if ctx.PageCount != pages {
		return 0, fmt.Errorf("page count mismatch: %d vs %d", pages, ctx.PageCount)
	}
	return pages, nil
}
