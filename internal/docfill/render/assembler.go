package render

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/image/draw"
)

// pageImport places each image full bleed on an A4 page
const pageImport = "form:A4, pos:full"

// Assembler slices a raster into A4-proportioned tiles and writes them as
// consecutive pages of a PDF
type Assembler struct {
	conf *model.Configuration
}

// NewAssembler creates an assembler writing classic xref tables
func NewAssembler() *Assembler {
	conf := model.NewDefaultConfiguration()
	conf.WriteObjectStream = false
	conf.WriteXRefStream = false
	return &Assembler{conf: conf}
}

// Tiles cuts the raster top to bottom into page-sized images. The last tile
// is padded with white when the raster height is not a page multiple.
func Tiles(raster image.Image) []image.Image {
	b := raster.Bounds()
	width := b.Dx()
	if width <= 0 || b.Dy() <= 0 {
		return nil
	}
	pageH := PageHeight(width)

	var tiles []image.Image
	for y := b.Min.Y; y < b.Max.Y; y += pageH {
		tile := image.NewRGBA(image.Rect(0, 0, width, pageH))
		draw.Draw(tile, tile.Bounds(), image.White, image.Point{}, draw.Src)
		src := image.Rect(b.Min.X, y, b.Max.X, min(y+pageH, b.Max.Y))
		draw.Draw(tile, src.Sub(src.Min), raster, src.Min, draw.Src)
		tiles = append(tiles, tile)
	}
	return tiles
}

// Assemble encodes the raster as a multi-page A4 PDF
func (a *Assembler) Assemble(raster image.Image) ([]byte, int, error) {
	tiles := Tiles(raster)
	if len(tiles) == 0 {
		return nil, 0, fmt.Errorf("empty raster")
	}

	readers := make([]io.Reader, 0, len(tiles))
	for i, tile := range tiles {
		var buf bytes.Buffer
		if err := png.Encode(&buf, tile); err != nil {
			return nil, 0, fmt.Errorf("encode page %d: %w", i+1, err)
		}
		readers = append(readers, &buf)
	}

	imp, err := api.Import(pageImport, types.POINTS)
	if err != nil {
		return nil, 0, fmt.Errorf("page import settings: %w", err)
	}

	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, readers, imp, a.conf); err != nil {
		return nil, 0, fmt.Errorf("import page images: %w", err)
	}
	return out.Bytes(), len(tiles), nil
}
