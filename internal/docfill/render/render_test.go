package render

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/a3tai/mcp-docfill/internal/docfill/docx"
	"github.com/a3tai/mcp-docfill/internal/docfill/docx/docxtest"
	docerrors "github.com/a3tai/mcp-docfill/internal/docfill/errors"
)

const docRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId7" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="media/image1.png"/></Relationships>`

const drawing = `<w:p><w:r><w:drawing><wp:inline><wp:extent cx="952500" cy="476250"/><a:graphic><a:graphicData><pic:pic><pic:blipFill><a:blip r:embed="rId7"/></pic:blipFill></pic:pic></a:graphicData></a:graphic></wp:inline></w:drawing></w:r></w:p>`

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	for x := 0; x < 20; x++ {
		for y := 0; y < 10; y++ {
			img.Set(x, y, color.RGBA{R: 0xff, A: 0xff})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func richDocument(t *testing.T) []byte {
	body := `<w:p><w:pPr><w:pStyle w:val="Heading1"/><w:jc w:val="center"/></w:pPr><w:r><w:t>Invoice</w:t></w:r></w:p>` +
		`<w:p><w:r><w:rPr><w:b/><w:sz w:val="28"/></w:rPr><w:t xml:space="preserve">Customer: </w:t></w:r><w:r><w:rPr><w:i/><w:u w:val="single"/></w:rPr><w:t>Acme</w:t></w:r></w:p>` +
		`<w:tbl><w:tr><w:tc><w:p><w:r><w:t>Item</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>Amount</w:t></w:r></w:p></w:tc></w:tr>` +
		`<w:tr><w:tc><w:p><w:r><w:t>Widget</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>100</w:t></w:r></w:p></w:tc></w:tr></w:tbl>` +
		drawing +
		`<w:p><w:r><w:t>before</w:t></w:r><w:r><w:br w:type="page"/></w:r><w:r><w:t>after</w:t></w:r></w:p>`
	return docxtest.BuildParts(map[string][]byte{
		docx.MainPartName:         []byte(docxtest.DocumentXML(body)),
		docx.DocumentRelsPartName: []byte(docRels),
		"word/media/image1.png":   testPNG(t),
	})
}

func TestBuildVisualTree(t *testing.T) {
	doc, err := BuildVisualTree(richDocument(t))
	require.NoError(t, err)
	require.Len(t, doc.Blocks, 7)

	heading, ok := doc.Blocks[0].(*Paragraph)
	require.True(t, ok)
	assert.Equal(t, 1, heading.Heading)
	assert.Equal(t, AlignCenter, heading.Align)
	assert.Equal(t, "Invoice", heading.Text())

	styled := doc.Blocks[1].(*Paragraph)
	require.Len(t, styled.Runs, 2)
	assert.True(t, styled.Runs[0].Bold)
	assert.Equal(t, 14.0, styled.Runs[0].Size)
	assert.True(t, styled.Runs[1].Italic)
	assert.True(t, styled.Runs[1].Underline)

	table := doc.Blocks[2].(*Table)
	require.Len(t, table.Rows, 2)
	assert.Len(t, table.Rows[1], 2)

	img := doc.Blocks[3].(*Image)
	assert.Equal(t, "word/media/image1.png", img.Name)
	assert.Equal(t, 100, img.Width)
	assert.Equal(t, 50, img.Height)
	assert.NotEmpty(t, img.Data)

	assert.Equal(t, "before", doc.Blocks[4].(*Paragraph).Text())
	assert.IsType(t, &PageBreak{}, doc.Blocks[5])
	assert.Equal(t, "after", doc.Blocks[6].(*Paragraph).Text())

	assert.Len(t, doc.Images(), 1)
	assert.Contains(t, doc.PlainText(), "Widget\n100\n")
}

func TestBuildVisualTree_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"not a zip", []byte("nope")},
		{"broken xml", docxtest.BuildParts(map[string][]byte{docx.MainPartName: []byte("<w:document>")})},
		{"no body", docxtest.BuildParts(map[string][]byte{docx.MainPartName: []byte(`<w:document xmlns:w="urn:w"/>`)})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildVisualTree(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, docerrors.ErrRenderFailure)
			assert.Equal(t, docerrors.ErrorTypeRenderFailure, docerrors.TypeOf(err))
		})
	}
}

func TestSplitAtomsAndWrap(t *testing.T) {
	assert.Equal(t, []string{"hello", " ", "world"}, splitAtoms("hello world"))
	assert.Equal(t, []string{"名", "字", ":", " ", "A"}, splitAtoms("名字: A"))

	atoms := []atom{{text: "aaaa", width: 40}, {text: " ", width: 5, space: true}, {text: "bbbb", width: 40}}
	lines := wrapAtoms(atoms, 60)
	require.Len(t, lines, 2)
	assert.Equal(t, "aaaa", lines[0][0].text)
	assert.Equal(t, "bbbb", lines[1][0].text)

	assert.Len(t, wrapAtoms(nil, 60), 1, "empty paragraph keeps one line")
}

func TestNativeRasterizer_PaginatesAndReuses(t *testing.T) {
	r, err := NewNativeRasterizer(NativeOptions{}, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	doc, err := BuildVisualTree(richDocument(t))
	require.NoError(t, err)

	img, err := r.Rasterize(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, DefaultViewportWidth, img.Bounds().Dx())
	// the page break pushes content onto a second page
	assert.Greater(t, img.Bounds().Dy(), PageHeight(DefaultViewportWidth))
	assert.Len(t, Tiles(img), 2)

	// the second run starts from a cleared surface
	small := &Document{Blocks: []Block{&Paragraph{Runs: []Run{{Text: "short"}}}}}
	img, err = r.Rasterize(context.Background(), small)
	require.NoError(t, err)
	assert.Equal(t, PageHeight(DefaultViewportWidth), img.Bounds().Dy())
	assert.Len(t, Tiles(img), 1)

	require.NoError(t, r.Reset())
	assert.Empty(t, r.surface.Pix)
}

func TestNativeRasterizer_WarnsOnceForCJKWithoutFont(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r, err := NewNativeRasterizer(NativeOptions{}, zap.New(core))
	require.NoError(t, err)
	defer r.Close()

	latin := &Document{Blocks: []Block{&Paragraph{Runs: []Run{{Text: "Name: Acme"}}}}}
	_, err = r.Rasterize(context.Background(), latin)
	require.NoError(t, err)
	assert.Zero(t, logs.Len())

	cjk := &Document{Blocks: []Block{&Paragraph{Runs: []Run{{Text: "姓名: 张三"}}}}}
	for i := 0; i < 2; i++ {
		_, err = r.Rasterize(context.Background(), cjk)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, logs.FilterMessageSnippet("no font path").Len())
}

func TestNativeRasterizer_Cancelled(t *testing.T) {
	r, err := NewNativeRasterizer(NativeOptions{}, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Rasterize(ctx, &Document{Blocks: []Block{&Paragraph{}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNativeRasterizer_BadFontPath(t *testing.T) {
	_, err := NewNativeRasterizer(NativeOptions{FontPath: "/does/not/exist.ttf"}, nil)
	assert.Error(t, err)
}

func TestTiles_PadsLastPage(t *testing.T) {
	raster := image.NewRGBA(image.Rect(0, 0, 210, 400))
	tiles := Tiles(raster)
	require.Len(t, tiles, 2)
	for _, tile := range tiles {
		assert.Equal(t, image.Rect(0, 0, 210, 297), tile.Bounds())
	}
	// padding below the raster is white
	r, g, b, _ := tiles[1].At(10, 200).RGBA()
	assert.Equal(t, []uint32{0xffff, 0xffff, 0xffff}, []uint32{r, g, b})

	assert.Empty(t, Tiles(image.NewRGBA(image.Rectangle{})))
}

func TestPipeline_Render(t *testing.T) {
	r, err := NewNativeRasterizer(NativeOptions{}, nil)
	require.NoError(t, err)

	stages := map[string]bool{}
	p := NewPipeline(r, zap.NewNop(), WithStageObserver(func(stage string, _ time.Duration) {
		stages[stage] = true
	}))
	defer p.Close()

	out, err := p.Render(context.Background(), richDocument(t))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out.PDF, []byte("%PDF-")))
	assert.Equal(t, 2, out.Pages)
	assert.Equal(t, DefaultViewportWidth, out.Width)
	assert.Equal(t, map[string]bool{StageVisualTree: true, StageRaster: true, StagePDF: true, StageVerify: true}, stages)
}

func TestPipeline_RenderFailureCarriesStage(t *testing.T) {
	r, err := NewNativeRasterizer(NativeOptions{}, nil)
	require.NoError(t, err)
	p := NewPipeline(r, nil)

	_, err = p.Render(context.Background(), []byte("not a docx"))
	require.Error(t, err)
	var de *docerrors.DocError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, docerrors.ErrorTypeRenderFailure, de.Type)
	assert.Equal(t, StageVisualTree, de.Stage)
}

func TestValidator(t *testing.T) {
	v := NewValidator(10)
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"empty", nil, "empty"},
		{"no header", []byte("hello"), "header"},
		{"too large", []byte("%PDF-1.7 0123456789"), "too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.data)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := NewValidator(0).Validate([]byte("%PDF-1.7\ngarbage"))
	assert.Error(t, err)
}

func TestBuildHTML(t *testing.T) {
	doc := &Document{Blocks: []Block{
		&Paragraph{Heading: 2, Runs: []Run{{Text: "Title"}}},
		&Paragraph{Align: AlignRight, Runs: []Run{{Text: "<b>&", Bold: true}, {Text: "x", Break: true}}},
		&PageBreak{},
		&Table{Rows: [][]*Cell{{{Blocks: []Block{&Paragraph{Runs: []Run{{Text: "cell"}}}}}}}},
	}}
	html := BuildHTML(doc, 794, 48)

	assert.Contains(t, html, "width:794px")
	assert.Contains(t, html, `<h2 style="margin:0 0 8px 0;font-size:16pt">Title</h2>`)
	assert.Contains(t, html, `<p style="text-align:right"><span style="font-weight:bold">&lt;b&gt;&amp;</span><br>x</p>`)
	assert.Contains(t, html, `<div class="page-break"></div>`)
	assert.Contains(t, html, "<td><p>cell</p></td>")
	assert.False(t, strings.Contains(html, "<b>&"))
}
