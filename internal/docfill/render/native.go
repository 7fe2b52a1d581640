package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	defaultFontSize  = 11.0
	paragraphSpacing = 8
	cellPadding      = 6
	lineSpacing      = 1.2
)

var headingSizes = map[int]float64{1: 20, 2: 16, 3: 14, 4: 13, 5: 12, 6: 11}

var borderColor = image.NewUniform(color.Gray{Y: 0x80})

type fontStyle int

const (
	styleRegular fontStyle = iota
	styleBold
	styleItalic
	styleBoldItalic
)

type faceKey struct {
	style fontStyle
	size  float64
}

// NativeOptions configures the in-process rasterizer
type NativeOptions struct {
	ViewportWidth int
	Margin        int
	SettleTimeout time.Duration
	// FontPath is an optional TrueType/OpenType font used for every style,
	// e.g. one with CJK coverage. The Go fonts are used when empty.
	FontPath string
}

// NativeRasterizer lays out and draws a visual tree in process using
// x/image fonts. It keeps one RGBA surface that grows as needed and is
// cleared at the start of each run.
type NativeRasterizer struct {
	opts   NativeOptions
	logger *zap.Logger

	mu      sync.Mutex
	fonts   [4]*opentype.Font
	faces   map[faceKey]font.Face
	surface *image.RGBA

	wideWarning sync.Once
}

// NewNativeRasterizer parses the configured fonts
func NewNativeRasterizer(opts NativeOptions, logger *zap.Logger) (*NativeRasterizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ViewportWidth <= 0 {
		opts.ViewportWidth = DefaultViewportWidth
	}
	if opts.Margin < 0 || opts.Margin*2 >= opts.ViewportWidth {
		opts.Margin = DefaultMargin
	}

	r := &NativeRasterizer{
		opts:   opts,
		logger: logger,
		faces:  make(map[faceKey]font.Face),
	}

	if opts.FontPath != "" {
		data, err := os.ReadFile(opts.FontPath)
		if err != nil {
			return nil, fmt.Errorf("read font %s: %w", opts.FontPath, err)
		}
		f, err := opentype.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse font %s: %w", opts.FontPath, err)
		}
		for i := range r.fonts {
			r.fonts[i] = f
		}
		return r, nil
	}

	for i, ttf := range [][]byte{goregular.TTF, gobold.TTF, goitalic.TTF, gobolditalic.TTF} {
		f, err := opentype.Parse(ttf)
		if err != nil {
			return nil, fmt.Errorf("parse builtin font: %w", err)
		}
		r.fonts[i] = f
	}
	return r, nil
}

// Reset clears the drawing surface
func (r *NativeRasterizer) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
	return nil
}

func (r *NativeRasterizer) resetLocked() {
	if r.surface == nil {
		return
	}
	r.surface.Pix = r.surface.Pix[:0]
	r.surface.Rect = image.Rectangle{}
}

// Close releases the cached font faces
func (r *NativeRasterizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, face := range r.faces {
		_ = face.Close()
		delete(r.faces, key)
	}
	r.surface = nil
	return nil
}

// Rasterize lays the document out at the viewport width and draws it. The
// returned image aliases the rasterizer's surface and stays valid until the
// next call to Rasterize or Reset.
func (r *NativeRasterizer) Rasterize(ctx context.Context, doc *Document) (image.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resetLocked()

	settle := r.opts.SettleTimeout
	if settle <= 0 {
		settle = time.Second
	}
	res := loadResources(ctx, doc, settle, r.logger)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if r.opts.FontPath == "" && hasWideText(doc) {
		r.wideWarning.Do(func() {
			r.logger.Warn("document contains CJK text but no font path is configured; the built-in Go fonts have no glyphs for it")
		})
	}

	width := r.opts.ViewportWidth
	l := &layout{
		ctx:    ctx,
		r:      r,
		res:    res,
		pageH:  PageHeight(width),
		margin: r.opts.Margin,
	}
	bottom, err := l.blocks(doc.Blocks, r.opts.Margin, width-2*r.opts.Margin, r.opts.Margin, true)
	if err != nil {
		return nil, err
	}

	height := max(bottom+r.opts.Margin, l.pageH)
	canvas := r.canvas(width, height)
	for _, o := range l.ops {
		o.draw(canvas)
	}

	r.logger.Debug("document rasterized",
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int("images", res.count()))
	return canvas, nil
}

// canvas returns the surface sized to w x h and filled white
func (r *NativeRasterizer) canvas(w, h int) *image.RGBA {
	n := 4 * w * h
	if r.surface == nil || cap(r.surface.Pix) < n {
		r.surface = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		r.surface.Pix = r.surface.Pix[:n]
		r.surface.Stride = 4 * w
		r.surface.Rect = image.Rect(0, 0, w, h)
	}
	pix := r.surface.Pix
	for i := range pix {
		pix[i] = 0xff
	}
	return r.surface
}

func (r *NativeRasterizer) face(style fontStyle, size float64) (font.Face, error) {
	key := faceKey{style: style, size: size}
	if f, ok := r.faces[key]; ok {
		return f, nil
	}
	f, err := opentype.NewFace(r.fonts[style], &opentype.FaceOptions{
		Size:    size,
		DPI:     96,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create font face: %w", err)
	}
	r.faces[key] = f
	return f, nil
}

type opKind int

const (
	opText opKind = iota
	opFill
	opImage
)

// op is one deferred drawing operation
type op struct {
	kind opKind
	text string
	face font.Face
	at   image.Point // text baseline origin
	rect image.Rectangle
	src  image.Image
}

func (o op) translate(dx, dy int) op {
	d := image.Pt(dx, dy)
	o.at = o.at.Add(d)
	o.rect = o.rect.Add(d)
	return o
}

func (o op) draw(dst *image.RGBA) {
	switch o.kind {
	case opText:
		d := font.Drawer{
			Dst:  dst,
			Src:  image.Black,
			Face: o.face,
			Dot:  fixed.P(o.at.X, o.at.Y),
		}
		d.DrawString(o.text)
	case opFill:
		draw.Draw(dst, o.rect, o.src, image.Point{}, draw.Src)
	case opImage:
		draw.CatmullRom.Scale(dst, o.rect, o.src, o.src.Bounds(), draw.Over, nil)
	}
}

type layout struct {
	ctx    context.Context
	r      *NativeRasterizer
	res    *resources
	pageH  int
	margin int
	ops    []op
}

// fit moves y to the top of the next page when a box of height h starting
// at y would cross the bottom margin of the current page. Boxes taller than
// a page are left where they are.
func (l *layout) fit(y, h int) int {
	page := y / l.pageH
	bottom := (page+1)*l.pageH - l.margin
	if y+h <= bottom || h > l.pageH-2*l.margin {
		return y
	}
	return (page+1)*l.pageH + l.margin
}

func (l *layout) nextPage(y int) int {
	return (y/l.pageH+1)*l.pageH + l.margin
}

func (l *layout) blocks(blocks []Block, x, width, y int, paginate bool) (int, error) {
	for _, b := range blocks {
		if err := l.ctx.Err(); err != nil {
			return 0, err
		}
		var err error
		switch v := b.(type) {
		case *Paragraph:
			y, err = l.paragraph(v, x, width, y, paginate)
		case *Table:
			y, err = l.table(v, x, width, y, paginate)
		case *Image:
			y = l.image(v, x, width, y, paginate)
		case *PageBreak:
			if paginate {
				y = l.nextPage(y)
			}
		}
		if err != nil {
			return 0, err
		}
	}
	return y, nil
}

type atom struct {
	text      string
	face      font.Face
	width     int
	space     bool
	newline   bool
	underline bool
}

func (l *layout) paragraph(p *Paragraph, x, width, y int, paginate bool) (int, error) {
	size := defaultFontSize
	if s, ok := headingSizes[p.Heading]; ok {
		size = s
	}
	baseFace, err := l.r.face(styleFor(p.Heading > 0, false), size)
	if err != nil {
		return 0, err
	}

	var atoms []atom
	for _, run := range p.Runs {
		runSize := size
		if run.Size > 0 {
			runSize = run.Size
		}
		face, err := l.r.face(styleFor(run.Bold || p.Heading > 0, run.Italic), runSize)
		if err != nil {
			return 0, err
		}
		if run.Break {
			atoms = append(atoms, atom{newline: true, face: face})
		}
		for _, text := range splitAtoms(run.Text) {
			atoms = append(atoms, atom{
				text:      text,
				face:      face,
				width:     font.MeasureString(face, text).Ceil(),
				space:     text == " ",
				underline: run.Underline,
			})
		}
	}

	for _, line := range wrapAtoms(atoms, width) {
		lineH, ascent := lineMetrics(line, baseFace)
		if paginate {
			y = l.fit(y, lineH)
		}
		offset := 0
		switch p.Align {
		case AlignCenter:
			offset = (width - lineWidth(line)) / 2
		case AlignRight:
			offset = width - lineWidth(line)
		}
		cx := x + max(offset, 0)
		baseline := y + ascent
		for _, a := range line {
			if !a.space && !a.newline {
				l.ops = append(l.ops, op{kind: opText, text: a.text, face: a.face, at: image.Pt(cx, baseline)})
			}
			if a.underline && !a.newline {
				l.ops = append(l.ops, op{
					kind: opFill,
					rect: image.Rect(cx, baseline+2, cx+a.width, baseline+3),
					src:  image.Black,
				})
			}
			cx += a.width
		}
		y += lineH
	}
	return y + paragraphSpacing, nil
}

func (l *layout) table(t *Table, x, width, y int, paginate bool) (int, error) {
	cols := 0
	for _, row := range t.Rows {
		cols = max(cols, len(row))
	}
	if cols == 0 {
		return y, nil
	}
	colW := width / cols

	for _, row := range t.Rows {
		cells := make([]*layout, len(row))
		rowH := 0
		for i, cell := range row {
			sub := &layout{ctx: l.ctx, r: l.r, res: l.res, pageH: l.pageH, margin: l.margin}
			h, err := sub.blocks(cell.Blocks, 0, colW-2*cellPadding, 0, false)
			if err != nil {
				return 0, err
			}
			cells[i] = sub
			rowH = max(rowH, h+2*cellPadding)
		}
		rowH = max(rowH, 2*cellPadding)
		if paginate {
			y = l.fit(y, rowH)
		}

		for i, sub := range cells {
			cx := x + i*colW
			for _, o := range sub.ops {
				l.ops = append(l.ops, o.translate(cx+cellPadding, y+cellPadding))
			}
			l.border(image.Rect(cx, y, cx+colW, y+rowH))
		}
		y += rowH
	}
	return y + paragraphSpacing, nil
}

func (l *layout) border(r image.Rectangle) {
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1),
		image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y),
		image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		l.ops = append(l.ops, op{kind: opFill, rect: e, src: borderColor})
	}
}

func (l *layout) image(img *Image, x, width, y int, paginate bool) int {
	decoded, ok := l.res.image(img)
	if !ok {
		return y
	}
	w, h := img.Width, img.Height
	if w <= 0 || h <= 0 {
		b := decoded.Bounds()
		w, h = b.Dx(), b.Dy()
	}
	if w <= 0 || h <= 0 {
		return y
	}
	if w > width {
		h = h * width / w
		w = width
	}
	if paginate {
		y = l.fit(y, h)
	}
	l.ops = append(l.ops, op{kind: opImage, rect: image.Rect(x, y, x+w, y+h), src: decoded})
	return y + h + paragraphSpacing
}

func styleFor(bold, italic bool) fontStyle {
	switch {
	case bold && italic:
		return styleBoldItalic
	case bold:
		return styleBold
	case italic:
		return styleItalic
	default:
		return styleRegular
	}
}

// splitAtoms breaks text into words, single spaces and single wide glyphs.
// Lines may break between any two atoms.
func splitAtoms(text string) []string {
	var out []string
	start := -1
	for i, r := range text {
		switch {
		case unicode.IsSpace(r):
			if start >= 0 {
				out = append(out, text[start:i])
				start = -1
			}
			out = append(out, " ")
		case isWide(r):
			if start >= 0 {
				out = append(out, text[start:i])
				start = -1
			}
			out = append(out, string(r))
		default:
			if start < 0 {
				start = i
			}
		}
	}
	if start >= 0 {
		out = append(out, text[start:])
	}
	return out
}

func hasWideText(doc *Document) bool {
	return strings.IndexFunc(doc.PlainText(), isWide) >= 0
}

func isWide(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// wrapAtoms greedily fills lines of the given width. A paragraph without
// atoms still yields one empty line.
func wrapAtoms(atoms []atom, width int) [][]atom {
	var lines [][]atom
	var line []atom
	x := 0
	for _, a := range atoms {
		if a.newline {
			lines = append(lines, line)
			line, x = []atom{a}, 0
			continue
		}
		if a.space && len(line) == 0 && len(lines) > 0 {
			continue
		}
		if x+a.width > width && len(line) > 0 && !a.space {
			lines = append(lines, line)
			line, x = nil, 0
		}
		if a.width > width && !a.space {
			parts := splitWide(a, width)
			for _, part := range parts[:len(parts)-1] {
				lines = append(lines, append(line, part))
				line = nil
			}
			a = parts[len(parts)-1]
		}
		line = append(line, a)
		x += a.width
	}
	return append(lines, line)
}

// splitWide cuts an atom wider than width into pieces that fit
func splitWide(a atom, width int) []atom {
	var out []atom
	rest := a.text
	for rest != "" {
		n, w := 0, 0
		for n < len(rest) {
			_, size := utf8.DecodeRuneInString(rest[n:])
			cw := font.MeasureString(a.face, rest[:n+size]).Ceil()
			if cw > width && n > 0 {
				break
			}
			n += size
			w = cw
		}
		piece := a
		piece.text = rest[:n]
		piece.width = w
		out = append(out, piece)
		rest = rest[n:]
	}
	return out
}

func lineMetrics(line []atom, fallback font.Face) (height, ascent int) {
	faces := []font.Face{fallback}
	if len(line) > 0 {
		faces = faces[:0]
		for _, a := range line {
			faces = append(faces, a.face)
		}
	}
	for _, f := range faces {
		m := f.Metrics()
		height = max(height, int(float64(m.Height.Ceil())*lineSpacing))
		ascent = max(ascent, m.Ascent.Ceil())
	}
	return height, ascent
}

func lineWidth(line []atom) int {
	w := 0
	end := len(line)
	for end > 0 && line[end-1].space {
		end--
	}
	for _, a := range line[:end] {
		w += a.width
	}
	return w
}
