package render

// Align is the horizontal alignment of a paragraph
type Align uint8

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
	AlignJustify
)

// Run is a span of text sharing one style
type Run struct {
	Text      string
	Bold      bool
	Italic    bool
	Underline bool
	Size      float64 // points, 0 means the paragraph default
	Break     bool    // line break before Text
}

// Block is one element of the visual tree
type Block interface {
	block()
}

// Paragraph is a run of styled text laid out as wrapped lines
type Paragraph struct {
	Runs    []Run
	Align   Align
	Heading int // 0 for body text, 1-6 for headings
}

// Table is a grid of cells; rows may have differing cell counts
type Table struct {
	Rows [][]*Cell
}

// Cell holds the blocks of one table cell
type Cell struct {
	Blocks []Block
}

// PageBreak forces the following content onto a new page
type PageBreak struct{}

// Image is an embedded picture. Data is decoded lazily by the rasterizer.
type Image struct {
	Name   string
	Data   []byte
	Width  int // pixels at 96 dpi, 0 when unknown
	Height int
}

func (*Paragraph) block() {}
func (*Table) block()     {}
func (*PageBreak) block() {}
func (*Image) block()     {}

// Document is the visual tree of a filled template
type Document struct {
	Blocks []Block
}

// Text returns the plain text of a paragraph
func (p *Paragraph) Text() string {
	var out []byte
	for _, r := range p.Runs {
		if r.Break {
			out = append(out, '\n')
		}
		out = append(out, r.Text...)
	}
	return string(out)
}

// Images returns every image in the document, including those in tables
func (d *Document) Images() []*Image {
	var out []*Image
	var visit func(blocks []Block)
	visit = func(blocks []Block) {
		for _, b := range blocks {
			switch v := b.(type) {
			case *Image:
				out = append(out, v)
			case *Table:
				for _, row := range v.Rows {
					for _, cell := range row {
						visit(cell.Blocks)
					}
				}
			}
		}
	}
	visit(d.Blocks)
	return out
}

// PlainText returns the text of every paragraph, one per line
func (d *Document) PlainText() string {
	var out []byte
	var visit func(blocks []Block)
	visit = func(blocks []Block) {
		for _, b := range blocks {
			switch v := b.(type) {
			case *Paragraph:
				out = append(out, v.Text()...)
				out = append(out, '\n')
			case *Table:
				for _, row := range v.Rows {
					for _, cell := range row {
						visit(cell.Blocks)
					}
				}
			}
		}
	}
	visit(d.Blocks)
	return string(out)
}
