package render

import (
	"strconv"
	"strings"

	"github.com/a3tai/mcp-docfill/internal/docfill/docx"
	docerrors "github.com/a3tai/mcp-docfill/internal/docfill/errors"
)

const (
	StageVisualTree = "visual-tree"
	StageRaster     = "raster"
	StagePDF        = "pdf"
	StageVerify     = "verify"

	emuPerPixel = 9525
)

// BuildVisualTree reads the main part of a .docx package into a visual tree
func BuildVisualTree(document []byte) (*Document, error) {
	pkg, err := docx.OpenPackage(document)
	if err != nil {
		return nil, docerrors.Wrap(docerrors.ErrorTypeRenderFailure, err).WithStage(StageVisualTree)
	}
	mainXML, err := pkg.MainPart()
	if err != nil {
		return nil, docerrors.Wrap(docerrors.ErrorTypeRenderFailure, err).WithStage(StageVisualTree)
	}
	tree, err := docx.ParseTree(mainXML)
	if err != nil {
		return nil, docerrors.Wrap(docerrors.ErrorTypeRenderFailure, err).
			WithStage(StageVisualTree).WithContext(docx.MainPartName)
	}

	root := tree.Root()
	body := tree.Child(root, "body")
	if body < 0 {
		return nil, docerrors.New(docerrors.ErrorTypeRenderFailure, "document has no body").
			WithStage(StageVisualTree)
	}

	b := &treeBuilder{tree: tree, pkg: pkg}
	doc := &Document{Blocks: b.blocks(body)}
	return doc, nil
}

type treeBuilder struct {
	tree *docx.Tree
	pkg  *docx.Package
}

// blocks converts the block-level children of a body or table cell
func (b *treeBuilder) blocks(parent int) []Block {
	var out []Block
	for _, c := range b.tree.Nodes[parent].Children {
		n := &b.tree.Nodes[c]
		if n.Kind != docx.KindElement {
			continue
		}
		switch n.Name.Local {
		case "p":
			out = append(out, b.paragraph(c)...)
		case "tbl":
			out = append(out, b.table(c))
		case "sdt":
			if content := b.tree.Child(c, "sdtContent"); content >= 0 {
				out = append(out, b.blocks(content)...)
			}
		}
	}
	return out
}

func (b *treeBuilder) table(idx int) *Table {
	t := &Table{}
	for _, tr := range b.tree.Nodes[idx].Children {
		if !b.isElement(tr, "tr") {
			continue
		}
		var row []*Cell
		for _, tc := range b.tree.Nodes[tr].Children {
			if !b.isElement(tc, "tc") {
				continue
			}
			row = append(row, &Cell{Blocks: b.blocks(tc)})
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// paragraph converts a w:p. Page breaks inside the paragraph split it, and
// drawings are emitted as image blocks after the text that precedes them.
func (b *treeBuilder) paragraph(idx int) []Block {
	base := Paragraph{}
	var out []Block

	if ppr := b.tree.Child(idx, "pPr"); ppr >= 0 {
		if jc := b.tree.Child(ppr, "jc"); jc >= 0 {
			val, _ := b.tree.AttrValue(jc, "val")
			base.Align = parseAlign(val)
		}
		if style := b.tree.Child(ppr, "pStyle"); style >= 0 {
			val, _ := b.tree.AttrValue(style, "val")
			base.Heading = headingLevel(val)
		}
		if b.tree.Child(ppr, "pageBreakBefore") >= 0 {
			out = append(out, &PageBreak{})
		}
	}

	current := base
	flush := func(force bool) {
		if len(current.Runs) > 0 || force {
			p := current
			out = append(out, &p)
		}
		current = base
	}

	var visit func(i int)
	visit = func(i int) {
		n := &b.tree.Nodes[i]
		if n.Kind != docx.KindElement {
			return
		}
		switch n.Name.Local {
		case "pPr", "rPr":
			return
		case "r":
			style := b.runStyle(i)
			lineBreak := false
			for _, c := range n.Children {
				cn := &b.tree.Nodes[c]
				if cn.Kind != docx.KindElement {
					continue
				}
				switch cn.Name.Local {
				case "t":
					run := style
					run.Text = b.tree.Text(c)
					run.Break = lineBreak
					lineBreak = false
					current.Runs = append(current.Runs, run)
				case "tab":
					run := style
					run.Text = "    "
					run.Break = lineBreak
					lineBreak = false
					current.Runs = append(current.Runs, run)
				case "br", "cr":
					if kind, _ := b.tree.AttrValue(c, "type"); kind == "page" {
						flush(false)
						out = append(out, &PageBreak{})
						continue
					}
					lineBreak = true
				case "drawing", "pict":
					flush(false)
					out = append(out, b.images(c)...)
				}
			}
			if lineBreak {
				run := style
				run.Break = true
				current.Runs = append(current.Runs, run)
			}
			return
		}
		for _, c := range n.Children {
			visit(c)
		}
	}
	for _, c := range b.tree.Nodes[idx].Children {
		visit(c)
	}

	// an empty paragraph still occupies a line
	flush(len(out) == 0)
	return out
}

func (b *treeBuilder) runStyle(idx int) Run {
	var run Run
	rpr := b.tree.Child(idx, "rPr")
	if rpr < 0 {
		return run
	}
	run.Bold = b.toggle(rpr, "b")
	run.Italic = b.toggle(rpr, "i")
	if u := b.tree.Child(rpr, "u"); u >= 0 {
		val, _ := b.tree.AttrValue(u, "val")
		run.Underline = val != "none"
	}
	if sz := b.tree.Child(rpr, "sz"); sz >= 0 {
		val, _ := b.tree.AttrValue(sz, "val")
		if half, err := strconv.Atoi(val); err == nil && half > 0 {
			run.Size = float64(half) / 2
		}
	}
	return run
}

func (b *treeBuilder) toggle(rpr int, local string) bool {
	idx := b.tree.Child(rpr, local)
	if idx < 0 {
		return false
	}
	val, ok := b.tree.AttrValue(idx, "val")
	if !ok {
		return true
	}
	return val != "0" && val != "false" && val != "off"
}

// images resolves the pictures referenced by a drawing element
func (b *treeBuilder) images(idx int) []Block {
	width, height := 0, 0
	if extents := b.tree.Find(idx, "extent"); len(extents) > 0 {
		cx, _ := b.tree.AttrValue(extents[0], "cx")
		cy, _ := b.tree.AttrValue(extents[0], "cy")
		w, errW := strconv.ParseInt(cx, 10, 64)
		h, errH := strconv.ParseInt(cy, 10, 64)
		if errW == nil && errH == nil {
			width, height = int(w/emuPerPixel), int(h/emuPerPixel)
		}
	}

	var out []Block
	refs := b.tree.Find(idx, "blip")
	refs = append(refs, b.tree.Find(idx, "imagedata")...)
	for _, ref := range refs {
		id := b.relID(ref)
		if id == "" {
			continue
		}
		target, ok, err := b.pkg.RelationshipTarget(id)
		if err != nil || !ok {
			continue
		}
		data, ok, err := b.pkg.Part(target)
		if err != nil || !ok {
			continue
		}
		out = append(out, &Image{Name: target, Data: data, Width: width, Height: height})
	}
	return out
}

func (b *treeBuilder) relID(idx int) string {
	for _, a := range b.tree.Nodes[idx].Attr {
		if a.Name.Space == "r" && (a.Name.Local == "embed" || a.Name.Local == "id") {
			return a.Value
		}
	}
	return ""
}

func (b *treeBuilder) isElement(idx int, local string) bool {
	n := &b.tree.Nodes[idx]
	return n.Kind == docx.KindElement && n.Name.Local == local
}

func parseAlign(val string) Align {
	switch val {
	case "center":
		return AlignCenter
	case "right", "end":
		return AlignRight
	case "both", "distribute":
		return AlignJustify
	default:
		return AlignLeft
	}
}

func headingLevel(style string) int {
	s := strings.ToLower(style)
	if s == "title" {
		return 1
	}
	if rest, ok := strings.CutPrefix(s, "heading"); ok {
		if n, err := strconv.Atoi(rest); err == nil && n >= 1 && n <= 6 {
			return n
		}
	}
	return 0
}
