package docx

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// NodeKind identifies the type of an XML node in a Tree
type NodeKind uint8

const (
	KindDocument NodeKind = iota
	KindElement
	KindText
	KindProcInst
	KindComment
	KindDirective
)

// Node is one entry in the tree arena. Names keep their raw prefix in
// Name.Space (e.g. "w"), so serialization reproduces the source markup.
type Node struct {
	Kind     NodeKind
	Name     xml.Name
	Attr     []xml.Attr
	Data     string
	Parent   int
	Children []int
}

// Tree is an XML document stored as an arena of nodes addressed by index.
// Index 0 is the document node.
type Tree struct {
	Nodes []Node
}

// ParseTree reads an XML document into a Tree
func ParseTree(data []byte) (*Tree, error) {
	t := &Tree{Nodes: []Node{{Kind: KindDocument, Parent: -1}}}
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true

	current := 0
	sawRoot := false
	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}

		switch tk := tok.(type) {
		case xml.StartElement:
			if current == 0 {
				if sawRoot {
					return nil, fmt.Errorf("parse xml: multiple root elements")
				}
				sawRoot = true
			}
			attrs := make([]xml.Attr, len(tk.Attr))
			copy(attrs, tk.Attr)
			current = t.add(current, Node{Kind: KindElement, Name: tk.Name, Attr: attrs})
		case xml.EndElement:
			if current == 0 || t.Nodes[current].Name != tk.Name {
				return nil, fmt.Errorf("parse xml: unexpected end element %s", qualified(tk.Name))
			}
			current = t.Nodes[current].Parent
		case xml.CharData:
			if current == 0 {
				// whitespace between prolog items carries no content
				continue
			}
			t.add(current, Node{Kind: KindText, Data: string(tk)})
		case xml.ProcInst:
			t.add(current, Node{Kind: KindProcInst, Name: xml.Name{Local: tk.Target}, Data: string(tk.Inst)})
		case xml.Comment:
			t.add(current, Node{Kind: KindComment, Data: string(tk)})
		case xml.Directive:
			t.add(current, Node{Kind: KindDirective, Data: string(tk)})
		}
	}
	if current != 0 {
		return nil, fmt.Errorf("parse xml: unclosed element %s", qualified(t.Nodes[current].Name))
	}
	if !sawRoot {
		return nil, fmt.Errorf("parse xml: no root element")
	}
	return t, nil
}

func (t *Tree) add(parent int, n Node) int {
	n.Parent = parent
	idx := len(t.Nodes)
	t.Nodes = append(t.Nodes, n)
	t.Nodes[parent].Children = append(t.Nodes[parent].Children, idx)
	return idx
}

// Root returns the index of the root element, or -1
func (t *Tree) Root() int {
	for _, c := range t.Nodes[0].Children {
		if t.Nodes[c].Kind == KindElement {
			return c
		}
	}
	return -1
}

// Walk visits idx and its descendants in document order. Returning false
// from fn skips the node's children.
func (t *Tree) Walk(idx int, fn func(idx int) bool) {
	if !fn(idx) {
		return
	}
	for _, c := range t.Nodes[idx].Children {
		t.Walk(c, fn)
	}
}

// Find returns the elements below idx with the given local name, in
// document order
func (t *Tree) Find(idx int, local string) []int {
	var out []int
	t.Walk(idx, func(i int) bool {
		n := &t.Nodes[i]
		if n.Kind == KindElement && n.Name.Local == local && i != idx {
			out = append(out, i)
		}
		return true
	})
	return out
}

// Child returns the first direct child element of idx with the local name
func (t *Tree) Child(idx int, local string) int {
	for _, c := range t.Nodes[idx].Children {
		n := &t.Nodes[c]
		if n.Kind == KindElement && n.Name.Local == local {
			return c
		}
	}
	return -1
}

// AttrValue returns the value of the attribute with the given local name
func (t *Tree) AttrValue(idx int, local string) (string, bool) {
	for _, a := range t.Nodes[idx].Attr {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// TextNodes returns the character-data nodes that carry document text: the
// direct text children of "t" elements (w:t in WordprocessingML, a:t in
// DrawingML), in document order.
func (t *Tree) TextNodes() []int {
	var out []int
	t.Walk(0, func(i int) bool {
		n := &t.Nodes[i]
		if n.Kind == KindText && n.Parent > 0 {
			p := &t.Nodes[n.Parent]
			if p.Kind == KindElement && p.Name.Local == "t" {
				out = append(out, i)
			}
		}
		return true
	})
	return out
}

// Text returns the concatenated text of the text nodes below idx
func (t *Tree) Text(idx int) string {
	var b strings.Builder
	t.Walk(idx, func(i int) bool {
		if t.Nodes[i].Kind == KindText {
			b.WriteString(t.Nodes[i].Data)
		}
		return true
	})
	return b.String()
}

// SetText replaces the payload of a text node
func (t *Tree) SetText(idx int, text string) {
	t.Nodes[idx].Data = text
}

// Serialize writes the tree back to XML
func (t *Tree) Serialize() []byte {
	var buf bytes.Buffer
	for i, c := range t.Nodes[0].Children {
		if i > 0 && t.Nodes[c].Kind != KindText {
			buf.WriteByte('\n')
		}
		t.write(&buf, c)
	}
	return buf.Bytes()
}

func (t *Tree) write(buf *bytes.Buffer, idx int) {
	n := &t.Nodes[idx]
	switch n.Kind {
	case KindText:
		escapeText(buf, n.Data)
	case KindProcInst:
		buf.WriteString("<?")
		buf.WriteString(n.Name.Local)
		if n.Data != "" {
			buf.WriteByte(' ')
			buf.WriteString(n.Data)
		}
		buf.WriteString("?>")
	case KindComment:
		buf.WriteString("<!--")
		buf.WriteString(n.Data)
		buf.WriteString("-->")
	case KindDirective:
		buf.WriteString("<!")
		buf.WriteString(n.Data)
		buf.WriteByte('>')
	case KindElement:
		name := qualified(n.Name)
		buf.WriteByte('<')
		buf.WriteString(name)
		for _, a := range n.Attr {
			buf.WriteByte(' ')
			buf.WriteString(qualified(a.Name))
			buf.WriteString(`="`)
			escapeAttr(buf, a.Value)
			buf.WriteByte('"')
		}
		if len(n.Children) == 0 {
			buf.WriteString("/>")
			return
		}
		buf.WriteByte('>')
		for _, c := range n.Children {
			t.write(buf, c)
		}
		buf.WriteString("</")
		buf.WriteString(name)
		buf.WriteByte('>')
	}
}

func qualified(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	return name.Space + ":" + name.Local
}

func escapeText(buf *bytes.Buffer, s string) {
	for _, r := range s {
		switch r {
		case '&':
			buf.WriteString("&amp;")
		case '<':
			buf.WriteString("&lt;")
		case '>':
			buf.WriteString("&gt;")
		default:
			writeChar(buf, r)
		}
	}
}

func escapeAttr(buf *bytes.Buffer, s string) {
	for _, r := range s {
		switch r {
		case '&':
			buf.WriteString("&amp;")
		case '<':
			buf.WriteString("&lt;")
		case '"':
			buf.WriteString("&quot;")
		case '\t':
			buf.WriteString("&#x9;")
		case '\n':
			buf.WriteString("&#xA;")
		case '\r':
			buf.WriteString("&#xD;")
		default:
			writeChar(buf, r)
		}
	}
}

// writeChar writes r, or U+FFFD when XML 1.0 does not allow r in a document
func writeChar(buf *bytes.Buffer, r rune) {
	if !isXMLChar(r) {
		r = utf8.RuneError
	}
	buf.WriteRune(r)
}

func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		r >= 0x20 && r <= 0xD7FF ||
		r >= 0xE000 && r <= 0xFFFD ||
		r >= 0x10000 && r <= 0x10FFFF
}
