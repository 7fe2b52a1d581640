package render

import (
	"encoding/base64"
	"fmt"
	"html"
	"net/http"
	"strings"
)

// BuildHTML renders the visual tree as a standalone HTML page laid out at
// the given width. Page breaks are emitted as empty divs with the class
// "page-break"; their height is set after layout so that the following
// content starts on a page boundary.
func BuildHTML(doc *Document, width, margin int) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><style>")
	fmt.Fprintf(&b, "html,body{margin:0;padding:0;background:#fff;}body{width:%dpx;box-sizing:border-box;padding:%dpx;", width, margin)
	b.WriteString("font-family:'Noto Sans','Noto Sans CJK SC','PingFang SC','Microsoft YaHei',Arial,sans-serif;font-size:11pt;color:#000;}")
	b.WriteString("p{margin:0 0 8px 0;line-height:1.2;white-space:pre-wrap;word-wrap:break-word;}")
	b.WriteString("table{border-collapse:collapse;width:100%;margin:0 0 8px 0;}td{border:1px solid #808080;padding:6px;vertical-align:top;}")
	b.WriteString("img{display:block;max-width:100%;margin:0 0 8px 0;}.page-break{height:0;}")
	b.WriteString("</style></head><body>")
	writeBlocks(&b, doc.Blocks)
	b.WriteString("</body></html>")
	return b.String()
}

func writeBlocks(b *strings.Builder, blocks []Block) {
	for _, block := range blocks {
		switch v := block.(type) {
		case *Paragraph:
			writeParagraph(b, v)
		case *Table:
			b.WriteString("<table>")
			for _, row := range v.Rows {
				b.WriteString("<tr>")
				for _, cell := range row {
					b.WriteString("<td>")
					writeBlocks(b, cell.Blocks)
					b.WriteString("</td>")
				}
				b.WriteString("</tr>")
			}
			b.WriteString("</table>")
		case *Image:
			mime := http.DetectContentType(v.Data)
			fmt.Fprintf(b, `<img alt="%s" src="data:%s;base64,%s"`,
				html.EscapeString(v.Name), mime, base64.StdEncoding.EncodeToString(v.Data))
			if v.Width > 0 && v.Height > 0 {
				fmt.Fprintf(b, ` style="width:%dpx;height:auto;"`, v.Width)
			}
			b.WriteString(">")
		case *PageBreak:
			b.WriteString(`<div class="page-break"></div>`)
		}
	}
}

func writeParagraph(b *strings.Builder, p *Paragraph) {
	tag := "p"
	if p.Heading > 0 {
		tag = fmt.Sprintf("h%d", p.Heading)
	}
	b.WriteString("<" + tag)
	var style []string
	if p.Heading > 0 {
		style = append(style, "margin:0 0 8px 0")
		if size, ok := headingSizes[p.Heading]; ok {
			style = append(style, fmt.Sprintf("font-size:%gpt", size))
		}
	}
	switch p.Align {
	case AlignCenter:
		style = append(style, "text-align:center")
	case AlignRight:
		style = append(style, "text-align:right")
	case AlignJustify:
		style = append(style, "text-align:justify")
	}
	if len(style) > 0 {
		b.WriteString(` style="` + strings.Join(style, ";") + `"`)
	}
	b.WriteString(">")

	if len(p.Runs) == 0 {
		b.WriteString("<br>")
	}
	for _, run := range p.Runs {
		if run.Break {
			b.WriteString("<br>")
		}
		if run.Text == "" {
			continue
		}
		var rs []string
		if run.Bold {
			rs = append(rs, "font-weight:bold")
		}
		if run.Italic {
			rs = append(rs, "font-style:italic")
		}
		if run.Underline {
			rs = append(rs, "text-decoration:underline")
		}
		if run.Size > 0 {
			rs = append(rs, fmt.Sprintf("font-size:%gpt", run.Size))
		}
		if len(rs) == 0 {
			b.WriteString(html.EscapeString(run.Text))
			continue
		}
		fmt.Fprintf(b, `<span style="%s">%s</span>`, strings.Join(rs, ";"), html.EscapeString(run.Text))
	}
	b.WriteString("</" + tag + ">")
}
