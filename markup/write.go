package markup

import (
	"bytes"
	"encoding/xml"
	"strings"
)

// Marshal writes the document back to markup text, one element per line
// indented with tabs.
func (d *Document) Marshal() []byte {
	var buf bytes.Buffer
	writeElement(&buf, d.Root, 0)
	return buf.Bytes()
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func writeElement(buf *bytes.Buffer, e *Element, depth int) {
	indent := strings.Repeat("\t", depth)
	buf.WriteString(indent)
	buf.WriteByte('<')
	buf.WriteString(e.Name)
	for _, a := range e.Attributes {
		buf.WriteByte(' ')
		buf.WriteString(a.Name)
		buf.WriteString(`="`)
		buf.WriteString(escape(a.Value))
		buf.WriteByte('"')
	}
	switch {
	case len(e.Children) == 0 && e.Text == "":
		buf.WriteString(" />\n")
		return
	case len(e.Children) == 0:
		buf.WriteByte('>')
		buf.WriteString(escape(e.Text))
	default:
		buf.WriteString(">\n")
		if e.Text != "" {
			buf.WriteString(indent + "\t")
			buf.WriteString(escape(e.Text))
			buf.WriteByte('\n')
		}
		for _, c := range e.Children {
			writeElement(buf, c, depth+1)
		}
		buf.WriteString(indent)
	}
	buf.WriteString("</")
	buf.WriteString(e.Name)
	buf.WriteString(">\n")
}
