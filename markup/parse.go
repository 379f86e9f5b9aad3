package markup

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/lorents/fuse-studio/protocol"
)

// ParseError locates a markup syntax error.
type ParseError struct {
	Source protocol.SourceReference
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

// Parse builds the element tree of one document. Prefixes are kept
// verbatim in element and attribute names (ux:Name stays "ux:Name"),
// since UX files rarely declare the ux namespace.
func Parse(path string, data []byte) (*Document, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = true

	var stack []*Element
	var root *Element
	rootClosed := false

	where := func() protocol.SourceReference {
		line, col := decoder.InputPos()
		return protocol.SourceReference{File: path, Location: &protocol.TextPosition{Line: line, Character: col}}
	}
	fail := func(err error) (*Document, error) {
		return nil, &ParseError{Source: where(), Err: err}
	}

	for {
		pos := where()
		tok, err := decoder.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			if se, ok := err.(*xml.SyntaxError); ok {
				return nil, &ParseError{
					Source: protocol.SourceReference{File: path, Location: &protocol.TextPosition{Line: se.Line}},
					Err:    errors.New(se.Msg),
				}
			}
			return fail(err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if rootClosed {
				return fail(fmt.Errorf("unexpected element %s after document end", qualified(t.Name)))
			}
			elem := &Element{
				Name:   qualified(t.Name),
				Source: pos,
				ID:     protocol.UnknownObject,
			}
			for _, a := range t.Attr {
				elem.Attributes = append(elem.Attributes, Attribute{Name: qualified(a.Name), Value: a.Value})
			}
			if len(stack) > 0 {
				stack[len(stack)-1].AddChild(elem)
			} else {
				root = elem
			}
			stack = append(stack, elem)

		case xml.EndElement:
			if len(stack) == 0 {
				return fail(fmt.Errorf("unexpected end element %s", qualified(t.Name)))
			}
			top := stack[len(stack)-1]
			if top.Name != qualified(t.Name) {
				return fail(fmt.Errorf("element <%s> closed by </%s>", top.Name, qualified(t.Name)))
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				rootClosed = true
			}

		case xml.CharData:
			if len(stack) == 0 {
				if !isIgnorable(string(t)) {
					return fail(fmt.Errorf("unexpected character data outside root element"))
				}
				continue
			}
			stack[len(stack)-1].Text += string(t)
		}
	}

	if len(stack) > 0 {
		return fail(fmt.Errorf("element <%s> is not closed", stack[len(stack)-1].Name))
	}
	if root == nil {
		return fail(io.ErrUnexpectedEOF)
	}
	root.Walk(func(e *Element) bool {
		e.Text = strings.TrimSpace(e.Text)
		return true
	})
	return &Document{Path: path, Root: root}, nil
}

func isIgnorable(data string) bool {
	for _, r := range data {
		if r == '\uFEFF' {
			continue
		}
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
