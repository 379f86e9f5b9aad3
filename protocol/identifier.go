package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ObjectIdentifier names one markup element of the last reify: the document
// it came from and its zero-based position in a depth-first walk of that
// document. It is only meaningful until the document is reified again.
type ObjectIdentifier struct {
	Document string
	Index    int
}

// UnknownObject is what detached or never-reified elements carry.
var UnknownObject = ObjectIdentifier{Index: -1}

func (id ObjectIdentifier) IsKnown() bool {
	return id.Index >= 0
}

func (id ObjectIdentifier) String() string {
	return id.Document + ":" + strconv.Itoa(id.Index)
}

// ParseObjectIdentifier reverses String. The split is at the last colon, so
// document paths may contain colons themselves.
func ParseObjectIdentifier(s string) (ObjectIdentifier, error) {
	at := strings.LastIndexByte(s, ':')
	if at < 0 {
		return UnknownObject, fmt.Errorf("object identifier %q: missing index", s)
	}
	index, err := strconv.Atoi(s[at+1:])
	if err != nil {
		return UnknownObject, fmt.Errorf("object identifier %q: %w", s, err)
	}
	return ObjectIdentifier{Document: s[:at], Index: index}, nil
}

func WriteObjectIdentifier(w *Writer, id ObjectIdentifier) {
	w.WriteString(id.Document)
	w.WriteInt(id.Index)
}

func ReadObjectIdentifier(r *Reader) ObjectIdentifier {
	return ObjectIdentifier{
		Document: r.ReadString(),
		Index:    r.ReadInt(),
	}
}

type TextPosition struct {
	Line      int
	Character int
}

// SourceReference points back into markup text for error reporting.
type SourceReference struct {
	File     string
	Location *TextPosition
}

func (s SourceReference) String() string {
	if s.Location == nil {
		return s.File
	}
	return fmt.Sprintf("%s(%d,%d)", s.File, s.Location.Line, s.Location.Character)
}

func WriteSourceReference(w *Writer, s SourceReference) {
	w.WriteString(s.File)
	w.WriteBool(s.Location != nil)
	if s.Location != nil {
		w.WriteInt(s.Location.Line)
		w.WriteInt(s.Location.Character)
	}
}

func ReadSourceReference(r *Reader) SourceReference {
	s := SourceReference{File: r.ReadString()}
	if r.ReadBool() {
		s.Location = &TextPosition{
			Line:      r.ReadInt(),
			Character: r.ReadInt(),
		}
	}
	return s
}
