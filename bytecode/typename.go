package bytecode

import (
	"fmt"
	"strings"
)

// TypeName is a possibly nested, possibly generic type name such as
// Fuse.Controls.Panel or Outer<int>.Inner. Equality is by FullName.
type TypeName struct {
	ContainingType   *TypeName
	Surname          string
	GenericArguments []TypeName
}

func SimpleTypeName(fullName string) TypeName {
	return MustParseTypeName(fullName)
}

func (t TypeName) Name() string {
	if len(t.GenericArguments) == 0 {
		return t.Surname
	}
	args := make([]string, len(t.GenericArguments))
	for i, a := range t.GenericArguments {
		args[i] = a.FullName()
	}
	return t.Surname + "<" + strings.Join(args, ",") + ">"
}

func (t TypeName) FullName() string {
	if t.ContainingType == nil {
		return t.Name()
	}
	return t.ContainingType.FullName() + "." + t.Name()
}

func (t TypeName) String() string {
	return t.FullName()
}

func (t TypeName) Equal(o TypeName) bool {
	return t.FullName() == o.FullName()
}

func (t TypeName) IsParameterizedGenericType() bool {
	return len(t.GenericArguments) != 0 || (t.ContainingType != nil && t.ContainingType.IsParameterizedGenericType())
}

// WithGenericSuffix replaces generic arguments by their arity, the form
// type tables are keyed by (List`1).
func (t TypeName) WithGenericSuffix() TypeName {
	res := TypeName{Surname: t.Surname}
	if n := len(t.GenericArguments); n != 0 {
		res.Surname += fmt.Sprintf("`%d", n)
	}
	if t.ContainingType != nil {
		c := t.ContainingType.WithGenericSuffix()
		res.ContainingType = &c
	}
	return res
}

func MustParseTypeName(s string) TypeName {
	t, err := ParseTypeName(s)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseTypeName parses dotted, generic type names. Backtick arity suffixes
// (Change`1<float>) are dropped from the surname.
func ParseTypeName(s string) (TypeName, error) {
	p := typeNameParser{tokens: tokenizeTypeName(s), src: s}
	if len(p.tokens) == 0 {
		return TypeName{}, fmt.Errorf("type name %q: empty", s)
	}
	t, err := p.parseTypeName(nil)
	if err != nil {
		return TypeName{}, err
	}
	if p.idx != len(p.tokens) {
		return TypeName{}, fmt.Errorf("type name %q: unexpected %q", s, p.tokens[p.idx])
	}
	return t, nil
}

func isSpecialChar(c byte) bool {
	return c == '<' || c == '>' || c == ',' || c == '.'
}

func tokenizeTypeName(s string) []string {
	var tokens []string
	start := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case isSpecialChar(c):
			if start >= 0 {
				tokens = append(tokens, s[start:i])
				start = -1
			}
			tokens = append(tokens, string(c))
		case c == ' ':
			if start >= 0 {
				tokens = append(tokens, s[start:i])
				start = -1
			}
		default:
			if start < 0 {
				start = i
			}
		}
	}
	if start >= 0 {
		tokens = append(tokens, s[start:])
	}
	return tokens
}

type typeNameParser struct {
	src    string
	tokens []string
	idx    int
}

func (p *typeNameParser) cur() string {
	if p.idx >= len(p.tokens) {
		return ""
	}
	return p.tokens[p.idx]
}

func (p *typeNameParser) parseTypeName(containing *TypeName) (TypeName, error) {
	t, err := p.parseSingle(containing)
	if err != nil {
		return t, err
	}
	if p.cur() == "." {
		p.idx++
		if p.idx >= len(p.tokens) || isSpecialChar(p.cur()[0]) {
			return t, fmt.Errorf("type name %q: dangling dot", p.src)
		}
	}
	if p.idx < len(p.tokens) && !isSpecialChar(p.cur()[0]) {
		return p.parseTypeName(&t)
	}
	return t, nil
}

func (p *typeNameParser) parseSingle(containing *TypeName) (TypeName, error) {
	name := p.cur()
	if name == "" || isSpecialChar(name[0]) {
		return TypeName{}, fmt.Errorf("type name %q: expected identifier at token %d", p.src, p.idx)
	}
	p.idx++
	if at := strings.LastIndexByte(name, '`'); at >= 0 {
		name = name[:at]
	}
	args, err := p.parseGenericArguments()
	if err != nil {
		return TypeName{}, err
	}
	return TypeName{ContainingType: containing, Surname: name, GenericArguments: args}, nil
}

func (p *typeNameParser) parseGenericArguments() ([]TypeName, error) {
	if p.cur() != "<" {
		return nil, nil
	}
	p.idx++
	var args []TypeName
	for p.cur() != ">" {
		if p.idx >= len(p.tokens) {
			return nil, fmt.Errorf("type name %q: unterminated generic arguments", p.src)
		}
		arg, err := p.parseTypeName(nil)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.cur() == "," {
			p.idx++
		}
	}
	p.idx++
	return args, nil
}
