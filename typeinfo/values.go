package typeinfo

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lorents/fuse-studio/bytecode"
	"github.com/lorents/fuse-studio/markup"
)

var (
	ErrUnknownType     = errors.New("typeinfo: unknown type")
	ErrUnknownProperty = errors.New("typeinfo: unknown property")
	ErrInvalidValue    = errors.New("typeinfo: invalid value")
)

var (
	sizePattern  = regexp.MustCompile(`^-?(\d+(\.\d*)?|\.\d+)(px|pt|%)?$`)
	colorPattern = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{4}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)
)

var namedColors = map[string]bool{
	"black": true, "white": true, "red": true, "green": true, "blue": true,
	"yellow": true, "cyan": true, "magenta": true, "gray": true, "grey": true,
	"transparent": true, "purple": true, "orange": true, "pink": true,
}

// ValueParser turns attribute text into literal expressions, checked
// against the declared kind of the property.
type ValueParser struct {
	Types *Table
}

func NewValueParser(types *Table) *ValueParser {
	return &ValueParser{Types: types}
}

func invalid(kind Kind, raw string) error {
	return fmt.Errorf("%w: %q is not a %s", ErrInvalidValue, raw, kind)
}

// Parse converts raw, the markup value of property on typeName. A nil raw
// is an attribute removal and yields null.
func (p *ValueParser) Parse(typeName, property string, raw *string) (bytecode.Expression, error) {
	if _, ok := p.Types.Lookup(typeName); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	prop, ok := p.Types.Property(typeName, property)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, typeName, property)
	}
	if raw == nil {
		return bytecode.NullLiteral{}, nil
	}
	return ParseKind(prop, *raw)
}

func ParseKind(prop Property, raw string) (bytecode.Expression, error) {
	v := strings.TrimSpace(raw)
	switch prop.Kind {
	case String:
		return bytecode.StringLiteral{Value: markup.Unescape(raw)}, nil
	case Float:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, invalid(prop.Kind, raw)
		}
		return bytecode.NumberLiteral{Value: f}, nil
	case Int:
		i, err := strconv.Atoi(v)
		if err != nil {
			return nil, invalid(prop.Kind, raw)
		}
		return bytecode.NumberLiteral{Value: float64(i)}, nil
	case Bool:
		b, err := strconv.ParseBool(strings.ToLower(v))
		if err != nil {
			return nil, invalid(prop.Kind, raw)
		}
		return bytecode.BooleanLiteral{Value: b}, nil
	case Size:
		if !sizePattern.MatchString(v) {
			return nil, invalid(prop.Kind, raw)
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return bytecode.NumberLiteral{Value: f}, nil
		}
		return bytecode.StringLiteral{Value: v}, nil
	case Color:
		if !colorPattern.MatchString(v) && !namedColors[strings.ToLower(v)] {
			return nil, invalid(prop.Kind, raw)
		}
		return bytecode.StringLiteral{Value: v}, nil
	case Float2, Float4:
		n := 2
		if prop.Kind == Float4 {
			n = 4
		}
		parts := strings.Split(v, ",")
		if len(parts) != 1 && len(parts) != 2 && len(parts) != n {
			return nil, invalid(prop.Kind, raw)
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
			if !sizePattern.MatchString(parts[i]) {
				return nil, invalid(prop.Kind, raw)
			}
		}
		return bytecode.StringLiteral{Value: strings.Join(parts, ",")}, nil
	case Enum:
		for _, allowed := range prop.Values {
			if strings.EqualFold(allowed, v) {
				return bytecode.StringLiteral{Value: allowed}, nil
			}
		}
		return nil, invalid(prop.Kind, raw)
	case File:
		if path, ok := markup.ParseImportExpression(v); ok {
			return bytecode.Import(path), nil
		}
		if v == "" {
			return nil, invalid(prop.Kind, raw)
		}
		return bytecode.Import(v), nil
	default:
		return nil, fmt.Errorf("%w: %s values cannot be written as text", ErrInvalidValue, prop.Kind)
	}
}
