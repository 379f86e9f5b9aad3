package markup

import (
	"path/filepath"
	"strings"
)

// ContainsBindingExpression reports whether s has an unescaped '{' followed
// later by an unescaped '}'. A backslash escapes the character after it.
func ContainsBindingExpression(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '{':
			for j := i + 1; j < len(s); j++ {
				switch s[j] {
				case '\\':
					j++
				case '}':
					return true
				}
			}
			return false
		}
	}
	return false
}

// Unescape drops the backslashes of \{ and \} escapes.
func Unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && (s[i+1] == '{' || s[i+1] == '}' || s[i+1] == '\\') {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// ParseImportExpression recognizes import('file'), import("file") and
// import(file) attribute values and returns the quoted path.
func ParseImportExpression(value string) (string, bool) {
	v := strings.TrimSpace(value)
	rest, ok := strings.CutPrefix(v, "import(")
	if !ok || !strings.HasSuffix(rest, ")") {
		return "", false
	}
	arg := strings.TrimSpace(rest[:len(rest)-1])
	if len(arg) >= 2 && (arg[0] == '\'' || arg[0] == '"') && arg[len(arg)-1] == arg[0] {
		arg = arg[1 : len(arg)-1]
	}
	if arg == "" {
		return "", false
	}
	return arg, true
}

// ResolvePath makes a markup-relative path absolute against dir.
func ResolvePath(dir, p string) string {
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(dir, p)
}
