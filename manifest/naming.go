package manifest

import (
	"strings"
	"unicode"
)

// DefaultPackageName derives a package name from a directory or
// dependency name. Characters that cannot appear in an identifier become
// underscores and a leading digit is prefixed with one.
// "my-game" -> "my_game", "2d.tools" -> "_2d_tools"
func DefaultPackageName(s string) string {
	var sb strings.Builder
	for i, r := range s {
		switch {
		case r == '_' || r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if i == 0 && unicode.IsDigit(r) {
				sb.WriteByte('_')
			}
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "main"
	}
	return sb.String()
}

// reservedPackages lists names a project package may not take: the
// implicit builtin package and words the compiler treats as types.
var reservedPackages = map[string]bool{
	"builtin": true,
	"none":    true,
	"self":    true,
	"void":    true,
	"int":     true,
	"float":   true,
	"bool":    true,
	"name":    true,
	"string":  true,
	"class":   true,
	"state":   true,
	"vector":  true,
}

// IsReservedPackage reports whether name is unavailable as a package name.
// The check ignores case, as package files are looked up on
// case-insensitive file systems too.
func IsReservedPackage(name string) bool {
	return reservedPackages[strings.ToLower(name)]
}
