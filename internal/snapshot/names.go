package snapshot

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Names that XML cannot carry exactly (invalid UTF-8, control characters)
// are written twice: Name holds a readable approximation and QuotedName the
// Go-quoted original, which wins on load.

func xmlSafe(name string) bool {
	if !utf8.ValidString(name) {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 0x20 && r <= 0xD7FF:
		case r >= 0xE000 && r <= 0xFFFD:
		case r >= 0x10000 && r <= utf8.MaxRune:
		default:
			return false
		}
	}
	return true
}

func encodeName(name string) (plain, quoted string) {
	if xmlSafe(name) {
		return name, ""
	}
	readable := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0xFFFE || r == 0xFFFF {
			return utf8.RuneError
		}
		return r
	}, strings.ToValidUTF8(name, string(utf8.RuneError)))
	return readable, strconv.QuoteToASCII(name)
}

func decodeName(plain, quoted string) (string, error) {
	name := plain
	if quoted != "" {
		var err error
		if name, err = strconv.Unquote(quoted); err != nil {
			return "", fmt.Errorf("%w: bad quoted name %s", ErrInvalidSnapshot, quoted)
		}
	}
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: invalid name %q", ErrInvalidSnapshot, name)
	}
	return name, nil
}
