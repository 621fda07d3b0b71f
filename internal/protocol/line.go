package protocol

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/crazyscot/disorder/internal/errors"
)

// NormalizeLine applies NFC normalization to an incoming line before
// parsing (spec.md §4.6 "Incoming lines are normalized to NFC").
func NormalizeLine(line string) string {
	return norm.NFC.String(line)
}

// SplitArgs tokenizes s with the shell-like grammar spec.md §4.6 and §9
// describe: unquoted tokens stop at whitespace, double-quoted tokens allow
// `\"` and `\\` escapes, and (when allowComments is true) `#` begins a
// comment outside quotes. The same splitter backs both wire commands and
// config/passwd-style files (spec.md §9 "Line splitting").
func SplitArgs(s string, allowComments bool) ([]string, error) {
	var args []string
	var cur strings.Builder
	inQuotes := false
	haveToken := false
	runes := []rune(s)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case inQuotes:
			switch r {
			case '\\':
				if i+1 >= len(runes) {
					return nil, errors.NewProtocolError("split.quote", fmt.Errorf("trailing backslash inside quotes"))
				}
				i++
				next := runes[i]
				if next != '"' && next != '\\' {
					return nil, errors.NewProtocolError("split.quote", fmt.Errorf("invalid escape \\%c", next))
				}
				cur.WriteRune(next)
			case '"':
				inQuotes = false
			default:
				cur.WriteRune(r)
			}
		case r == '"':
			inQuotes = true
			haveToken = true
		case allowComments && r == '#':
			i = len(runes)
		case unicode.IsSpace(r):
			if haveToken {
				args = append(args, cur.String())
				cur.Reset()
				haveToken = false
			}
		default:
			cur.WriteRune(r)
			haveToken = true
		}
	}
	if inQuotes {
		return nil, errors.NewProtocolError("split.quote", fmt.Errorf("unterminated quoted string"))
	}
	if haveToken {
		args = append(args, cur.String())
	}
	return args, nil
}

// EscapeBodyLine doubles a leading '.' on a body line so it is not
// mistaken for the terminator (spec.md §4.6 "Body-carrying commands").
func EscapeBodyLine(line string) string {
	if strings.HasPrefix(line, ".") {
		return "." + line
	}
	return line
}

// UnescapeBodyLine reverses EscapeBodyLine on a received body line.
func UnescapeBodyLine(line string) string {
	if strings.HasPrefix(line, "..") {
		return line[1:]
	}
	return line
}

// IsBodyTerminator reports whether line is the lone "." that ends a body.
func IsBodyTerminator(line string) bool { return line == "." }
