// Package path implements the name/path codec described in spec.md §4.1:
// name validation, path parsing, token iteration, and path joining with
// backslash-escaping of literal separators inside a name.
//
// Names are NFC-normalized before validation, following the defensive
// "never trust raw name bytes" posture hivekit applies when decoding
// compressed/UTF-16 registry names (internal/regtext) — here applied to
// guard against visually-identical paths built from differently-composed
// Unicode sequences.
package path

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/joshuapare/datatree/errs"
)

const (
	// MaxNameLength is the maximum number of unescaped characters a single
	// path token (node or value name) may contain.
	MaxNameLength = 255

	// Separator splits path segments.
	Separator = '/'
	// Escape precedes an escaped character inside a name.
	Escape = '\\'
	// Root is the path of a tree's root node.
	Root = "/"
)

// Normalize applies NFC normalization, matching comparisons and storage
// against Unicode-equivalent but differently-composed input.
func Normalize(s string) string {
	return norm.NFC.String(s)
}

// IsValidName reports whether s is usable as a node or value name: 1-255
// unescaped characters, no leading/trailing whitespace, and no character in
// U+0000..U+001F, U+007F, or U+0080..U+009F.
func IsValidName(s string) bool {
	s = Normalize(s)
	if utf8.RuneCountInString(s) == 0 || utf8.RuneCountInString(s) > MaxNameLength {
		return false
	}
	if strings.TrimSpace(s) != s {
		return false
	}
	for _, r := range s {
		if isControl(r) {
			return false
		}
	}
	return true
}

func isControl(r rune) bool {
	switch {
	case r <= 0x1F:
		return true
	case r == 0x7F:
		return true
	case r >= 0x80 && r <= 0x9F:
		return true
	}
	return false
}

// Token is one segment yielded while iterating a path.
type Token struct {
	Name   string
	IsLast bool
}

// Parse splits p into tokens, honoring backslash escapes, and reports
// whether p was absolute (began with Separator). It rejects empty tokens, a
// dangling trailing backslash, tokens longer than MaxNameLength unescaped
// characters, and any character failing IsValidName other than the
// separator itself.
func Parse(p string) (tokens []Token, absolute bool, err error) {
	p = Normalize(p)
	if p == "" {
		return nil, false, errs.New(errs.KindArgument, "empty path")
	}

	absolute = p[0] == Separator
	rest := p
	if absolute {
		rest = p[1:]
	}
	if rest == "" {
		// Root path "/": zero tokens.
		return nil, absolute, nil
	}

	var cur strings.Builder
	escaping := false
	flush := func() error {
		tok := strings.TrimSpace(cur.String())
		cur.Reset()
		if tok == "" {
			return errs.New(errs.KindArgument, "empty path token in "+p)
		}
		if utf8.RuneCountInString(tok) > MaxNameLength {
			return errs.New(errs.KindArgument, "path token too long in "+p)
		}
		for _, r := range tok {
			if isControl(r) {
				return errs.New(errs.KindArgument, "path token has invalid character in "+p)
			}
		}
		tokens = append(tokens, Token{Name: tok})
		return nil
	}

	for _, r := range rest {
		switch {
		case escaping:
			cur.WriteRune(r)
			escaping = false
		case r == Escape:
			escaping = true
		case r == Separator:
			if err := flush(); err != nil {
				return nil, absolute, err
			}
		default:
			cur.WriteRune(r)
		}
	}
	if escaping {
		return nil, absolute, errs.New(errs.KindArgument, "dangling escape in "+p)
	}
	if err := flush(); err != nil {
		return nil, absolute, err
	}
	if len(tokens) > 0 {
		tokens[len(tokens)-1].IsLast = true
	}
	return tokens, absolute, nil
}

// Validate reports an error if p fails to parse per Parse's rules.
func Validate(p string) error {
	_, _, err := Parse(p)
	return err
}

// EscapeName backslash-escapes every Separator and every literal Escape
// character in name, so it can be embedded as a single path token.
func EscapeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == Separator || r == Escape {
			b.WriteRune(Escape)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Join appends name (escaped) to base. If base is Root, the result is
// "/<name>"; otherwise "<base>/<escaped-name>" (spec.md §4.1).
func Join(base, name string) string {
	escaped := EscapeName(name)
	if base == Root {
		return Root + escaped
	}
	return base + string(Separator) + escaped
}

// LastSegment returns the unescaped final token of p, or "" for the root
// path.
func LastSegment(p string) (string, error) {
	tokens, _, err := Parse(p)
	if err != nil {
		return "", err
	}
	if len(tokens) == 0 {
		return "", nil
	}
	return tokens[len(tokens)-1].Name, nil
}
