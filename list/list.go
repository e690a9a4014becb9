// Package list implements the script list representation: whitespace
// separated words, with braces or double quotes grouping words that contain
// whitespace or special characters.
package list

import (
	"fmt"
	"strings"
)

// Join formats elems as a single list string that Split turns back into elems.
func Join(elems []string) string {
	var b strings.Builder
	for i, e := range elems {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(Quote(e))
	}
	return b.String()
}

// Quote returns elem in a form that reads back as exactly one list element.
func Quote(elem string) string {
	if elem == "" {
		return "{}"
	}
	if !needsQuoting(elem) {
		return elem
	}
	if canBrace(elem) {
		return "{" + elem + "}"
	}
	return escape(elem)
}

func needsQuoting(s string) bool {
	if s[0] == '#' {
		return true
	}
	return strings.ContainsAny(s, " \t\n\r\v\f{}[]$;\"\\")
}

// canBrace reports whether s can be wrapped in braces verbatim: braces must
// balance and s must not end in a backslash.
func canBrace(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i == len(s)-1 {
				return false
			}
			i++
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

func escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\n':
			b.WriteString(`\n`)
			continue
		case '\t':
			b.WriteString(`\t`)
			continue
		case ' ', '{', '}', '[', ']', '$', ';', '"', '\\':
			b.WriteByte('\\')
		}
		if i == 0 && c == '#' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

// Split parses s into its list elements.
func Split(s string) ([]string, error) {
	return parse(s, nil)
}

// SubstFunc resolves a variable reference during ParseWords.
type SubstFunc func(name string) (string, error)

// ParseWords splits a command into words like Split, replacing $name and
// ${name} references outside braces with the value returned by subst.
// A backslash-escaped dollar sign is kept literally.
func ParseWords(s string, subst SubstFunc) ([]string, error) {
	return parse(s, subst)
}

func parse(s string, subst SubstFunc) ([]string, error) {
	var items []string
	pos := 0
	for {
		for pos < len(s) && isSpace(s[pos]) {
			pos++
		}
		if pos >= len(s) {
			return items, nil
		}

		var elem string
		switch s[pos] {
		case '{':
			depth := 1
			start := pos + 1
			pos++
			for pos < len(s) && depth > 0 {
				switch s[pos] {
				case '\\':
					pos++
				case '{':
					depth++
				case '}':
					depth--
				}
				pos++
			}
			if depth != 0 {
				return nil, fmt.Errorf("unmatched open brace in list")
			}
			elem = s[start : pos-1]
			if pos < len(s) && !isSpace(s[pos]) {
				return nil, fmt.Errorf("list element in braces followed by %q instead of space", s[pos])
			}
		case '"':
			pos++
			var b strings.Builder
			for pos < len(s) && s[pos] != '"' {
				next, err := word(s, pos, &b, subst)
				if err != nil {
					return nil, err
				}
				pos = next
			}
			if pos >= len(s) {
				return nil, fmt.Errorf("unmatched open quote in list")
			}
			pos++
			elem = b.String()
			if pos < len(s) && !isSpace(s[pos]) {
				return nil, fmt.Errorf("list element in quotes followed by %q instead of space", s[pos])
			}
		default:
			var b strings.Builder
			for pos < len(s) && !isSpace(s[pos]) {
				next, err := word(s, pos, &b, subst)
				if err != nil {
					return nil, err
				}
				pos = next
			}
			elem = b.String()
		}
		items = append(items, elem)
	}
}

// word consumes one unit of a bare or quoted word starting at pos and
// returns the position after it.
func word(s string, pos int, b *strings.Builder, subst SubstFunc) (int, error) {
	c := s[pos]
	if c == '\\' && pos+1 < len(s) {
		b.WriteByte(unescape(s[pos+1]))
		return pos + 2, nil
	}
	if c != '$' || subst == nil {
		b.WriteByte(c)
		return pos + 1, nil
	}

	start := pos + 1
	var name string
	end := start
	if start < len(s) && s[start] == '{' {
		rb := strings.IndexByte(s[start:], '}')
		if rb < 0 {
			return 0, fmt.Errorf("missing close-brace for variable name")
		}
		name = s[start+1 : start+rb]
		end = start + rb + 1
	} else {
		for end < len(s) && isNameChar(s[end]) {
			end++
		}
		name = s[start:end]
	}
	if name == "" {
		b.WriteByte('$')
		return pos + 1, nil
	}
	v, err := subst(name)
	if err != nil {
		return 0, err
	}
	b.WriteString(v)
	return end, nil
}

func isNameChar(c byte) bool {
	return c == '_' || c == ':' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	}
	return c
}
