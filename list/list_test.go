package list

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestJoin(t *testing.T) {
	tests := []struct {
		name  string
		elems []string
		want  string
	}{
		{"plain", []string{"echo", "H"}, "echo H"},
		{"empty element", []string{"a", "", "b"}, "a {} b"},
		{"spaces", []string{"a", "b c"}, "a {b c}"},
		{"nested", []string{"x", "{y z}"}, "x {{y z}}"},
		{"unbalanced", []string{"a{"}, `a\{`},
		{"dollar", []string{"$x"}, "{$x}"},
		{"hash first", []string{"#c", "d#"}, "{#c} d#"},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Join(tt.elems); got != tt.want {
				t.Errorf("Join(%q) = %q, want %q", tt.elems, got, tt.want)
			}
		})
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"words", "list echo H", []string{"list", "echo", "H"}},
		{"braces", "a {b c} d", []string{"a", "b c", "d"}},
		{"nested braces", "{a {b}} c", []string{"a {b}", "c"}},
		{"quotes", `"a b" c`, []string{"a b", "c"}},
		{"escapes", `a\ b c\{`, []string{"a b", "c{"}},
		{"whitespace", "  a\n\tb  ", []string{"a", "b"}},
		{"empty", "", nil},
		{"empty braces", "{} x", []string{"", "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Split(tt.in)
			if err != nil {
				t.Fatalf("Split(%q): %v", tt.in, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Split(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplitErrors(t *testing.T) {
	tests := []struct {
		in, wantErr string
	}{
		{"{a b", "unmatched open brace"},
		{`"a b`, "unmatched open quote"},
		{"{a}b", "followed by"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := Split(tt.in)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Split(%q) error = %v, want %q", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestQuoteReadsBack(t *testing.T) {
	for _, elem := range []string{"", "a", "a b", "{", "}", "a\\", "x{y", "[cmd]", "tab\there", "\"q\"", "#x"} {
		got, err := Split(Quote(elem))
		if err != nil {
			t.Fatalf("Split(Quote(%q)): %v", elem, err)
		}
		if len(got) != 1 || got[0] != elem {
			t.Errorf("Quote(%q) = %q reads back as %q", elem, Quote(elem), got)
		}
	}
}

func TestParseWords(t *testing.T) {
	vars := map[string]string{"x": "1", "name": "a b"}
	subst := func(name string) (string, error) {
		v, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("can't read %q: no such variable", name)
		}
		return v, nil
	}

	tests := []struct {
		in   string
		want []string
	}{
		{"set y $x", []string{"set", "y", "1"}},
		{"list ${name} {$x}", []string{"list", "a b", "$x"}},
		{`list "v=$x" \$x`, []string{"list", "v=1", "$x"}},
		{"list $ a$", []string{"list", "$", "a$"}},
		{"list pre${x}post", []string{"list", "pre1post"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWords(tt.in, subst)
			if err != nil {
				t.Fatalf("ParseWords(%q): %v", tt.in, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseWords(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	if _, err := ParseWords("list $missing", subst); err == nil {
		t.Error("expected error for unknown variable")
	}
	if _, err := ParseWords("list ${x", subst); err == nil {
		t.Error("expected error for unterminated variable name")
	}
}
