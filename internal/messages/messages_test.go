package messages

import (
	"errors"
	"strings"
	"testing"
)

func TestParseAndString(t *testing.T) {
	l := Parse("  hello \n--------\n\n--------\nworld\n")
	if got := l.Items(); len(got) != 2 || got[0] != "hello" || got[1] != "world" {
		t.Fatalf("Items = %q", got)
	}
	again := Parse(l.String())
	if strings.Join(again.Items(), "|") != "hello|world" {
		t.Errorf("String did not round trip: %q", l.String())
	}
	if Parse("").Len() != 0 {
		t.Error("empty text should parse to no messages")
	}
}

func TestImportSkipsDuplicates(t *testing.T) {
	l := Parse("早上好")
	res := l.Import("早上好\n--------\n晚上好\n--------\n晚上好\n--------\n   \n--------\n" + strings.Repeat("长", MaxLength+1))

	if res.Imported != 1 || res.Skipped != 2 || res.Invalid != 1 {
		t.Errorf("result = %+v", res)
	}
	if got := res.String(); got != "imported 1, skipped 2 duplicates, rejected 1 too long" {
		t.Errorf("String = %q", got)
	}
	if strings.Join(l.Items(), "|") != "早上好|晚上好" {
		t.Errorf("Items = %q", l.Items())
	}
	if s := (ImportResult{Imported: 2}).String(); s != "imported 2, skipped 0 duplicates" {
		t.Errorf("String = %q", s)
	}
}

func TestEditValidationOrder(t *testing.T) {
	tests := []struct {
		name string
		i    int
		text string
		want error
	}{
		{"empty wins over everything", 0, "   ", ErrEmpty},
		{"too long", 0, strings.Repeat("a", MaxLength+1), ErrTooLong},
		{"exactly max is fine", 0, strings.Repeat("好", MaxLength), nil},
		{"duplicate of another", 0, "b", ErrDuplicate},
		{"unchanged", 1, " b ", ErrUnchanged},
		{"out of range", 5, "z", ErrOutOfRange},
		{"changed", 1, "c", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := Parse("a--------b")
			err := l.Edit(tt.i, tt.text)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Edit = %v, want %v", err, tt.want)
			}
			if tt.want == nil && l.Items()[tt.i] != strings.TrimSpace(tt.text) {
				t.Errorf("item not replaced: %q", l.Items()[tt.i])
			}
		})
	}
}

func TestMoveRemoveClear(t *testing.T) {
	l := Parse("a--------b--------c")

	if err := l.MoveUp(0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("MoveUp(0) = %v", err)
	}
	if err := l.MoveDown(2); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("MoveDown(last) = %v", err)
	}
	if err := l.MoveUp(2); err != nil {
		t.Fatal(err)
	}
	if err := l.MoveDown(0); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(l.Items(), ""); got != "cab" {
		t.Errorf("order = %q, want cab", got)
	}

	if err := l.Remove(1); err != nil {
		t.Fatal(err)
	}
	if err := l.Remove(9); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Remove(9) = %v", err)
	}
	if got := strings.Join(l.Items(), ""); got != "cb" {
		t.Errorf("after remove = %q", got)
	}

	l.Clear()
	if l.Len() != 0 || l.String() != "" {
		t.Error("Clear left messages behind")
	}
}

func TestAdd(t *testing.T) {
	l := Parse("")
	if err := l.Add("hi"); err != nil {
		t.Fatal(err)
	}
	if err := l.Add(" hi "); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Add duplicate = %v", err)
	}
	if !l.Contains("hi") {
		t.Error("Contains(hi) = false")
	}
}

func TestPreview(t *testing.T) {
	tests := map[string]string{
		"":            "",
		"hello":       "hello",
		"hello world": "hello...",
		"你好世界你好世界": "你好世界你...",
	}
	for in, want := range tests {
		if got := Preview(in); got != want {
			t.Errorf("Preview(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUnescape(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`plain`, "plain"},
		{`line1\nline2`, "line1\nline2"},
		{`a\tb\rc`, "a\tb\rc"},
		{`it\'s \"quoted\"`, `it's "quoted"`},
		{`back\\slash`, `back\slash`},
		{`keep \x as is`, `keep \x as is`},
		{`trailing\`, `trailing\`},
	}
	for _, tt := range tests {
		if got := Unescape(tt.in); got != tt.want {
			t.Errorf("Unescape(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
