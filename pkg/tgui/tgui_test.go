package tgui

import "testing"

func TestEscapingHelpers(t *testing.T) {
	if got := B("a<b"); got != "<b>a&lt;b</b>" {
		t.Fatalf("B: %q", got)
	}
	if got := Link(`x"y`, `https://e.x/?a=1&b="2"`); got != `<a href="https://e.x/?a=1&amp;b=&#34;2&#34;">x&#34;y</a>` {
		t.Fatalf("Link: %q", got)
	}
	if got := Lines(B("a"), "", "  ", Esc("c")); got != "<b>a</b>\nc" {
		t.Fatalf("Lines: %q", got)
	}
	if got := Line("Срок", B("01.01.2025")); got != "Срок: <b>01.01.2025</b>" {
		t.Fatalf("Line: %q", got)
	}
}

func TestTruncRunes(t *testing.T) {
	cases := map[string]struct {
		in   string
		n    int
		want string
	}{
		"short":    {"abc", 5, "abc"},
		"exact":    {"abcde", 5, "abcde"},
		"cut":      {"abcdef", 4, "abc…"},
		"cyrillic": {"привет", 3, "пр…"},
		"zero":     {"abc", 0, ""},
	}
	for name, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("%s: got %q want %q", name, got, tc.want)
		}
	}
}
