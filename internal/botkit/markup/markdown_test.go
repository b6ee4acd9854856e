package markup

import "testing"

func TestEscapeForMarkdown(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "обычный текст", want: "обычный текст"},
		{in: "a-b_c", want: `a\-b\_c`},
		{in: "1.5% (рост)", want: `1\.5% \(рост\)`},
		{in: "*bold* [link](url)", want: `\*bold\* \[link\]\(url\)`},
		{in: "", want: ""},
	}

	for _, tc := range cases {
		if got := EscapeForMarkdown(tc.in); got != tc.want {
			t.Errorf("EscapeForMarkdown(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
