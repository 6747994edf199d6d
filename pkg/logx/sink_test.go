package logx

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateOnRuneBoundary(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"plain", 0, "plain"},
		{"plain", 10, "plain"},
		{"é", 1, ""},
		{"abcdé", 5, "abcd"},
		{strings.Repeat("é", 10), 12, "éééé" + "..."},
		{strings.Repeat("a", 20), 12, "aaaaaaaaa..."},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.max)
		if got != tt.want || !utf8.ValidString(got) {
			t.Fatalf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
