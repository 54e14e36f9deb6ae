package htmlutil

import (
	"strings"
	"testing"
)

func TestFlatten(t *testing.T) {
	got := Flatten("  Fastest\n\troute   27 min \n")
	if got != "Fastest route 27 min" {
		t.Errorf("Flatten = %q, want %q", got, "Fastest route 27 min")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"abcdef", 3, "abc"},
		{"abc", 10, "abc"},
		{"héllo", 2, "hé"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
	if got := Truncate(strings.Repeat("x", 2000), 800); len(got) != 800 {
		t.Errorf("len(Truncate) = %d, want 800", len(got))
	}
}

func TestToText(t *testing.T) {
	got := ToText("<div><b>27</b> min &amp; more</div>")
	if !strings.Contains(got, "27 min & more") {
		t.Errorf("ToText = %q, want it to contain %q", got, "27 min & more")
	}
}
