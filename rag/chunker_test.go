package rag

import (
	"strings"
	"testing"
)

func TestSplitText(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		maxLen     int
		wantChunks int
	}{
		{"empty", "", 50, 0},
		{"whitespace only", "  \n\t  ", 50, 0},
		{"single short chunk", "hello world", 50, 1},
		{"exact boundary", strings.Repeat("a", 100), 50, 2},
		{"120 chars at size 50", strings.Repeat("x", 120), 50, 3},
		{"one over boundary", strings.Repeat("a", 51), 50, 2},
		{"zero size uses default", strings.Repeat("a", 1500), 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := SplitText(tt.text, tt.maxLen)
			if len(chunks) != tt.wantChunks {
				t.Fatalf("got %d chunks, want %d", len(chunks), tt.wantChunks)
			}
			if strings.Join(chunks, "") != tt.text && tt.wantChunks > 0 {
				t.Error("concatenated chunks must reproduce the input")
			}
		})
	}
}

func TestSplitText_BoundsAndOrder(t *testing.T) {
	text := strings.Repeat("abcdefghij", 37) // 370 chars
	chunks := SplitText(text, 100)

	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4", len(chunks))
	}
	for i, c := range chunks[:len(chunks)-1] {
		if len([]rune(c)) != 100 {
			t.Errorf("chunk %d length = %d, want 100", i, len([]rune(c)))
		}
	}
	if got := len([]rune(chunks[3])); got != 70 {
		t.Errorf("final chunk length = %d, want 70", got)
	}
}

func TestSplitText_RuneSafe(t *testing.T) {
	// Multi-byte runes must never be cut mid-character.
	text := strings.Repeat("héllo wörld ", 10)
	chunks := SplitText(text, 7)

	if strings.Join(chunks, "") != text {
		t.Fatal("chunks must reassemble to the original text")
	}
	for i, c := range chunks {
		if !strings.Contains(text, c) {
			t.Errorf("chunk %d %q mangles a multi-byte character", i, c)
		}
		if n := len([]rune(c)); n > 7 {
			t.Errorf("chunk %d has %d runes, max 7", i, n)
		}
	}
}
