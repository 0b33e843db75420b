package telegram

import (
	"strings"
	"testing"
)

func TestSplitTextShortPassthrough(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %v", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, strings.Repeat("x", 20))
	}
	text := strings.Join(lines, "\n")

	chunks := splitText(text, 100)
	if len(chunks) < 2 {
		t.Fatalf("long text not split: %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
		// Newline-boundary splitting keeps lines whole.
		for _, line := range strings.Split(c, "\n") {
			if len(line) != 20 {
				t.Fatalf("chunk %d contains a cut line: %q", i, line)
			}
		}
	}

	rejoined := strings.Join(chunks, "\n")
	if strings.ReplaceAll(rejoined, "\n", "") != strings.ReplaceAll(text, "\n", "") {
		t.Fatal("content lost while splitting")
	}
}

func TestSplitTextHardBreakWithoutNewlines(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 250)
	chunks := splitText(text, 100)
	var total int
	for _, c := range chunks {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk exceeds limit: %d", len([]rune(c)))
		}
		total += len(c)
	}
	if total != 250 {
		t.Fatalf("lost characters: %d of 250", total)
	}
}
