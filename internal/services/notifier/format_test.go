package notifier

import (
	"strings"
	"testing"

	"relnotify/internal/summary"
)

func TestFormatMain(t *testing.T) {
	t.Parallel()
	s := summary.ChangeSummary{Version: "1.2.4", Summary: "Fixes and polish"}
	got := formatMain(s)
	if !strings.Contains(got, "1.2.4") || !strings.Contains(got, "Fixes and polish") {
		t.Errorf("formatMain = %q", got)
	}

	// No trailing junk when the summary text is empty.
	bare := formatMain(summary.ChangeSummary{Version: "1.2.4"})
	if strings.Contains(bare, "\n") {
		t.Errorf("empty-summary headline has a body: %q", bare)
	}
}

func TestReplySectionsOrderAndFiltering(t *testing.T) {
	t.Parallel()
	s := summary.ChangeSummary{Changes: map[string][]string{
		summary.CategoryFlagsMod:  {"maxRetries default changed"},
		summary.CategoryChangelog: {"Fixed a crash", "  "},
		summary.CategoryPrompts:   {},
		summary.CategoryFlagsNew:  {"enableFastPath added"},
	}}

	got := replySections(s)
	if len(got) != 3 {
		t.Fatalf("sections = %d, want 3: %q", len(got), got)
	}
	// Changelog before flags, flags_added before flags_changed.
	if !strings.Contains(got[0], "Fixed a crash") {
		t.Errorf("first section = %q", got[0])
	}
	if !strings.Contains(got[1], "enableFastPath") {
		t.Errorf("second section = %q", got[1])
	}
	if !strings.Contains(got[2], "maxRetries") {
		t.Errorf("third section = %q", got[2])
	}
	// Blank items are dropped, real ones are bulleted.
	if strings.Count(got[0], "•") != 1 {
		t.Errorf("changelog section bullets: %q", got[0])
	}
}

func TestReplySectionsKeepsUnknownCategories(t *testing.T) {
	t.Parallel()
	s := summary.ChangeSummary{Changes: map[string][]string{
		"deprecations": {"old flag retired"},
	}}
	got := replySections(s)
	if len(got) != 1 || !strings.Contains(got[0], "old flag retired") {
		t.Fatalf("unknown category lost: %q", got)
	}
	if !strings.HasPrefix(got[0], "deprecations:") {
		t.Errorf("unknown category heading = %q", got[0])
	}
}
