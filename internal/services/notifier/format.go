package notifier

import (
	"sort"
	"strings"

	"relnotify/internal/summary"
)

// category headings in delivery order; replySections emits one reply per
// non-empty category.
var categoryOrder = []struct {
	key   string
	title string
}{
	{summary.CategoryChangelog, "📋 Changelog"},
	{summary.CategoryPrompts, "✍️ Prompt updates"},
	{summary.CategoryFlagsNew, "🚩 New flags"},
	{summary.CategoryFlagsGone, "🗑 Removed flags"},
	{summary.CategoryFlagsMod, "🔧 Changed flags"},
}

// formatMain renders the headline message a recipient sees first.
func formatMain(s summary.ChangeSummary) string {
	var b strings.Builder
	b.WriteString("🚀 New release: ")
	b.WriteString(s.Version)
	if t := strings.TrimSpace(s.Summary); t != "" {
		b.WriteString("\n\n")
		b.WriteString(t)
	}
	return b.String()
}

// replySections renders one reply body per non-empty change category,
// in stable order. Categories the summarizer invented are appended last
// under their raw name rather than dropped.
func replySections(s summary.ChangeSummary) []string {
	var out []string
	emit := func(title string, items []string) {
		var kept []string
		for _, it := range items {
			if strings.TrimSpace(it) != "" {
				kept = append(kept, it)
			}
		}
		if len(kept) == 0 {
			return
		}
		var b strings.Builder
		b.WriteString(title)
		b.WriteString(":\n")
		for _, it := range kept {
			b.WriteString("• ")
			b.WriteString(strings.TrimSpace(it))
			b.WriteByte('\n')
		}
		out = append(out, strings.TrimRight(b.String(), "\n"))
	}

	known := map[string]bool{}
	for _, cat := range categoryOrder {
		known[cat.key] = true
		emit(cat.title, s.Changes[cat.key])
	}
	var extra []string
	for key := range s.Changes {
		if !known[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		emit(key, s.Changes[key])
	}
	return out
}
