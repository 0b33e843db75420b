// Package summary holds the generated release-summary artifact, its
// validation rules, and the per-(version, language) cache.
package summary

import (
	"encoding/json"
	"strings"
)

// Change list categories. Changelog is always present when the upstream
// changelog fetch succeeded; the diff-derived categories depend on what the
// release actually touched.
const (
	CategoryChangelog = "changelog"
	CategoryPrompts   = "prompts"
	CategoryFlagsNew  = "flags_added"
	CategoryFlagsGone = "flags_removed"
	CategoryFlagsMod  = "flags_changed"
)

// ChangeSummary is the artifact produced by the summarizer for one version in
// one language.
type ChangeSummary struct {
	Version string              `json:"version"`
	Summary string              `json:"summary"`
	Changes map[string][]string `json:"changes"`
}

// HasContent reports whether the summary carries at least one non-empty
// change list. Summaries without content are never cached or delivered.
func (c ChangeSummary) HasContent() bool {
	for _, items := range c.Changes {
		for _, it := range items {
			if strings.TrimSpace(it) != "" {
				return true
			}
		}
	}
	return false
}

// Items flattens all change lists in stable category order.
func (c ChangeSummary) Items() []string {
	var out []string
	for _, cat := range []string{CategoryChangelog, CategoryPrompts, CategoryFlagsNew, CategoryFlagsGone, CategoryFlagsMod} {
		out = append(out, c.Changes[cat]...)
	}
	// Unknown categories last, so nothing silently disappears.
	known := map[string]bool{
		CategoryChangelog: true, CategoryPrompts: true,
		CategoryFlagsNew: true, CategoryFlagsGone: true, CategoryFlagsMod: true,
	}
	for cat, items := range c.Changes {
		if !known[cat] {
			out = append(out, items...)
		}
	}
	return out
}

func (c ChangeSummary) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func Decode(raw string) (ChangeSummary, error) {
	var c ChangeSummary
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return ChangeSummary{}, err
	}
	return c, nil
}
