package summary

import (
	"strings"
	"unicode"
)

// DefaultLanguage is the language summaries are generated in when no
// preference applies. The default language skips conformance checks: Latin
// text shows up inside non-English summaries too (flag names, URLs), so the
// check only makes sense for non-default targets.
const DefaultLanguage = "en"

// script ranges per supported target language. Unlisted languages skip the
// conformance check (we can't tell a good summary from a bad one).
var langScripts = map[string][]*unicode.RangeTable{
	"ko": {unicode.Hangul},
	"ja": {unicode.Hiragana, unicode.Katakana, unicode.Han},
	"zh": {unicode.Han},
	"ru": {unicode.Cyrillic},
}

// inTargetScript reports whether text's letters are dominated by the target
// language's script. Non-letters (digits, punctuation, whitespace) are
// ignored; Latin letters count against, since a "Korean" summary that came
// back in English is exactly the failure mode this detects.
func inTargetScript(text, lang string) bool {
	ranges, ok := langScripts[lang]
	if !ok {
		return true
	}
	var target, letters int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsOneOf(ranges, r) {
			target++
		}
	}
	if letters == 0 {
		return false
	}
	return target*2 >= letters
}

// Conforms checks a generated summary against its target language:
// the summary text must be dominated by the target script, and at least half
// of the change-list items must be too. The default language always passes.
func Conforms(c ChangeSummary, lang string) bool {
	if lang == DefaultLanguage {
		return true
	}
	if !inTargetScript(c.Summary, lang) {
		return false
	}
	items := c.Items()
	if len(items) == 0 {
		return false
	}
	var ok int
	for _, it := range items {
		if inTargetScript(it, lang) {
			ok++
		}
	}
	return ok*2 >= len(items)
}

// ResolveLanguage picks the effective language for a summary request with a
// single, explicit precedence: requested language, then the recipient's
// stored preference, then the first available cached language. It returns
// "" when nothing is available.
func ResolveLanguage(requested, preferred string, available []string) string {
	has := func(lang string) bool {
		for _, a := range available {
			if a == lang {
				return true
			}
		}
		return false
	}
	if requested != "" && has(requested) {
		return requested
	}
	if preferred != "" && has(preferred) {
		return preferred
	}
	if len(available) > 0 {
		return available[0]
	}
	return ""
}

// NormalizeLanguage lowercases and trims a language tag, collapsing region
// subtags ("ko-KR" -> "ko").
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}
