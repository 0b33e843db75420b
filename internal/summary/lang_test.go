package summary

import "testing"

func TestConforms(t *testing.T) {
	t.Parallel()

	korean := ChangeSummary{
		Version: "1.2.3",
		Summary: "이번 릴리스에는 새로운 기능이 추가되었습니다",
		Changes: map[string][]string{
			CategoryChangelog: {"버그 수정", "성능 개선"},
		},
	}
	english := ChangeSummary{
		Version: "1.2.3",
		Summary: "This release adds new features",
		Changes: map[string][]string{
			CategoryChangelog: {"Bug fixes", "Performance improvements"},
		},
	}

	if !Conforms(korean, "ko") {
		t.Error("korean summary should conform to ko")
	}
	if Conforms(english, "ko") {
		t.Error("english summary must not conform to ko")
	}
	// The default language always passes, whatever the script.
	if !Conforms(english, "en") || !Conforms(korean, "en") {
		t.Error("default language must always pass")
	}
	// Unknown target languages skip the script check but still need items.
	if !Conforms(english, "fr") {
		t.Error("unlisted language with content should pass")
	}
	if Conforms(ChangeSummary{Summary: "이번 릴리스"}, "ko") {
		t.Error("summary without items must not conform")
	}
}

func TestConformsToleratesLatinFragments(t *testing.T) {
	t.Parallel()
	// Flag names and identifiers stay Latin inside a good Korean summary.
	s := ChangeSummary{
		Summary: "새 플래그 enableFastPath 가 추가되었고 기본값이 변경되었습니다",
		Changes: map[string][]string{
			CategoryFlagsNew: {"enableFastPath 플래그가 새로 생겼습니다"},
			CategoryFlagsMod: {"maxRetries 기본값이 3 에서 5 로 바뀌었습니다"},
		},
	}
	if !Conforms(s, "ko") {
		t.Error("korean summary with latin identifiers should still conform")
	}
}

func TestResolveLanguage(t *testing.T) {
	t.Parallel()
	available := []string{"en", "ko", "ja"}
	cases := []struct {
		requested, preferred string
		available            []string
		want                 string
	}{
		{"ko", "ja", available, "ko"},
		{"", "ja", available, "ja"},
		{"", "", available, "en"},
		{"ru", "ja", available, "ja"}, // requested unavailable
		{"ru", "zh", available, "en"}, // both unavailable
		{"", "ko", nil, ""},           // nothing cached
	}
	for _, tc := range cases {
		got := ResolveLanguage(tc.requested, tc.preferred, tc.available)
		if got != tc.want {
			t.Errorf("ResolveLanguage(%q, %q, %v) = %q, want %q",
				tc.requested, tc.preferred, tc.available, got, tc.want)
		}
	}
}

func TestNormalizeLanguage(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"ko-KR": "ko",
		"KO":    "ko",
		"ja_JP": "ja",
		" en ":  "en",
		"":      "",
	}
	for in, want := range cases {
		if got := NormalizeLanguage(in); got != want {
			t.Errorf("NormalizeLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestItemsStableOrder(t *testing.T) {
	t.Parallel()
	s := ChangeSummary{Changes: map[string][]string{
		CategoryFlagsMod:  {"f-changed"},
		CategoryChangelog: {"c1", "c2"},
		CategoryFlagsNew:  {"f-new"},
	}}
	got := s.Items()
	want := []string{"c1", "c2", "f-new", "f-changed"}
	if len(got) != len(want) {
		t.Fatalf("Items = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Items = %v, want %v", got, want)
		}
	}
}
