package summary

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"relnotify/internal/kv"
	logx "relnotify/pkg/logx"
)

func newCache(langs ...string) (*Cache, *kv.Memory, kv.Keyspace) {
	store := kv.NewMemory()
	keys := kv.NewKeyspace("test")
	c := NewCache(store, keys, CacheConfig{Languages: langs}, logx.Nop())
	return c, store, keys
}

func englishSummary(version string) ChangeSummary {
	return ChangeSummary{
		Version: version,
		Summary: "This release fixes bugs",
		Changes: map[string][]string{CategoryChangelog: {"Fixed a crash on startup"}},
	}
}

func koreanSummary(version string) ChangeSummary {
	return ChangeSummary{
		Version: version,
		Summary: "이번 릴리스는 버그를 수정합니다",
		Changes: map[string][]string{CategoryChangelog: {"시작 시 충돌 문제가 수정되었습니다"}},
	}
}

func TestPregenerateIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _, _ := newCache("en", "ko")

	var calls int64
	gen := func(_ context.Context, lang string) (ChangeSummary, error) {
		atomic.AddInt64(&calls, 1)
		if lang == "ko" {
			return koreanSummary("1.2.3"), nil
		}
		return englishSummary("1.2.3"), nil
	}

	got, err := c.Pregenerate(ctx, "1.2.3", gen)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("first pregenerate produced %d languages", len(got))
	}
	if n := atomic.LoadInt64(&calls); n != 2 {
		t.Fatalf("generator called %d times, want 2", n)
	}

	// Second call must be fully cache-served.
	got, err = c.Pregenerate(ctx, "1.2.3", gen)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("second pregenerate produced %d languages", len(got))
	}
	if n := atomic.LoadInt64(&calls); n != 2 {
		t.Fatalf("generator re-invoked on warm cache: %d calls", n)
	}
}

func TestPregenerateIsolatesLanguageFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _, _ := newCache("en", "ko")

	gen := func(_ context.Context, lang string) (ChangeSummary, error) {
		if lang == "ko" {
			return ChangeSummary{}, errors.New("model unavailable")
		}
		return englishSummary("2.0.0"), nil
	}
	got, err := c.Pregenerate(ctx, "2.0.0", gen)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got["en"]; !ok {
		t.Fatal("english summary lost to the korean failure")
	}
	if _, ok := got["ko"]; ok {
		t.Fatal("failed language present in result")
	}
}

func TestSetRejectsInvalidSummaries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _, _ := newCache("en", "ko")

	// No content: dropped without error.
	if err := c.Set(ctx, "1.0.0", "en", ChangeSummary{Summary: "words"}); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := c.Get(ctx, "1.0.0", "en"); found {
		t.Fatal("contentless summary was cached")
	}

	// Wrong language: dropped without error.
	if err := c.Set(ctx, "1.0.0", "ko", englishSummary("1.0.0")); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := c.Get(ctx, "1.0.0", "ko"); found {
		t.Fatal("non-conformant summary was cached")
	}
}

func TestGetHealsCorruptEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, store, keys := newCache("en")

	key := keys.Summary("1.0.0", "en")
	store.ForceSet(key, "{not json")

	if _, found, err := c.Get(ctx, "1.0.0", "en"); err != nil || found {
		t.Fatalf("corrupt entry served: found=%v err=%v", found, err)
	}
	// The bad entry must be gone, not just skipped.
	if v, _ := store.Get(ctx, key); v.Found {
		t.Fatal("corrupt entry still in store after read")
	}
}

func TestGetHealsWrongLanguageEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, store, keys := newCache("en", "ko")

	// A well-formed but English entry planted under the ko key.
	raw, err := englishSummary("1.0.0").Encode()
	if err != nil {
		t.Fatal(err)
	}
	key := keys.Summary("1.0.0", "ko")
	store.ForceSet(key, raw)

	if _, found, _ := c.Get(ctx, "1.0.0", "ko"); found {
		t.Fatal("wrong-language entry served")
	}
	if v, _ := store.Get(ctx, key); v.Found {
		t.Fatal("wrong-language entry not purged")
	}
}

func TestGetAllReturnsOnlyPresentLanguages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _, _ := newCache("en", "ko", "ja")

	if err := c.Set(ctx, "3.0.0", "en", englishSummary("3.0.0")); err != nil {
		t.Fatal(err)
	}
	got, err := c.GetAll(ctx, "3.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("GetAll = %d languages, want 1", len(got))
	}
	if _, ok := got["en"]; !ok {
		t.Fatal("english summary missing from GetAll")
	}
}
