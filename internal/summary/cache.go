package summary

import (
	"context"
	"sync"
	"time"

	"relnotify/internal/kv"
	logx "relnotify/pkg/logx"
)

// GeneratorFn produces a summary for one language; the cache calls it only on
// a miss.
type GeneratorFn func(ctx context.Context, lang string) (ChangeSummary, error)

type CacheConfig struct {
	Languages []string      // supported languages, default language first
	TTL       time.Duration // per-entry lifetime; 0 falls back to 7 days
}

// Cache stores one ChangeSummary per (version, language) with a TTL.
//
// Writes are validated (content + language conformance) and invalid writes
// are dropped, but the read path re-validates too: a bad entry that got into
// the store some other way is deleted on first read instead of being served.
type Cache struct {
	store kv.Store
	keys  kv.Keyspace
	log   logx.Logger

	langs []string
	ttl   time.Duration
}

func NewCache(store kv.Store, keys kv.Keyspace, cfg CacheConfig, log logx.Logger) *Cache {
	langs := cfg.Languages
	if len(langs) == 0 {
		langs = []string{DefaultLanguage}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cache{store: store, keys: keys, log: log, langs: langs, ttl: ttl}
}

func (c *Cache) Languages() []string { return append([]string(nil), c.langs...) }

// Get returns the cached summary for (version, lang), re-validating it on the
// way out. Entries that fail validation are deleted and reported absent, so
// cache pollution heals itself instead of being re-served for 7 days.
func (c *Cache) Get(ctx context.Context, version, lang string) (ChangeSummary, bool, error) {
	key := c.keys.Summary(version, lang)
	v, err := c.store.Get(ctx, key)
	if err != nil {
		return ChangeSummary{}, false, err
	}
	if !v.Found {
		return ChangeSummary{}, false, nil
	}
	s, ok := c.revalidate(ctx, key, v.Str, lang)
	if !ok {
		return ChangeSummary{}, false, nil
	}
	return s, true, nil
}

// Set caches the summary only if it passes content and language checks.
// An invalid summary is a logged no-op, not an error: callers must not assume
// Set followed by Get round-trips.
func (c *Cache) Set(ctx context.Context, version, lang string, s ChangeSummary) error {
	if !s.HasContent() {
		c.log.Warn("summary rejected: no content", logx.String("version", version), logx.String("lang", lang))
		return nil
	}
	if !Conforms(s, lang) {
		c.log.Warn("summary rejected: language mismatch", logx.String("version", version), logx.String("lang", lang))
		return nil
	}
	raw, err := s.Encode()
	if err != nil {
		return err
	}
	return c.store.Set(ctx, c.keys.Summary(version, lang), raw, c.ttl)
}

// GetAll fetches every supported language for version in one store round
// trip. Entries failing validation are deleted and omitted.
func (c *Cache) GetAll(ctx context.Context, version string) (map[string]ChangeSummary, error) {
	keys := make([]string, len(c.langs))
	for i, lang := range c.langs {
		keys[i] = c.keys.Summary(version, lang)
	}
	vals, err := c.store.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]ChangeSummary, len(c.langs))
	for i, v := range vals {
		if !v.Found {
			continue
		}
		if s, ok := c.revalidate(ctx, keys[i], v.Str, c.langs[i]); ok {
			out[c.langs[i]] = s
		}
	}
	return out, nil
}

// Pregenerate ensures a summary exists for every supported language, calling
// gen only for the missing ones, concurrently. One language failing never
// aborts the others; failed languages are simply absent from the result.
// It errors only when the store itself is unreachable.
//
// Calling it twice with a working generator is idempotent: the second call is
// fully cache-served.
func (c *Cache) Pregenerate(ctx context.Context, version string, gen GeneratorFn) (map[string]ChangeSummary, error) {
	have, err := c.GetAll(ctx, version)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, lang := range c.langs {
		if _, ok := have[lang]; !ok {
			missing = append(missing, lang)
		}
	}
	if len(missing) == 0 {
		return have, nil
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, lang := range missing {
		lang := lang
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, gerr := gen(ctx, lang)
			if gerr != nil {
				c.log.Warn("summary generation failed",
					logx.String("version", version), logx.String("lang", lang), logx.Err(gerr))
				return
			}
			if !s.HasContent() || !Conforms(s, lang) {
				c.log.Warn("generated summary failed validation",
					logx.String("version", version), logx.String("lang", lang))
				return
			}
			if serr := c.Set(ctx, version, lang, s); serr != nil {
				c.log.Warn("summary cache write failed",
					logx.String("version", version), logx.String("lang", lang), logx.Err(serr))
				// Still usable for this pass even if the write failed.
			}
			mu.Lock()
			have[lang] = s
			mu.Unlock()
		}()
	}
	wg.Wait()

	return have, nil
}

func (c *Cache) revalidate(ctx context.Context, key, raw, lang string) (ChangeSummary, bool) {
	s, err := Decode(raw)
	if err == nil && s.HasContent() && Conforms(s, lang) {
		return s, true
	}
	c.log.Warn("purging invalid cached summary", logx.String("key", key), logx.String("lang", lang), logx.Err(err))
	if derr := c.store.Del(ctx, key); derr != nil {
		c.log.Warn("purge failed", logx.String("key", key), logx.Err(derr))
	}
	return ChangeSummary{}, false
}
