package notifier

import (
	"context"
	"errors"
	"testing"

	"relnotify/internal/failures"
	"relnotify/internal/summary"
	logx "relnotify/pkg/logx"
)

// seedRetry puts the harness in "nothing new upstream, one outstanding
// failure" state: last checked equals the latest release, a summary for
// version sits in the cache, and T1 has a failure record for it.
func seedRetry(t *testing.T, h *harness, version string, retryCount int, cached bool) {
	t.Helper()
	ctx := context.Background()

	h.provider.latest.Version = version
	if err := h.versions.SetLastChecked(ctx, version); err != nil {
		t.Fatal(err)
	}
	if cached {
		cache := summary.NewCache(h.store, h.keys, summary.CacheConfig{Languages: []string{"en", "ko"}}, logx.Nop())
		s := summary.ChangeSummary{
			Version: version,
			Summary: "This release fixes bugs",
			Changes: map[string][]string{summary.CategoryChangelog: {"Fixed a crash"}},
		}
		if err := cache.Set(ctx, version, "en", s); err != nil {
			t.Fatal(err)
		}
	}
	err := h.failures.Record(ctx, failures.FailedDelivery{
		RecipientID: "T1", Version: version, Reason: "timeout", RetryCount: retryCount,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRetryDeliversFromCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.addRecipient(t, "T1", "en")
	seedRetry(t, h, "1.2.0", 0, true)

	if err := h.svc.RunPass(ctx); err != nil {
		t.Fatal(err)
	}

	if n := h.adapter.count("tok-T1"); n != 2 {
		t.Errorf("retry delivered %d messages, want 2", n)
	}
	recs, err := h.failures.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("record survived successful retry: %+v", recs)
	}
}

func TestRetryGivesUpAtMaxRetries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.addRecipient(t, "T1", "en")
	seedRetry(t, h, "1.2.0", failures.MaxRetries, true)

	if err := h.svc.RunPass(ctx); err != nil {
		t.Fatal(err)
	}
	// Even with a working transport, an exhausted record is never attempted.
	if n := h.adapter.count("tok-T1"); n != 0 {
		t.Errorf("exhausted record was attempted: %d messages", n)
	}
	recs, err := h.failures.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("exhausted record not removed: %+v", recs)
	}
}

func TestRetryIncrementsOnRepeatedFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.addRecipient(t, "T1", "en")
	seedRetry(t, h, "1.2.0", 0, true)
	h.adapter.errFor["tok-T1"] = errors.New("still unreachable")

	if err := h.svc.RunPass(ctx); err != nil {
		t.Fatal(err)
	}
	recs, err := h.failures.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].RetryCount != 1 {
		t.Fatalf("records after failed retry = %+v", recs)
	}
}

func TestRetrySkipsInactiveRecipients(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.addRecipient(t, "T1", "en")
	seedRetry(t, h, "1.2.0", 0, true)
	if err := h.recipients.Deactivate(ctx, "T1"); err != nil {
		t.Fatal(err)
	}

	if err := h.svc.RunPass(ctx); err != nil {
		t.Fatal(err)
	}
	if n := h.adapter.count("tok-T1"); n != 0 {
		t.Errorf("inactive recipient was attempted: %d messages", n)
	}
	recs, err := h.failures.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("record kept for inactive recipient: %+v", recs)
	}
}

func TestRetryDropsRecordWhenSummariesExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.addRecipient(t, "T1", "en")
	// cached=false models the summaries having aged out of the cache.
	seedRetry(t, h, "0.9.0", 0, false)

	if err := h.svc.RunPass(ctx); err != nil {
		t.Fatal(err)
	}
	if n := h.adapter.count("tok-T1"); n != 0 {
		t.Errorf("attempted delivery with nothing to send: %d messages", n)
	}
	recs, err := h.failures.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("record kept with nothing to send: %+v", recs)
	}
}
