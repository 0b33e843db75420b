package failures

import (
	"context"
	"testing"
	"time"

	"relnotify/internal/kv"
	logx "relnotify/pkg/logx"
)

func newTracker() (*Tracker, *kv.Memory, kv.Keyspace) {
	store := kv.NewMemory()
	keys := kv.NewKeyspace("test")
	return NewTracker(store, keys, time.Hour, logx.Nop()), store, keys
}

func TestRecordAndListAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr, _, _ := newTracker()

	for _, id := range []string{"T1", "T2"} {
		err := tr.Record(ctx, FailedDelivery{RecipientID: id, Version: "1.2.3", Reason: "timeout"})
		if err != nil {
			t.Fatal(err)
		}
	}
	got, err := tr.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("ListAll = %d records", len(got))
	}
	for _, f := range got {
		if f.RetryCount != 0 {
			t.Errorf("fresh record has RetryCount %d", f.RetryCount)
		}
		if f.At.IsZero() {
			t.Error("Record did not stamp time")
		}
	}
}

func TestRecordIsUpsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr, _, _ := newTracker()

	if err := tr.Record(ctx, FailedDelivery{RecipientID: "T1", Version: "1.0.0", Reason: "timeout"}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := tr.IncrementRetry(ctx, "T1"); err != nil {
		t.Fatal(err)
	}
	// A fresh failure for a newer version replaces the old record entirely.
	if err := tr.Record(ctx, FailedDelivery{RecipientID: "T1", Version: "1.1.0", Reason: "blocked"}); err != nil {
		t.Fatal(err)
	}

	got, err := tr.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("ListAll = %d records, want 1", len(got))
	}
	if got[0].Version != "1.1.0" || got[0].RetryCount != 0 {
		t.Errorf("upsert kept stale state: %+v", got[0])
	}
}

func TestIncrementRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr, _, _ := newTracker()

	if _, ok, err := tr.IncrementRetry(ctx, "absent"); err != nil || ok {
		t.Fatalf("IncrementRetry on absent record: ok=%v err=%v", ok, err)
	}

	if err := tr.Record(ctx, FailedDelivery{RecipientID: "T1", Version: "1.0.0"}); err != nil {
		t.Fatal(err)
	}
	for want := 1; want <= MaxRetries; want++ {
		f, ok, err := tr.IncrementRetry(ctx, "T1")
		if err != nil || !ok {
			t.Fatalf("IncrementRetry: ok=%v err=%v", ok, err)
		}
		if f.RetryCount != want {
			t.Fatalf("RetryCount = %d, want %d", f.RetryCount, want)
		}
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr, _, _ := newTracker()

	if err := tr.Record(ctx, FailedDelivery{RecipientID: "T1", Version: "1.0.0"}); err != nil {
		t.Fatal(err)
	}
	if err := tr.Remove(ctx, "T1"); err != nil {
		t.Fatal(err)
	}
	got, err := tr.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("record survived Remove: %+v", got)
	}
	// Absent is a no-op.
	if err := tr.Remove(ctx, "T1"); err != nil {
		t.Errorf("Remove absent: %v", err)
	}
}

func TestListAllDropsCorruptRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr, store, keys := newTracker()

	if err := tr.Record(ctx, FailedDelivery{RecipientID: "good", Version: "1.0.0"}); err != nil {
		t.Fatal(err)
	}
	store.ForceSet(keys.Failed("bad"), "{broken")

	got, err := tr.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].RecipientID != "good" {
		t.Fatalf("ListAll = %+v", got)
	}
	if v, _ := store.Get(ctx, keys.Failed("bad")); v.Found {
		t.Error("corrupt record not deleted")
	}
}

func TestListAllDropsMismatchedRecipientID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr, store, keys := newTracker()

	if err := tr.Record(ctx, FailedDelivery{RecipientID: "good", Version: "1.0.0"}); err != nil {
		t.Fatal(err)
	}
	// A record stored under T1's key but claiming to be T2's.
	store.ForceSet(keys.Failed("T1"), `{"recipient_id":"T2","version":"1.0.0"}`)

	got, err := tr.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].RecipientID != "good" {
		t.Fatalf("ListAll = %+v", got)
	}
	if v, _ := store.Get(ctx, keys.Failed("T1")); v.Found {
		t.Error("mismatched record not deleted")
	}
}
