package kv

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logx "relnotify/pkg/logx"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	st, err := openSQLite(Config{Path: filepath.Join(t.TempDir(), "kv.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteSetNXAndCompareDel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newSQLiteStore(t)

	ok, err := st.SetNX(ctx, "k", "a", 0)
	if err != nil || !ok {
		t.Fatalf("SetNX on absent key: ok=%v err=%v", ok, err)
	}
	ok, err = st.SetNX(ctx, "k", "b", 0)
	if err != nil || ok {
		t.Fatalf("SetNX on present key: ok=%v err=%v", ok, err)
	}
	if v, _ := st.Get(ctx, "k"); v.Str != "a" {
		t.Fatalf("losing SetNX overwrote value: %q", v.Str)
	}

	if ok, _ := st.CompareDel(ctx, "k", "b"); ok {
		t.Fatal("CompareDel deleted on mismatched value")
	}
	if ok, _ := st.CompareDel(ctx, "k", "a"); !ok {
		t.Fatal("CompareDel refused matching value")
	}
	if v, _ := st.Get(ctx, "k"); v.Found {
		t.Fatal("key still present after CompareDel")
	}
	if ok, _ := st.CompareDel(ctx, "k", "a"); ok {
		t.Fatal("CompareDel on absent key reported success")
	}
}

func TestSQLiteExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newSQLiteStore(t)

	if err := st.Set(ctx, "ttl", "x", 5*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if v, _ := st.Get(ctx, "ttl"); !v.Found {
		t.Fatal("value missing before expiry")
	}
	time.Sleep(20 * time.Millisecond)
	if v, _ := st.Get(ctx, "ttl"); v.Found {
		t.Fatal("value survived its ttl")
	}
	// An expired row counts as absent for SetNX, and CompareDel must not
	// match a stale value.
	if ok, _ := st.CompareDel(ctx, "ttl", "x"); ok {
		t.Fatal("CompareDel matched an expired row")
	}
	if ok, _ := st.SetNX(ctx, "ttl", "y", 0); !ok {
		t.Fatal("SetNX blocked by expired entry")
	}
	if v, _ := st.Get(ctx, "ttl"); v.Str != "y" {
		t.Fatalf("value after re-acquire = %q", v.Str)
	}
}

func TestSQLiteConcurrentSetNXSingleWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newSQLiteStore(t)

	const contenders = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			val := string(rune('a' + id))
			ok, err := st.SetNX(ctx, "lock", val, 0)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				mu.Lock()
				wins = append(wins, val)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if len(wins) != 1 {
		t.Fatalf("%d contenders won SetNX, want exactly 1", len(wins))
	}
	if v, _ := st.Get(ctx, "lock"); v.Str != wins[0] {
		t.Fatalf("stored value %q does not belong to the winner %q", v.Str, wins[0])
	}
}

func TestGlobToLike(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"ns:state:failed:*": "ns:state:failed:%",
		"exact":             "exact",
		"a?c":               "a_c",
		"100%":              `100\%`,
		"under_score":       `under\_score`,
		`back\slash`:        `back\\slash`,
	}
	for in, want := range cases {
		if got := globToLike(in); got != want {
			t.Errorf("globToLike(%q) = %q, want %q", in, got, want)
		}
	}
}
