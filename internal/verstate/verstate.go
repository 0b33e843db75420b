// Package verstate persists the "last processed release" pointer and defines
// the version ordering used for novelty detection.
package verstate

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"relnotify/internal/kv"
)

// numGroups extracts dot-separated numeric groups out of a tag, tolerating
// prefixes and suffixes ("v1.2.3", "release-1.2", "1.2.3-rc1").
var numGroups = regexp.MustCompile(`\d+`)

// ParseTriple best-effort extracts (major, minor, patch) from a version tag.
// Anything without numeric groups collapses to (0,0,0). Two differently
// formatted unparseable tags therefore compare as equal; that can suppress a
// release with an unconventional tag format, which is accepted behavior here.
func ParseTriple(version string) [3]int {
	var out [3]int
	groups := numGroups.FindAllString(version, 3)
	for i, g := range groups {
		if i >= 3 {
			break
		}
		n, err := strconv.Atoi(g)
		if err != nil {
			// longer than an int; saturate rather than fail
			n = int(^uint(0) >> 1)
		}
		out[i] = n
	}
	return out
}

// IsNewer reports whether candidate is strictly newer than baseline under
// (major, minor, patch) ordering. An empty baseline means "never processed",
// so any candidate is newer. Pure: no I/O, deterministic.
func IsNewer(candidate, baseline string) bool {
	if baseline == "" {
		return true
	}
	c, b := ParseTriple(candidate), ParseTriple(baseline)
	for i := 0; i < 3; i++ {
		if c[i] != b[i] {
			return c[i] > b[i]
		}
	}
	return false
}

// Tracker persists version state in the kv store. It never decides when to
// advance; the orchestrator owns that policy.
type Tracker struct {
	store kv.Store
	keys  kv.Keyspace
}

func NewTracker(store kv.Store, keys kv.Keyspace) *Tracker {
	return &Tracker{store: store, keys: keys}
}

func (t *Tracker) LastChecked(ctx context.Context) (string, bool, error) {
	v, err := t.store.Get(ctx, t.keys.LastCheckedVersion())
	if err != nil {
		return "", false, err
	}
	return v.Str, v.Found, nil
}

func (t *Tracker) SetLastChecked(ctx context.Context, version string) error {
	return t.store.Set(ctx, t.keys.LastCheckedVersion(), version, 0)
}

func (t *Tracker) LastNotified(ctx context.Context) (time.Time, bool, error) {
	v, err := t.store.Get(ctx, t.keys.LastNotificationTime())
	if err != nil || !v.Found {
		return time.Time{}, false, err
	}
	ts, perr := time.Parse(time.RFC3339Nano, v.Str)
	if perr != nil {
		return time.Time{}, false, nil
	}
	return ts, true, nil
}

func (t *Tracker) SetLastNotified(ctx context.Context, at time.Time) error {
	return t.store.Set(ctx, t.keys.LastNotificationTime(), at.UTC().Format(time.RFC3339Nano), 0)
}
