// Package failures persistently tracks per-recipient delivery failures so
// they survive process restarts and are retried (a bounded number of times)
// by the next pass.
package failures

import (
	"context"
	"encoding/json"
	"time"

	"relnotify/internal/kv"
	logx "relnotify/pkg/logx"
)

// MaxRetries is the retry ceiling: a record at this count is dropped by the
// retry phase instead of being attempted again.
const MaxRetries = 3

// FailedDelivery is the outstanding failure record for one recipient.
// At most one exists per recipient; a newer failure overwrites it.
type FailedDelivery struct {
	RecipientID string    `json:"recipient_id"`
	Version     string    `json:"version"`
	Reason      string    `json:"reason"`
	At          time.Time `json:"at"`
	RetryCount  int       `json:"retry_count"`
}

type Tracker struct {
	store kv.Store
	keys  kv.Keyspace
	log   logx.Logger
	ttl   time.Duration
}

func NewTracker(store kv.Store, keys kv.Keyspace, ttl time.Duration, log logx.Logger) *Tracker {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{store: store, keys: keys, log: log, ttl: ttl}
}

// Record upserts the failure record for a recipient. A fresh failure starts
// at RetryCount 0.
func (t *Tracker) Record(ctx context.Context, f FailedDelivery) error {
	if f.At.IsZero() {
		f.At = time.Now().UTC()
	}
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return t.store.Set(ctx, t.keys.Failed(f.RecipientID), string(b), t.ttl)
}

// ListAll returns every outstanding failure record.
func (t *Tracker) ListAll(ctx context.Context) ([]FailedDelivery, error) {
	keys, err := t.store.Scan(ctx, t.keys.FailedPattern())
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := t.store.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}
	out := make([]FailedDelivery, 0, len(keys))
	for i, v := range vals {
		if !v.Found {
			continue
		}
		var f FailedDelivery
		if uerr := json.Unmarshal([]byte(v.Str), &f); uerr != nil {
			t.log.Warn("dropping corrupt failure record", logx.String("key", keys[i]), logx.Err(uerr))
			_ = t.store.Del(ctx, keys[i])
			continue
		}
		// The key is authoritative for the recipient id; a record written
		// under the wrong key would otherwise be retried against the wrong
		// recipient forever.
		if id := t.keys.FailedID(keys[i]); f.RecipientID != id {
			t.log.Warn("dropping failure record with mismatched recipient id",
				logx.String("key", keys[i]), logx.String("record_id", f.RecipientID))
			_ = t.store.Del(ctx, keys[i])
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// Remove deletes a recipient's failure record. Absent is a no-op, not an
// error.
func (t *Tracker) Remove(ctx context.Context, recipientID string) error {
	return t.store.Del(ctx, t.keys.Failed(recipientID))
}

// IncrementRetry bumps the retry counter by exactly one and returns the
// updated record, or absent if there is none.
func (t *Tracker) IncrementRetry(ctx context.Context, recipientID string) (FailedDelivery, bool, error) {
	v, err := t.store.Get(ctx, t.keys.Failed(recipientID))
	if err != nil || !v.Found {
		return FailedDelivery{}, false, err
	}
	var f FailedDelivery
	if uerr := json.Unmarshal([]byte(v.Str), &f); uerr != nil {
		return FailedDelivery{}, false, uerr
	}
	f.RetryCount++
	f.At = time.Now().UTC()
	b, merr := json.Marshal(f)
	if merr != nil {
		return FailedDelivery{}, false, merr
	}
	if serr := t.store.Set(ctx, t.keys.Failed(recipientID), string(b), t.ttl); serr != nil {
		return FailedDelivery{}, false, serr
	}
	return f, true, nil
}
