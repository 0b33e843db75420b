// Package metrics keeps best-effort run counters in the kv store.
// Nothing here affects correctness; every write is fire-and-forget.
package metrics

import (
	"context"
	"time"

	"relnotify/internal/kv"
	logx "relnotify/pkg/logx"
)

const (
	CounterTotalRuns = "total_runs"
	CounterSuccess   = "success_count"
	CounterFail      = "fail_count"

	tsLastRun     = "last_run_at"
	tsLastSuccess = "last_success_at"
	tsLastError   = "last_error_at"
)

type Recorder struct {
	store kv.Store
	keys  kv.Keyspace
	log   logx.Logger
}

func NewRecorder(store kv.Store, keys kv.Keyspace, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, keys: keys, log: log}
}

// best-effort: metrics failures are logged, never propagated.
func (r *Recorder) bump(ctx context.Context, counter string) {
	if _, err := r.store.Incr(ctx, r.keys.Metric(counter)); err != nil {
		r.log.Debug("metrics increment failed", logx.String("counter", counter), logx.Err(err))
	}
}

func (r *Recorder) stamp(ctx context.Context, name string) {
	v := time.Now().UTC().Format(time.RFC3339Nano)
	if err := r.store.Set(ctx, r.keys.Metric(name), v, 0); err != nil {
		r.log.Debug("metrics timestamp failed", logx.String("name", name), logx.Err(err))
	}
}

func (r *Recorder) RunStarted(ctx context.Context) {
	r.bump(ctx, CounterTotalRuns)
	r.stamp(ctx, tsLastRun)
}

func (r *Recorder) RunSucceeded(ctx context.Context) {
	r.bump(ctx, CounterSuccess)
	r.stamp(ctx, tsLastSuccess)
}

func (r *Recorder) RunFailed(ctx context.Context) {
	r.bump(ctx, CounterFail)
	r.stamp(ctx, tsLastError)
}

// Counter reads a counter value for operational inspection.
func (r *Recorder) Counter(ctx context.Context, name string) (int64, error) {
	v, err := r.store.Get(ctx, r.keys.Metric(name))
	if err != nil || !v.Found {
		return 0, err
	}
	var n int64
	for _, c := range v.Str {
		if c < '0' || c > '9' {
			return 0, nil
		}
		n = n*10 + int64(c-'0')
	}
	return n, nil
}
