package metrics

import (
	"context"
	"testing"

	"relnotify/internal/kv"
	logx "relnotify/pkg/logx"
)

func TestRecorderCounters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kv.NewMemory()
	r := NewRecorder(store, kv.NewKeyspace("test"), logx.Nop())

	r.RunStarted(ctx)
	r.RunStarted(ctx)
	r.RunSucceeded(ctx)
	r.RunFailed(ctx)

	cases := []struct {
		counter string
		want    int64
	}{
		{CounterTotalRuns, 2},
		{CounterSuccess, 1},
		{CounterFail, 1},
	}
	for _, tc := range cases {
		got, err := r.Counter(ctx, tc.counter)
		if err != nil || got != tc.want {
			t.Errorf("Counter(%s) = (%d, %v), want %d", tc.counter, got, err, tc.want)
		}
	}
}

func TestCounterAbsentAndGarbage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kv.NewMemory()
	keys := kv.NewKeyspace("test")
	r := NewRecorder(store, keys, logx.Nop())

	if got, err := r.Counter(ctx, CounterTotalRuns); err != nil || got != 0 {
		t.Errorf("absent counter = (%d, %v), want 0", got, err)
	}
	store.ForceSet(keys.Metric(CounterTotalRuns), "not-a-number")
	if got, err := r.Counter(ctx, CounterTotalRuns); err != nil || got != 0 {
		t.Errorf("non-integer counter = (%d, %v), want 0", got, err)
	}
}
