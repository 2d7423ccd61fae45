package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"schoolhub/internal/config"
	"schoolhub/internal/logs"
	"schoolhub/internal/metrics"
)

type fakePurger struct {
	mu      sync.Mutex
	calls   int
	cutoffs []time.Time
	purged  int64
	err     error
}

func (f *fakePurger) PurgeRefreshSessions(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.purged, f.err
}

func (f *fakePurger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPurgeOnceCountsRemovedSessions(t *testing.T) {
	purger := &fakePurger{purged: 3}
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	before := testutil.ToFloat64(metrics.PurgedSessions)

	got := purgeOnce(context.Background(), purger, time.Second, now, logs.Discard())
	if got != 3 {
		t.Fatalf("expected 3 purged, got %d", got)
	}
	if !purger.cutoffs[0].Equal(now) {
		t.Fatalf("expected cutoff %v, got %v", now, purger.cutoffs[0])
	}
	if delta := testutil.ToFloat64(metrics.PurgedSessions) - before; delta != 3 {
		t.Fatalf("expected metric delta 3, got %v", delta)
	}
}

func TestPurgeOnceSwallowsErrors(t *testing.T) {
	purger := &fakePurger{purged: 5, err: errors.New("db down")}
	if got := purgeOnce(context.Background(), purger, time.Second, time.Now(), logs.Discard()); got != 0 {
		t.Fatalf("expected 0 on error, got %d", got)
	}
}

func TestSessionPurgeJobRunsUntilCancelled(t *testing.T) {
	purger := &fakePurger{}
	ctx, cancel := context.WithCancel(context.Background())
	cfg := config.Config{SessionPurgeEnabled: true, SessionPurgeInterval: 5 * time.Millisecond, SessionPurgeTimeout: time.Second}

	StartSessionPurgeJob(ctx, cfg, purger, logs.Discard())

	deadline := time.Now().Add(2 * time.Second)
	for purger.callCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("job did not tick, calls=%d", purger.callCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	time.Sleep(20 * time.Millisecond)
	stopped := purger.callCount()
	time.Sleep(30 * time.Millisecond)
	if purger.callCount() != stopped {
		t.Fatalf("job kept running after cancel")
	}
}

func TestSessionPurgeJobDisabled(t *testing.T) {
	purger := &fakePurger{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartSessionPurgeJob(ctx, config.Config{SessionPurgeInterval: time.Millisecond}, purger, logs.Discard())
	time.Sleep(20 * time.Millisecond)
	if purger.callCount() != 0 {
		t.Fatalf("disabled job should not run")
	}
}
