package schedulercore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoop_catalogTickRefreshesEveryEnabledPortal(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	seen := map[string]bool{}

	l := New(
		func() []string { return []string{"p1", "p2"} },
		func() []string { return nil },
		func(ctx context.Context, portalID string) error {
			atomic.AddInt32(&calls, 1)
			mu.Lock()
			seen[portalID] = true
			mu.Unlock()
			return nil
		},
		func(ctx context.Context, sourceID string) error { return nil },
		0, 0, nil,
	)

	l.catalogTick(context.Background())

	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 refresh calls, got %d", calls)
	}
	if !seen["p1"] || !seen["p2"] {
		t.Fatalf("expected both portals refreshed, got %#v", seen)
	}
}

func TestLoop_refreshPortalNowQueuesOneFollowupWhenBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32

	l := New(nil, nil,
		func(ctx context.Context, portalID string) error {
			n := atomic.AddInt32(&calls, 1)
			if n == 1 {
				close(started)
				<-release
			}
			return nil
		},
		func(ctx context.Context, sourceID string) error { return nil },
		0, 0, nil,
	)

	go l.RefreshPortalNow(context.Background(), "p1")
	<-started

	// Two reentrant calls while the first is in flight must coalesce into
	// exactly one queued follow-up, not one per call.
	l.RefreshPortalNow(context.Background(), "p1")
	l.RefreshPortalNow(context.Background(), "p1")

	close(release)

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&calls) < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for queued follow-up refresh, calls=%d", calls)
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected exactly 2 total calls (initial + one coalesced followup), got %d", got)
	}
}

func TestLoop_runProtectedRecoversPanic(t *testing.T) {
	l := New(nil, nil, nil, nil, 0, 0, nil)
	ran := false
	l.runProtected(func() {
		defer func() { ran = true }()
		panic("boom")
	})
	if !ran {
		t.Fatal("expected deferred cleanup inside the panicking func to run")
	}
}

func TestLoop_epgTickRefreshesEveryEnabledSource(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	l := New(
		func() []string { return nil },
		func() []string { return []string{"s1", "s2"} },
		func(ctx context.Context, portalID string) error { return nil },
		func(ctx context.Context, sourceID string) error {
			mu.Lock()
			seen[sourceID] = true
			mu.Unlock()
			return nil
		},
		0, 0, nil,
	)
	l.epgTick(context.Background())
	if !seen["s1"] || !seen["s2"] {
		t.Fatalf("expected both sources refreshed, got %#v", seen)
	}
}
