package httpclient

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_disabledNeverBlocks(t *testing.T) {
	l := NewLimiter(0, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	for i := 0; i < 100; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("disabled limiter should never error, attempt %d: %v", i, err)
		}
	}
}

func TestLimiter_nilIsDisabled(t *testing.T) {
	var l *Limiter
	if err := l.Wait(context.Background()); err != nil {
		t.Errorf("nil *Limiter should be a no-op: %v", err)
	}
}

func TestLimiter_burstThenBlocks(t *testing.T) {
	l := NewLimiter(1, 1)
	ctx := context.Background()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("first Wait within burst: %v", err)
	}
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(short); err == nil {
		t.Errorf("second Wait should block past the burst and hit the context deadline")
	}
}
