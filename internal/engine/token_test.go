package engine

import (
	"context"
	"testing"
	"time"
)

func TestTokenStopInterruptsSleep(t *testing.T) {
	t.Parallel()

	tok := NewToken()
	done := make(chan bool)
	go func() { done <- tok.Sleep(context.Background(), time.Hour) }()
	tok.Stop(false)
	tok.Stop(true)
	select {
	case full := <-done:
		if full {
			t.Fatalf("sleep reported a full delay")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("sleep not interrupted")
	}
	if !tok.Stopped() || !tok.Forced() {
		t.Fatalf("flags not raised")
	}
	if tok.Sleep(context.Background(), time.Millisecond) {
		t.Fatalf("stopped token must not sleep")
	}
}

func TestTokenSleepElapses(t *testing.T) {
	t.Parallel()

	tok := NewToken()
	if !tok.Sleep(context.Background(), time.Millisecond) {
		t.Fatalf("expected full delay")
	}
	if tok.Stopped() || tok.Forced() {
		t.Fatalf("fresh token stopped")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if tok.Sleep(ctx, time.Hour) {
		t.Fatalf("canceled context must cut the sleep")
	}
}
