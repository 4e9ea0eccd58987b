package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Token carries the two cooperative stop flags of one loop run. Nothing
// preempts an in-flight batch; the loop polls the flags between batches,
// between retries and while sleeping.
type Token struct {
	stopRequested atomic.Bool
	forceStop     atomic.Bool

	once sync.Once
	done chan struct{}
}

func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Stop raises stopRequested, and forceStop too when force is set.
func (t *Token) Stop(force bool) {
	t.stopRequested.Store(true)
	if force {
		t.forceStop.Store(true)
	}
	t.once.Do(func() { close(t.done) })
}

func (t *Token) Stopped() bool { return t.stopRequested.Load() || t.forceStop.Load() }

func (t *Token) Forced() bool { return t.forceStop.Load() }

// Done is closed on the first Stop.
func (t *Token) Done() <-chan struct{} { return t.done }

// Sleep waits d unless the token is stopped or ctx ends first.
// It reports whether the full delay elapsed.
func (t *Token) Sleep(ctx context.Context, d time.Duration) bool {
	if t.Stopped() {
		return false
	}
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-t.done:
		return false
	case <-ctx.Done():
		return false
	}
}
