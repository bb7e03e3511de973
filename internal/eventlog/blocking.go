package eventlog

import (
	"context"
	"time"
)

// Waiter returns a channel closed by the next Notify. Take it before
// checking for data so an append between the check and the wait is not lost.
func (l *Log) Waiter() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.notifyCh
}

// WaitForAppend blocks until either a new append occurs, timeout elapses or
// ctx is done. It returns true if woken by an append.
func (l *Log) WaitForAppend(ctx context.Context, timeout time.Duration) bool {
	return Wait(ctx, l.Waiter(), timeout)
}

// Wait blocks on a channel obtained from Waiter.
func Wait(ctx context.Context, ch <-chan struct{}, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}
