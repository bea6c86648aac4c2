package testutil

import (
	"context"
	"testing"
	"time"
)

// Timeouts for tests, ordered by the scale of work the test performs.
const (
	// WaitShort is for acquiring locks, channel sends and other
	// in-process coordination.
	WaitShort = 10 * time.Second
	// WaitMedium is for websocket round trips over loopback.
	WaitMedium = 15 * time.Second
	// WaitLong is for tests that drive many reconnect attempts.
	WaitLong = 25 * time.Second
)

// Intervals for polling in tests.
const (
	IntervalFast   = 25 * time.Millisecond
	IntervalMedium = 250 * time.Millisecond
	IntervalSlow   = time.Second
)

// Context returns a context that is canceled when the test ends or the
// timeout elapses, whichever comes first.
func Context(t testing.TB, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
