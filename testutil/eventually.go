package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Eventually is like require.Eventually except it takes a context so that
// the condition can do context-aware work. The context must have a deadline,
// which bounds the whole poll loop.
func Eventually(ctx context.Context, t testing.TB, condition func(ctx context.Context) bool, tick time.Duration) {
	t.Helper()

	if _, ok := ctx.Deadline(); !ok {
		panic("developer error: must provide a context with a deadline")
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			require.Fail(t, "Eventually: context expired before condition held")
			return
		case <-ticker.C:
			if condition(ctx) {
				return
			}
		}
	}
}
