package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitUnlimitedReturnsImmediately(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	require.NoError(t, l.Wait(context.Background(), "https://example.com"))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitThrottlesSecondToken(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultQPS: 20, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://example.com"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://example.com"))
	require.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultQPS: 0.001, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://example.com"))

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://example.com"))
}

func TestWaitIsolatesDomains(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultQPS: 1, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://a.example"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example"))
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWaitBucketsUnparsableURLsTogether(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultQPS: 20, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "://not-a-url"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "%%also-bad"))
	require.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Contains(t, l.limiters, "unknown")
	require.Len(t, l.limiters, 1)
}
