package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffStaysWithinBoundedMax(t *testing.T) {
	for attempt := 0; attempt < backoffRetries+3; attempt++ {
		d := backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, backoffMax+backoffMax/4, "backoff must stay within the bounded max plus jitter")
	}
}

func TestSleepReturnsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sleep(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSleepReturnsAfterDuration(t *testing.T) {
	start := time.Now()
	err := sleep(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestConnectFailsWhenContextEndsDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Connect(ctx, "ws://127.0.0.1:1", nil, nil)
	require.Error(t, err)
}
