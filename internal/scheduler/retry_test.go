package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leadscout/leadscout/internal/lifecycle"
)

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(3, time.Millisecond, time.Second)

	cases := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "nil error", err: nil, attempt: 1, want: false},
		{name: "generic failure", err: errors.New("boom"), attempt: 1, want: true},
		{name: "attempt cap reached", err: errors.New("boom"), attempt: 3, want: false},
		{name: "context canceled", err: context.Canceled, attempt: 1, want: false},
		{name: "deadline exceeded", err: fmt.Errorf("run: %w", context.DeadlineExceeded), attempt: 1, want: false},
		{name: "cooperative cancel", err: fmt.Errorf("run: %w", lifecycle.ErrCancelled), attempt: 1, want: false},
		{
			name:    "connection refused",
			err:     &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
			attempt: 1,
			want:    true,
		},
		{
			name:    "connection reset",
			err:     fmt.Errorf("fetch: %w", &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}),
			attempt: 2,
			want:    true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, p.ShouldRetry(tc.err, tc.attempt))
		})
	}
}

func TestRetryPolicy_BackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(5, 100*time.Millisecond, 400*time.Millisecond)

	first := p.Backoff(0)
	require.GreaterOrEqual(t, first, 50*time.Millisecond)
	require.LessOrEqual(t, first, 100*time.Millisecond)

	// Far past the cap the delay stays bounded by maxDelay.
	late := p.Backoff(10)
	require.LessOrEqual(t, late, 400*time.Millisecond)
	require.GreaterOrEqual(t, late, 200*time.Millisecond)
}
