package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("503 overloaded")

func recordingPolicy(attempts int, base time.Duration) (Policy, *[]time.Duration) {
	var waits []time.Duration
	p := Policy{
		MaxAttempts: attempts,
		BaseDelay:   base,
		Multiplier:  2,
		Sleep: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	}
	return p, &waits
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: 2 * time.Second}
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 0},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.n); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestPolicy_DelayCapped(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Multiplier: 3, MaxDelay: 5 * time.Second}
	assert.Equal(t, 3*time.Second, p.Delay(2))
	assert.Equal(t, 5*time.Second, p.Delay(3))
}

func TestDo_SucceedsOnThirdAttempt(t *testing.T) {
	p, waits := recordingPolicy(3, 2*time.Second)

	res, err := Do(context.Background(), p, func(_ context.Context, attempt int) error {
		if attempt < 3 {
			return errTransient
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 2, res.Retries)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *waits)
}

func TestDo_Exhausted(t *testing.T) {
	p, waits := recordingPolicy(3, time.Millisecond)
	calls := 0

	res, err := Do(context.Background(), p, func(context.Context, int) error {
		calls++
		return errTransient
	}, func(error) bool { return true })

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, res.Retries)
	assert.Len(t, *waits, 2)
}

func TestDo_NonTransientStops(t *testing.T) {
	p, waits := recordingPolicy(3, time.Millisecond)
	permanent := errors.New("bad request")

	res, err := Do(context.Background(), p, func(context.Context, int) error {
		return permanent
	}, func(err error) bool { return err == errTransient })

	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Zero(t, res.Retries)
	assert.Empty(t, *waits)
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{MaxAttempts: 3, BaseDelay: time.Hour}
	res, err := Do(ctx, p, func(context.Context, int) error { return errTransient }, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Attempts)
}

func TestSleep_ZeroDuration(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) error = %v", err)
	}
}
