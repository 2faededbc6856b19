package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supercopa/totem/internal/logging"
)

type countingEvictor struct {
	calls int
	n     int
	err   error
}

func (e *countingEvictor) Evict(ctx context.Context) (int, error) {
	e.calls++
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("job context has no deadline")
	}
	return e.n, e.err
}

type countingLimiter struct {
	maxIdle time.Duration
}

func (l *countingLimiter) Cleanup(maxIdle time.Duration) int {
	l.maxIdle = maxIdle
	return 3
}

func TestNewDefaultRegistersJobs(t *testing.T) {
	evictor := &countingEvictor{n: 2}
	limiter := &countingLimiter{}

	s, err := NewDefault(evictor, limiter, logging.NewNop())
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 2)

	require.NoError(t, s.RunNow("evict_sessions"))
	assert.Equal(t, 1, evictor.calls)

	require.NoError(t, s.RunNow("cleanup_rate_limiter"))
	assert.Equal(t, LimiterMaxIdle, limiter.maxIdle)

	assert.Error(t, s.RunNow("missing"))
}

func TestNewDefaultSkipsNilDependencies(t *testing.T) {
	s, err := NewDefault(nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, s.cron.Entries())
}

func TestJobErrorIsReturned(t *testing.T) {
	s, err := NewDefault(&countingEvictor{err: errors.New("redis down")}, nil, logging.NewNop())
	require.NoError(t, err)
	assert.EqualError(t, s.RunNow("evict_sessions"), "redis down")
}

func TestAddValidates(t *testing.T) {
	s := New(logging.NewNop())
	run := func(context.Context) error { return nil }

	assert.Error(t, s.Add(Job{Spec: "@every 1m", Run: run}))
	assert.Error(t, s.Add(Job{Name: "bad", Spec: "not a spec", Run: run}))
	require.NoError(t, s.Add(Job{Name: "ok", Spec: "@every 1m", Run: run}))
	assert.Error(t, s.Add(Job{Name: "ok", Spec: "@every 1m", Run: run}))
}

func TestScheduledJobRunsAndStopCancels(t *testing.T) {
	s := New(logging.NewNop())
	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add(Job{Name: "tick", Spec: "@every 1s", Run: func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}}))

	s.Start()
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.ErrorIs(t, s.ctx.Err(), context.Canceled)
}
