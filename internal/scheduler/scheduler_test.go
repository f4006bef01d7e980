package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartupJobRunsOnce(t *testing.T) {
	s, err := NewScheduler(zerolog.Nop())
	require.NoError(t, err)

	var runs atomic.Int32
	require.NoError(t, s.AddStartupJob(context.Background(), "backfill", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestIntervalJobRepeatsAfterFailure(t *testing.T) {
	s, err := NewScheduler(zerolog.Nop())
	require.NoError(t, err)

	var runs atomic.Int32
	require.NoError(t, s.AddIntervalJob(context.Background(), "follow", 20*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("rpc down")
	}))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestIntervalJobRejectsZeroInterval(t *testing.T) {
	s, err := NewScheduler(zerolog.Nop())
	require.NoError(t, err)
	defer s.Stop()

	err = s.AddIntervalJob(context.Background(), "follow", 0, func(ctx context.Context) error { return nil })
	assert.Error(t, err)
}

func TestCancelledContextSkipsRun(t *testing.T) {
	s, err := NewScheduler(zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var runs atomic.Int32
	require.NoError(t, s.AddStartupJob(ctx, "backfill", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start()
	time.Sleep(100 * time.Millisecond)
	s.Stop()
	assert.Equal(t, int32(0), runs.Load())
}
