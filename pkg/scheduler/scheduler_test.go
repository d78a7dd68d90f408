package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsTaskPeriodically(t *testing.T) {
	var runs atomic.Int32
	s := New("test", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, Config{Interval: 10 * time.Millisecond})

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return runs.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerStopHaltsTask(t *testing.T) {
	var runs atomic.Int32
	s := New("test", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, Config{Interval: 10 * time.Millisecond})

	s.Start(context.Background())
	s.Stop()

	seen := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, seen, runs.Load())
}

func TestSchedulerSurvivesTaskErrors(t *testing.T) {
	var runs atomic.Int32
	s := New("test", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	}, Config{Interval: 10 * time.Millisecond})

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}
