package daemon

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := NewScheduler()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func TestSchedulerJobs(t *testing.T) {
	tests := []struct {
		name    string
		add     func(s *Scheduler) (string, error)
		wantErr bool
	}{
		{"nightly cron", func(s *Scheduler) (string, error) { return s.ScheduleCron("nightly", "30 3 * * *", func() {}) }, false},
		{"six fields rejected", func(s *Scheduler) (string, error) { return s.ScheduleCron("seconds", "0 30 3 * * *", func() {}) }, true},
		{"garbage cron", func(s *Scheduler) (string, error) { return s.ScheduleCron("bad", "every night", func() {}) }, true},
		{"interval", func(s *Scheduler) (string, error) { return s.ScheduleEvery("interval", 15*time.Minute, func() {}) }, false},
		{"zero interval", func(s *Scheduler) (string, error) { return s.ScheduleEvery("interval", 0, func() {}) }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := tt.add(newTestScheduler(t))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, id)
		})
	}
}

func TestSchedulerIntervalFires(t *testing.T) {
	s := newTestScheduler(t)
	var ticks atomic.Int32
	_, err := s.ScheduleEvery("tick", 20*time.Millisecond, func() { ticks.Add(1) })
	require.NoError(t, err)
	s.Start()
	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerStopHonoursContext(t *testing.T) {
	s, err := NewScheduler()
	require.NoError(t, err)
	release := make(chan struct{})
	var running atomic.Bool
	_, err = s.ScheduleEvery("slow", 10*time.Millisecond, func() {
		running.Store(true)
		<-release
	})
	require.NoError(t, err)
	s.Start()
	require.Eventually(t, running.Load, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = s.Stop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	close(release)
}

func TestSchedulerStopIdle(t *testing.T) {
	s, err := NewScheduler()
	require.NoError(t, err)
	s.Start()
	assert.NoError(t, s.Stop(context.Background()))
}

func TestDaemonRunsOnInterval(t *testing.T) {
	b := &fakeBuilder{}
	d := New(b, Options{Interval: 20 * time.Millisecond}, nil, nil)
	_, _ = startDaemon(t, d)
	require.Eventually(t, func() bool { return d.Runs() >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, b.overlap.Load())
}
