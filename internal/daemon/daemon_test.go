package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iberrors "git.home.luguber.info/inful/imagebuilder/internal/errors"
	"git.home.luguber.info/inful/imagebuilder/internal/metrics"
	"git.home.luguber.info/inful/imagebuilder/internal/pipeline"
	"git.home.luguber.info/inful/imagebuilder/internal/retry"
)

type fakeBuilder struct {
	mu      sync.Mutex
	calls   atomic.Int32
	active  atomic.Int32
	overlap atomic.Bool
	release chan struct{}
	err     error
	// locked is the number of leading calls that find the output lock held.
	locked int32
}

func (f *fakeBuilder) Run(ctx context.Context) (*pipeline.Report, error) {
	if f.active.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.active.Add(-1)
	if f.calls.Add(1) <= f.locked {
		return nil, iberrors.LockHeld("images/wm/.imagebuilder.lock")
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Report{RunID: "run-1", Built: 1, Outcome: metrics.OutcomeSuccess}, nil
}

func startDaemon(t *testing.T, d *Daemon) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()
	t.Cleanup(stop)
	return stop, errc
}

func TestDaemonRequiresATrigger(t *testing.T) {
	d := New(&fakeBuilder{}, Options{}, nil, nil)
	err := d.Run(context.Background())
	require.Error(t, err)
	assert.True(t, iberrors.IsCategory(err, iberrors.CategoryValidation))
}

func TestDaemonRejectsBadSchedule(t *testing.T) {
	d := New(&fakeBuilder{}, Options{Schedule: "every now and then"}, nil, nil)
	err := d.Run(context.Background())
	require.Error(t, err)
	assert.True(t, iberrors.IsCategory(err, iberrors.CategoryValidation))
}

func TestDaemonCoalescesTriggers(t *testing.T) {
	b := &fakeBuilder{release: make(chan struct{})}
	d := New(b, Options{RunOnStart: true}, nil, nil)
	stop, done := startDaemon(t, d)

	require.Eventually(t, func() bool { return b.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	// One run is in flight; further requests fold into a single pending run.
	assert.True(t, d.Trigger("test"))
	assert.False(t, d.Trigger("test"))
	assert.False(t, d.Trigger("test"))

	b.release <- struct{}{}
	require.Eventually(t, func() bool { return b.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	b.release <- struct{}{}
	require.Eventually(t, func() bool { return d.Runs() == 2 }, time.Second, 5*time.Millisecond)

	stop()
	require.NoError(t, <-done)
	assert.False(t, b.overlap.Load())
	assert.Equal(t, int32(2), b.calls.Load())
}

func TestDaemonFinishesInFlightRun(t *testing.T) {
	b := &fakeBuilder{release: make(chan struct{})}
	d := New(b, Options{RunOnStart: true}, nil, nil)
	stop, done := startDaemon(t, d)

	require.Eventually(t, func() bool { return b.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	stop()
	select {
	case <-done:
		t.Fatal("daemon returned while a run was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(b.release)
	require.NoError(t, <-done)
	assert.Equal(t, int64(1), d.Runs())
}

func TestDaemonRunsOnSourceChange(t *testing.T) {
	dir := t.TempDir()
	b := &fakeBuilder{}
	d := New(b, Options{Watch: []WatchTarget{{Dir: dir}}, Debounce: 30 * time.Millisecond}, nil, nil)
	_, _ = startDaemon(t, d)

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nature_5.jpg"), []byte("x"), 0o600))
	require.Eventually(t, func() bool { return d.Runs() >= 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestHealthEndpoint(t *testing.T) {
	reg := prom.NewRegistry()
	metrics.NewPrometheusRecorder(reg).SetWorkers(3)

	b := &fakeBuilder{}
	d := New(b, Options{RunOnStart: true}, reg, nil)
	stop, done := startDaemon(t, d)
	require.Eventually(t, func() bool { return d.Runs() == 1 }, time.Second, 5*time.Millisecond)
	stop()
	require.NoError(t, <-done)

	rec := httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "healthy", st.Status)
	assert.Equal(t, int64(1), st.Runs)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, "startup", st.LastRun.Trigger)
	assert.Equal(t, "success", st.LastRun.Outcome)
	assert.Equal(t, "Watermark generation complete: wrote=1 skipped=0 missing=0 failed=0", st.LastRun.Summary)

	rec = httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "imagebuilder_workers 3")
}

func TestHealthDegradedAfterAbortedRun(t *testing.T) {
	b := &fakeBuilder{err: iberrors.LockHeld("images/wm/.imagebuilder.lock")}
	d := New(b, Options{RunOnStart: true}, nil, nil)
	stop, done := startDaemon(t, d)
	require.Eventually(t, func() bool { return d.Runs() == 1 }, time.Second, 5*time.Millisecond)
	stop()
	require.NoError(t, <-done)

	st := d.CurrentStatus()
	assert.Equal(t, "degraded", st.Status)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, "error", st.LastRun.Outcome)
	assert.NotEmpty(t, st.LastRun.Error)
}

func TestDaemonRetriesHeldLock(t *testing.T) {
	b := &fakeBuilder{locked: 2}
	d := New(b, Options{
		RunOnStart: true,
		LockRetry:  retry.NewPolicy(retry.BackoffFixed, 5*time.Millisecond, 5*time.Millisecond, 3),
	}, nil, nil)
	stop, done := startDaemon(t, d)
	require.Eventually(t, func() bool { return d.Runs() == 1 }, time.Second, 5*time.Millisecond)
	stop()
	require.NoError(t, <-done)

	assert.Equal(t, int32(3), b.calls.Load())
	st := d.CurrentStatus()
	require.NotNil(t, st.LastRun)
	assert.Equal(t, "success", st.LastRun.Outcome)
}

func TestDaemonGivesUpOnHeldLock(t *testing.T) {
	b := &fakeBuilder{locked: 10}
	d := New(b, Options{
		RunOnStart: true,
		LockRetry:  retry.NewPolicy(retry.BackoffFixed, time.Millisecond, time.Millisecond, 2),
	}, nil, nil)
	stop, done := startDaemon(t, d)
	require.Eventually(t, func() bool { return d.Runs() == 1 }, time.Second, 5*time.Millisecond)
	stop()
	require.NoError(t, <-done)

	assert.Equal(t, int32(3), b.calls.Load())
	assert.Equal(t, "degraded", d.CurrentStatus().Status)
}

func TestDaemonServesAndShutsDown(t *testing.T) {
	d := New(&fakeBuilder{}, Options{RunOnStart: true, MetricsAddr: "127.0.0.1:0"}, nil, nil)
	stop, done := startDaemon(t, d)
	require.Eventually(t, func() bool { return d.Runs() == 1 }, time.Second, 5*time.Millisecond)
	stop()
	require.NoError(t, <-done)
}

func TestDaemonRejectsBadMetricsAddr(t *testing.T) {
	d := New(&fakeBuilder{}, Options{RunOnStart: true, MetricsAddr: "127.0.0.1:99999"}, nil, nil)
	err := d.Run(context.Background())
	assert.True(t, iberrors.IsCategory(err, iberrors.CategoryValidation))
}
