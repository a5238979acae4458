package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/JakeFAU/stockbot/internal/monitor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// gatedRunner blocks each run until release is closed.
type gatedRunner struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedRunner) Run(ctx context.Context) monitor.Summary {
	g.calls.Add(1)
	g.once.Do(func() { close(g.started) })
	<-g.release
	return monitor.Summary{}
}

type countingRunner struct {
	calls atomic.Int32
}

func (c *countingRunner) Run(context.Context) monitor.Summary {
	c.calls.Add(1)
	return monitor.Summary{}
}

type panicRunner struct{}

func (panicRunner) Run(context.Context) monitor.Summary {
	panic("boom")
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, Config{Interval: time.Minute}, nil)
	require.Error(t, err)
	_, err = New(&countingRunner{}, Config{}, nil)
	require.Error(t, err)
}

func TestRunCheckSkipsWhileRunning(t *testing.T) {
	runner := newGatedRunner()
	s, err := New(runner, Config{Interval: time.Hour}, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.True(t, s.RunCheck(context.Background()))
	}()
	<-runner.started
	assert.True(t, s.Running())

	assert.False(t, s.RunCheck(context.Background()))
	assert.False(t, s.ForceCheck())
	assert.Equal(t, int32(1), runner.calls.Load())

	close(runner.release)
	wg.Wait()
	assert.False(t, s.Running())
}

func TestForceCheckRunsInBackground(t *testing.T) {
	runner := newGatedRunner()
	s, err := New(runner, Config{Interval: time.Hour}, nil)
	require.NoError(t, err)

	require.True(t, s.ForceCheck())
	<-runner.started
	assert.False(t, s.ForceCheck(), "second trigger during a run must be skipped")

	close(runner.release)
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, int32(1), runner.calls.Load())
	assert.False(t, s.Running())
}

func TestGuardReleasedAfterPanic(t *testing.T) {
	s, err := New(panicRunner{}, Config{Interval: time.Hour}, nil)
	require.NoError(t, err)

	assert.True(t, s.RunCheck(context.Background()))
	assert.False(t, s.Running())
	assert.True(t, s.RunCheck(context.Background()))
}

func TestStartRunsInitialAndPeriodic(t *testing.T) {
	runner := &countingRunner{}
	s, err := New(runner, Config{Interval: 30 * time.Millisecond, InitialDelay: 5 * time.Millisecond}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	after := runner.calls.Load()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, after, runner.calls.Load(), "no runs after Stop")
}

func TestStopWaitsForInflightWithoutCancelling(t *testing.T) {
	runner := newGatedRunner()
	s, err := New(runner, Config{Interval: time.Hour}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	require.True(t, s.ForceCheck())
	<-runner.started

	short, stopShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stopShort()
	require.ErrorIs(t, s.Stop(short), context.DeadlineExceeded)
	assert.True(t, s.Running(), "Stop must not interrupt the cycle")

	close(runner.release)
	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.Running())
}

func TestStopBoundedForTimerDrivenCycle(t *testing.T) {
	runner := newGatedRunner()
	s, err := New(runner, Config{Interval: time.Hour, InitialDelay: time.Millisecond}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	<-runner.started

	short, stopShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stopShort()
	begin := time.Now()
	require.ErrorIs(t, s.Stop(short), context.DeadlineExceeded)
	assert.Less(t, time.Since(begin), 500*time.Millisecond)
	assert.True(t, s.Running(), "Stop must not interrupt the cycle")

	close(runner.release)
	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.Running())
}

func TestStopWithoutStart(t *testing.T) {
	s, err := New(&countingRunner{}, Config{Interval: time.Hour}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Stop(context.Background()))
}
