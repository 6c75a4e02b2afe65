package worker

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

func withTick(t *testing.T, d time.Duration) {
	t.Helper()
	orig := tick
	tick = d
	t.Cleanup(func() { tick = orig })
}

func waitDone(t *testing.T, h *Handle, within time.Duration) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(within):
		t.Fatal("worker did not stop in time")
	}
}

func TestStart_RunsImmediatelyAndPeriodically(t *testing.T) {
	withTick(t, 5*time.Millisecond)
	var runs atomic.Int32
	h := Start(context.Background(), 20*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}, zerolog.Nop())
	defer h.Stop()

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, h.Running())

	h.Stop()
	h.Stop()
	waitDone(t, h, time.Second)
	assert.False(t, h.Running())
}

func TestStop_ObservedWithinTick(t *testing.T) {
	withTick(t, 10*time.Millisecond)
	started := make(chan struct{}, 1)
	h := Start(context.Background(), time.Hour, func(context.Context) error {
		started <- struct{}{}
		return nil
	}, zerolog.Nop())
	<-started

	h.Stop()
	waitDone(t, h, 500*time.Millisecond)
}

func TestInFlightCycleIsNotCancelled(t *testing.T) {
	withTick(t, 5*time.Millisecond)
	entered := make(chan struct{})
	release := make(chan struct{})
	var cancelled atomic.Bool

	ctx, cancel := context.WithCancel(context.Background())
	h := Start(ctx, time.Hour, func(cycleCtx context.Context) error {
		close(entered)
		<-release
		cancelled.Store(cycleCtx.Err() != nil)
		return errors.New("logged only")
	}, zerolog.Nop())

	<-entered
	cancel()
	h.Stop()
	assert.True(t, h.Running(), "loop waits for the in-flight cycle")
	close(release)

	waitDone(t, h, time.Second)
	assert.False(t, cancelled.Load())
}

func TestManager_SingleWorker(t *testing.T) {
	withTick(t, 5*time.Millisecond)
	var runs atomic.Int32
	m := NewManager(context.Background(), func(context.Context) error {
		runs.Add(1)
		return nil
	}, zerolog.Nop())

	assert.False(t, m.IsRunning())
	assert.True(t, m.Start(time.Hour))
	assert.False(t, m.Start(time.Hour), "second start is a no-op")
	assert.True(t, m.IsRunning())
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)

	m.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx))
	assert.False(t, m.IsRunning())

	assert.True(t, m.Start(0), "restart after stop")
	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, time.Millisecond)
	m.Stop()
	require.NoError(t, m.Wait(ctx))
}

func TestManager_StopWithoutStart(t *testing.T) {
	m := NewManager(context.Background(), func(context.Context) error { return nil }, zerolog.Nop())
	m.Stop()
	assert.False(t, m.IsRunning())
	require.NoError(t, m.Wait(context.Background()))
}
