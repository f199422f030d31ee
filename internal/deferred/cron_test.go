package deferred

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newStartedCron(t *testing.T) *CronScheduler {
	t.Helper()
	c, err := NewCronScheduler(nil, nil)
	require.NoError(t, err)
	c.Start()
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

func TestCronScheduleAtFires(t *testing.T) {
	c := newStartedCron(t)
	fired := make(chan struct{})
	h := c.ScheduleAt(time.Now().Add(50*time.Millisecond), func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("one-time job did not fire")
	}
	require.Eventually(t, h.Fired, time.Second, 5*time.Millisecond)
}

func TestCronPastTimeRunsImmediately(t *testing.T) {
	c := newStartedCron(t)
	fired := make(chan struct{})
	c.ScheduleAt(time.Now().Add(-time.Minute), func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("past-due job did not run")
	}
}

func TestCronCancelRemovesJob(t *testing.T) {
	c := newStartedCron(t)
	var calls atomic.Int32
	h := c.Schedule(150*time.Millisecond, func() { calls.Add(1) })
	require.True(t, h.Cancel())

	time.Sleep(300 * time.Millisecond)
	require.Zero(t, calls.Load())
}

func TestCronScheduleEvery(t *testing.T) {
	c := newStartedCron(t)
	var calls atomic.Int32
	_, err := c.ScheduleEvery("purge", 20*time.Millisecond, func() { calls.Add(1) })
	require.NoError(t, err)
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	_, err = c.ScheduleEvery("bad", 0, func() {})
	require.Error(t, err)
}
