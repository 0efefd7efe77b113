// poller_test.go: Tests for interval-driven status pollers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingFetch(calls *atomic.Int64, report StatusReport) Hook[StatusReport] {
	return func(context.Context) (StatusReport, error) {
		calls.Add(1)
		return report, nil
	}
}

func TestStatusPoller_PollsImmediatelyAndOnInterval(t *testing.T) {
	var calls atomic.Int64
	var reports atomic.Int64
	poller := NewStatusPoller("p", countingFetch(&calls, StatusReport{Status: StatusWarning, Message: "slow"}),
		StatusPollerConfig{Interval: 20 * time.Millisecond},
		WithPollReport(func(uid string, result PollResult) {
			if uid == "p" && result.Err == nil {
				reports.Add(1)
			}
		}))

	require.NoError(t, poller.Start())
	require.NoError(t, poller.Start(), "starting twice is a no-op")
	assert.True(t, poller.IsRunning())

	eventually(t, 2*time.Second, func() bool { return calls.Load() >= 3 }, "poller keeps polling")
	poller.Stop()
	assert.False(t, poller.IsRunning())

	latest, ok := poller.Latest()
	require.True(t, ok)
	assert.Equal(t, StatusWarning, latest.Report.Status)
	assert.False(t, latest.Timestamp.IsZero())
	assert.GreaterOrEqual(t, reports.Load(), int64(3))
}

func TestStatusPoller_NoReportAfterStop(t *testing.T) {
	var calls atomic.Int64
	var reports atomic.Int64
	poller := NewStatusPoller("p", countingFetch(&calls, StatusReport{Status: StatusInfo}),
		StatusPollerConfig{Interval: 5 * time.Millisecond},
		WithPollReport(func(string, PollResult) { reports.Add(1) }))

	require.NoError(t, poller.Start())
	eventually(t, 2*time.Second, func() bool { return reports.Load() >= 1 }, "first report")
	poller.Stop()

	after := reports.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, reports.Load())

	err := poller.Start()
	require.Error(t, err)
	assert.True(t, hasCode(err, ErrCodePollerStopped))
	poller.Stop()
}

func TestStatusPoller_StopInterruptsInFlightPoll(t *testing.T) {
	entered := make(chan struct{})
	fetch := func(ctx context.Context) (StatusReport, error) {
		close(entered)
		<-ctx.Done()
		return StatusReport{}, ctx.Err()
	}
	var reports atomic.Int64
	poller := NewStatusPoller("p", fetch, StatusPollerConfig{Interval: time.Hour},
		WithPollReport(func(string, PollResult) { reports.Add(1) }))

	require.NoError(t, poller.Start())
	<-entered

	stopped := make(chan struct{})
	go func() {
		poller.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt the in-flight poll")
	}
	assert.Equal(t, int64(0), reports.Load())
}

func TestStatusPoller_Hook(t *testing.T) {
	var fail atomic.Bool
	fetch := func(context.Context) (StatusReport, error) {
		if fail.Load() {
			return StatusReport{}, errors.New("endpoint down")
		}
		return StatusReport{Status: StatusError, Message: "disk full"}, nil
	}
	poller := NewStatusPoller("p", fetch, StatusPollerConfig{Interval: time.Hour})
	hook := poller.Hook()

	_, err := hook(context.Background())
	assert.ErrorIs(t, err, ErrNoValue, "nothing to report before the first poll")

	poller.Poll(context.Background())
	got, err := hook(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusReport{Status: StatusError, Message: "disk full"}, got)

	fail.Store(true)
	result := poller.Poll(context.Background())
	assert.True(t, IsRuntimeFault(result.Err))
	_, err = hook(context.Background())
	assert.Same(t, result.Err, err)

	// the bridge keeps the poll fault as is instead of wrapping it again
	_, err = invokeIsolated("p", func() (StatusReport, error) { return hook(context.Background()) })
	assert.Same(t, result.Err, err)

	polls, failures := poller.Stats()
	assert.Equal(t, int64(2), polls)
	assert.Equal(t, int64(1), failures)
}

func TestStatusPoller_PanickingFetch(t *testing.T) {
	poller := NewStatusPoller("p", func(context.Context) (StatusReport, error) { panic("bad fetch") },
		StatusPollerConfig{Interval: time.Hour})

	result := poller.Poll(context.Background())
	assert.True(t, IsRuntimeFault(result.Err))
}

func TestStatusPoller_TimeoutClampedToInterval(t *testing.T) {
	var deadline time.Duration
	fetch := func(ctx context.Context) (StatusReport, error) {
		d, _ := ctx.Deadline()
		deadline = time.Until(d)
		return StatusReport{Status: StatusInfo}, nil
	}
	poller := NewStatusPoller("p", fetch, StatusPollerConfig{Interval: 50 * time.Millisecond, Timeout: time.Hour})
	poller.Poll(context.Background())
	assert.LessOrEqual(t, deadline, 50*time.Millisecond)
	assert.Equal(t, "p", poller.UID())
}
