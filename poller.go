// poller.go: Interval-driven status providers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// StatusPollerConfig configures a StatusPoller.
type StatusPollerConfig struct {
	Interval time.Duration `json:"interval" yaml:"interval"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
}

// PollResult is the outcome of one poll.
type PollResult struct {
	Report    StatusReport
	Err       error
	Timestamp time.Time
}

// StatusPoller calls a fetch hook on an interval and keeps the latest
// result. Its Hook exposes that result to a StateBridge so polled providers
// render like any other status provider.
//
// Stop clears the interval and waits for the loop to exit; no report is
// delivered after Stop returns.
//
// Example:
//
//	poller := goextensions.NewStatusPoller("metrics-poller", fetch,
//	    goextensions.StatusPollerConfig{Interval: 15 * time.Second, Timeout: 5 * time.Second})
//	if err := poller.Start(); err != nil {
//	    return err
//	}
//	defer poller.Stop()
type StatusPoller struct {
	uid    string
	fetch  Hook[StatusReport]
	config StatusPollerConfig

	logger   Logger
	metrics  *Metrics
	onReport func(uid string, result PollResult)

	latest   atomic.Pointer[PollResult]
	polls    atomic.Int64
	failures atomic.Int64
	running  atomic.Bool
	stopped  atomic.Bool

	mu       sync.Mutex
	stopChan chan struct{}
	doneChan chan struct{}
}

// StatusPollerOption configures a StatusPoller.
type StatusPollerOption func(*StatusPoller)

// WithPollerLogger sets the logger.
func WithPollerLogger(logger Logger) StatusPollerOption {
	return func(p *StatusPoller) { p.logger = logger }
}

// WithPollerMetrics sets the metrics sink.
func WithPollerMetrics(metrics *Metrics) StatusPollerOption {
	return func(p *StatusPoller) { p.metrics = metrics }
}

// WithPollReport registers a callback run after every poll.
func WithPollReport(fn func(uid string, result PollResult)) StatusPollerOption {
	return func(p *StatusPoller) { p.onReport = fn }
}

// NewStatusPoller creates a stopped poller.
func NewStatusPoller(uid string, fetch Hook[StatusReport], config StatusPollerConfig, opts ...StatusPollerOption) *StatusPoller {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.Timeout <= 0 || config.Timeout > config.Interval {
		config.Timeout = config.Interval
	}
	p := &StatusPoller{
		uid:    uid,
		fetch:  fetch,
		config: config,
		logger: NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// UID returns the uid of the contributing extension.
func (p *StatusPoller) UID() string { return p.uid }

// Start begins polling. The first poll runs immediately. Starting a running
// poller is a no-op; a stopped poller cannot be restarted.
func (p *StatusPoller) Start() error {
	if p.stopped.Load() {
		return NewPollerStoppedError(p.uid)
	}
	if !p.running.CompareAndSwap(false, true) {
		return nil
	}

	p.mu.Lock()
	p.stopChan = make(chan struct{})
	p.doneChan = make(chan struct{})
	stop, done := p.stopChan, p.doneChan
	p.mu.Unlock()

	go p.run(stop, done)
	p.logger.Debug("Status poller started", "uid", p.uid, "interval", p.config.Interval)
	return nil
}

// Stop clears the interval and waits for an in-flight poll to finish.
func (p *StatusPoller) Stop() {
	p.stopped.Store(true)
	if !p.running.CompareAndSwap(true, false) {
		return
	}

	p.mu.Lock()
	stop, done := p.stopChan, p.doneChan
	p.mu.Unlock()

	close(stop)
	<-done
	p.logger.Debug("Status poller stopped", "uid", p.uid, "polls", p.polls.Load())
}

// IsRunning reports whether the poll loop is active.
func (p *StatusPoller) IsRunning() bool {
	return p.running.Load()
}

// Poll runs one fetch synchronously and records the result.
func (p *StatusPoller) Poll(ctx context.Context) PollResult {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	report, err := invokeIsolated(p.uid, func() (StatusReport, error) { return p.fetch(ctx) })
	result := PollResult{Report: report, Err: err, Timestamp: timecache.CachedTime()}

	p.polls.Add(1)
	if err != nil {
		p.failures.Add(1)
		p.metrics.recordPoll("fault")
		p.logger.Warn("Status poll failed", "uid", p.uid, "error", err)
	} else {
		p.metrics.recordPoll(string(report.Status))
	}
	p.latest.Store(&result)
	return result
}

// Latest returns the most recent poll result.
func (p *StatusPoller) Latest() (PollResult, bool) {
	result := p.latest.Load()
	if result == nil {
		return PollResult{}, false
	}
	return *result, true
}

// Stats returns the number of polls and failed polls.
func (p *StatusPoller) Stats() (polls, failures int64) {
	return p.polls.Load(), p.failures.Load()
}

// Hook returns a hook yielding the latest poll result. Before the first poll
// completes it returns ErrNoValue, so the poller contributes no report.
func (p *StatusPoller) Hook() Hook[StatusReport] {
	return func(context.Context) (StatusReport, error) {
		result, ok := p.Latest()
		if !ok {
			return StatusReport{}, ErrNoValue
		}
		return result.Report, result.Err
	}
}

func (p *StatusPoller) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer withStackRecover(p.logger)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.pollAndReport(ctx, stop)
	for {
		select {
		case <-ticker.C:
			p.pollAndReport(ctx, stop)
		case <-stop:
			return
		}
	}
}

func (p *StatusPoller) pollAndReport(ctx context.Context, stop <-chan struct{}) {
	result := p.Poll(ctx)
	select {
	case <-stop:
		return
	default:
	}
	if p.onReport != nil {
		p.onReport(p.uid, result)
	}
}
