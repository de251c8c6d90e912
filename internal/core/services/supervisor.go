package services

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driven"
	"github.com/custodia-labs/gdb2spatialite/internal/logger"
)

// Supervisor launches bulk-copy processes and watches them without
// blocking: between two status checks the waiting goroutine sleeps on a
// timer, and the interval grows geometrically while the process is quiet.
type Supervisor struct {
	runner driven.ProcessRunner
	policy domain.PollPolicy
	grace  time.Duration
}

// DefaultCancelGrace is how long a cancelled copy may take to exit
// after the interrupt before it is killed.
const DefaultCancelGrace = 5 * time.Second

// NewSupervisor creates a supervisor.
func NewSupervisor(runner driven.ProcessRunner, policy domain.PollPolicy) *Supervisor {
	if policy.InitialInterval <= 0 {
		policy = domain.DefaultPollPolicy()
	}
	return &Supervisor{runner: runner, policy: policy, grace: DefaultCancelGrace}
}

// WithCancelGrace sets the interrupt-to-kill delay.
func (s *Supervisor) WithCancelGrace(d time.Duration) *Supervisor {
	s.grace = d
	return s
}

// Check verifies the bulk-copy backend can be invoked.
func (s *Supervisor) Check(ctx context.Context) (string, error) {
	return s.runner.Check(ctx)
}

// Start launches the bulk copy for job and returns immediately.
func (s *Supervisor) Start(ctx context.Context, job domain.ConversionJob) (driven.ProcessHandle, error) {
	h, err := s.runner.Start(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("start %q: %w", job.Layer.Name, err)
	}
	return h, nil
}

// Poll returns the process state without blocking.
func (s *Supervisor) Poll(h driven.ProcessHandle) domain.ProcessState {
	return h.Poll()
}

// Cancel asks the process to stop. It does not wait.
func (s *Supervisor) Cancel(h driven.ProcessHandle) error {
	return h.Cancel()
}

// Wait polls h until it terminates. When ctx is done first, the process
// is stopped and ctx.Err() is returned with its final state. Wait never
// returns while the process is still running.
func (s *Supervisor) Wait(ctx context.Context, h driven.ProcessHandle, label string) (domain.ProcessState, error) {
	b := s.newBackOff()
	started := time.Now()

	status := rate.Sometimes{Interval: s.policy.StatusInterval}
	status.Do(func() { logger.Debug("[%s] supervising bulk copy", label) })

	lastActivity := h.Activity()
	quiet := 0
	interval := s.policy.InitialInterval

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.stop(h, label), ctx.Err()
		case <-timer.C:
		}

		state := h.Poll()
		if state.Done() {
			logger.Debug("[%s] bulk copy finished after %s", label, time.Since(started).Round(time.Millisecond))
			return state, nil
		}

		if activity := h.Activity(); activity != lastActivity {
			lastActivity = activity
			quiet = 0
			restart(b)
			interval = s.policy.InitialInterval
		} else {
			quiet++
			if quiet > s.policy.QuietChecks {
				interval = b.NextBackOff()
			}
		}

		status.Do(func() {
			logger.Info("[%s] conversion running (%s elapsed)", label, time.Since(started).Round(time.Second))
		})
		timer.Reset(interval)
	}
}

// stop interrupts h and waits for it to exit, killing it once the grace
// period has passed.
func (s *Supervisor) stop(h driven.ProcessHandle, label string) domain.ProcessState {
	if err := h.Cancel(); err != nil {
		logger.Warn("[%s] cancel failed: %v", label, err)
	}

	interval := s.policy.InitialInterval
	deadline := time.Now().Add(s.grace)
	killed := false
	for {
		state := h.Poll()
		if state.Done() {
			return state
		}
		if !killed && !time.Now().Before(deadline) {
			logger.Warn("[%s] still running %s after interrupt, killing", label, s.grace)
			if err := h.Kill(); err != nil {
				logger.Error("[%s] kill failed: %v", label, err)
			}
			killed = true
		}
		time.Sleep(interval)
	}
}

// newBackOff builds the quiet-period cadence. It never gives up: a
// conversion has no timeout, so MaxElapsedTime is zero.
func (s *Supervisor) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     s.policy.InitialInterval,
		RandomizationFactor: 0,
		Multiplier:          s.policy.Multiplier,
		MaxInterval:         s.policy.MaxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	restart(b)
	return b
}

// restart rewinds b so its next interval is one step above the initial
// interval: the supervisor has already waited the initial interval for
// each quiet check before it starts growing.
func restart(b *backoff.ExponentialBackOff) {
	b.Reset()
	b.NextBackOff()
}

// Cadence returns the first n intervals the supervisor waits for a
// process that prints nothing.
func (s *Supervisor) Cadence(n int) []time.Duration {
	b := s.newBackOff()
	out := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		if i <= s.policy.QuietChecks {
			out = append(out, s.policy.InitialInterval)
			continue
		}
		out = append(out, b.NextBackOff())
	}
	return out
}
