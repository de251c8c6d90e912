package domain

import "time"

// PollPolicy controls how often a running conversion is checked.
type PollPolicy struct {
	// InitialInterval is the first wait after launch.
	InitialInterval time.Duration

	// MaxInterval caps the wait between checks.
	MaxInterval time.Duration

	// Multiplier grows the interval after each quiet check.
	Multiplier float64

	// QuietChecks is how many checks without new output happen
	// before the interval starts to grow.
	QuietChecks int

	// StatusInterval is the minimum gap between "still running" log lines.
	StatusInterval time.Duration
}

// DefaultPollPolicy returns the cadence used when nothing is configured.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      1.1,
		QuietChecks:     10,
		StatusInterval:  30 * time.Second,
	}
}

// ProcessPhase is the coarse state of a bulk-copy process.
type ProcessPhase int

// Process phases.
const (
	ProcessRunning ProcessPhase = iota
	ProcessExited
	ProcessSignaled
)

// ProcessState is a non-blocking snapshot of a bulk-copy process.
type ProcessState struct {
	Phase ProcessPhase

	// ExitCode is valid when Phase is ProcessExited.
	ExitCode int

	// Signal describes the termination when Phase is ProcessSignaled.
	Signal string
}

// Done returns true once the process has terminated.
func (s ProcessState) Done() bool {
	return s.Phase != ProcessRunning
}

// Succeeded returns true for a zero exit status.
func (s ProcessState) Succeeded() bool {
	return s.Phase == ProcessExited && s.ExitCode == 0
}
