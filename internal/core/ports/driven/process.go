package driven

import (
	"context"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
)

// ProcessRunner launches the bulk-copy backend for one job.
type ProcessRunner interface {
	// Check verifies the backend can be invoked, returning its version.
	// Returns an error wrapping domain.ErrBackendUnavailable otherwise.
	Check(ctx context.Context) (string, error)

	// Start launches the copy and returns without waiting for it.
	Start(ctx context.Context, job domain.ConversionJob) (ProcessHandle, error)
}

// ProcessHandle is a running or finished bulk-copy process.
// All methods are non-blocking and safe for concurrent use.
type ProcessHandle interface {
	// Poll returns the current state.
	Poll() domain.ProcessState

	// Cancel requests a graceful stop. It does not wait for the process
	// to exit.
	Cancel() error

	// Kill stops the process immediately. It does not wait either.
	Kill() error

	// Activity returns a counter that grows whenever the process prints
	// anything, including progress ticks without a line break.
	Activity() int64

	// Tail returns up to n of the most recent output lines.
	Tail(n int) []string
}
