package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors represent conversion failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyExists indicates a destination file exists and overwrite was not requested.
	ErrAlreadyExists = errors.New("already exists")

	// ErrSourceUnavailable indicates the source container could not be opened.
	// It is fatal to the run: no job is started.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrBackendUnavailable indicates the bulk-copy backend cannot be invoked.
	ErrBackendUnavailable = errors.New("bulk-copy backend unavailable")

	// ErrMetadataUnavailable indicates one piece of metadata could not be extracted.
	// It is local: that metadata kind is skipped and the run continues.
	ErrMetadataUnavailable = errors.New("metadata unavailable")

	// ErrConversionFailed indicates the bulk-copy process exited abnormally.
	ErrConversionFailed = errors.New("conversion failed")

	// ErrDestinationCorruptSuspected indicates an earlier job failed while
	// writing to the same destination file, so its state is no longer trusted.
	ErrDestinationCorruptSuspected = errors.New("destination corrupt suspected")

	// ErrMetadataApplyFailed indicates data was converted but metadata
	// application was rolled back.
	ErrMetadataApplyFailed = errors.New("metadata apply failed")

	// ErrCancelled indicates the run was aborted before the job could run.
	ErrCancelled = errors.New("cancelled")
)

// ConversionError is the payload of a failed bulk-copy process.
// It matches ErrConversionFailed with errors.Is.
type ConversionError struct {
	// Layer is the source layer being copied.
	Layer string

	// ExitCode is the process exit status, -1 when terminated by a signal.
	ExitCode int

	// Signal describes the terminating signal, empty for a normal exit.
	Signal string

	// Output holds the last lines the process printed.
	Output []string
}

// Error implements error.
func (e *ConversionError) Error() string {
	var b strings.Builder
	if e.Signal != "" {
		fmt.Fprintf(&b, "conversion of %q terminated: %s", e.Layer, e.Signal)
	} else {
		fmt.Fprintf(&b, "conversion of %q failed with exit code %d", e.Layer, e.ExitCode)
	}
	if n := len(e.Output); n > 0 {
		b.WriteString(": ")
		b.WriteString(e.Output[n-1])
	}
	return b.String()
}

// Is reports whether target is ErrConversionFailed.
func (e *ConversionError) Is(target error) bool {
	return target == ErrConversionFailed
}
