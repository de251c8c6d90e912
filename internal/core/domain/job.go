package domain

import (
	"path/filepath"
	"time"
)

// ConversionJob describes copying one source layer into one destination table.
// It is created before dispatch and never modified afterwards.
type ConversionJob struct {
	// Layer is the source layer to copy.
	Layer LayerDescriptor

	// SourcePath is the source container the layer belongs to.
	SourcePath string

	// DestinationFile is the SQLite/SpatiaLite file written to.
	DestinationFile string

	// DestinationTable is the table name requested in the destination.
	DestinationTable string

	// FastMode selects the fast (non crash-safe) destination profile.
	FastMode bool

	PreserveAliases    bool
	PreserveDomains    bool
	PreservePrimaryKey bool
}

// Profile returns the destination profile the job writes with.
func (j ConversionJob) Profile() Profile {
	if j.FastMode {
		return ProfileFast
	}
	return ProfileDefault
}

// WantsMetadata returns true if any metadata kind is to be preserved.
func (j ConversionJob) WantsMetadata() bool {
	return j.PreserveAliases || j.PreserveDomains || j.PreservePrimaryKey
}

// DestinationKey returns the normalised destination path used to group
// jobs that share one file.
func (j ConversionJob) DestinationKey() string {
	if abs, err := filepath.Abs(j.DestinationFile); err == nil {
		return abs
	}
	return filepath.Clean(j.DestinationFile)
}

// JobStatus is the terminal state of a job.
type JobStatus string

// Job statuses.
const (
	JobSucceeded JobStatus = "success"
	JobFailed    JobStatus = "failed"
	JobSkipped   JobStatus = "skipped"
)

// MetadataState says how much of the requested metadata reached the destination.
type MetadataState string

// Metadata states.
const (
	// MetadataNotRequested means every preserve flag was off.
	MetadataNotRequested MetadataState = "not_requested"

	// MetadataApplied means everything requested was written.
	MetadataApplied MetadataState = "applied"

	// MetadataPartial means the transaction committed but some metadata
	// could not be extracted from the source.
	MetadataPartial MetadataState = "partial"

	// MetadataNotApplied means nothing was written.
	MetadataNotApplied MetadataState = "not_applied"
)

// OutcomeCategory is the user-facing classification of a job.
type OutcomeCategory string

// Outcome categories.
const (
	CategoryConvertedWithMetadata    OutcomeCategory = "converted, metadata applied"
	CategoryConvertedMetadataMissing OutcomeCategory = "converted, metadata partially or not applied"
	CategoryNotConverted             OutcomeCategory = "not converted"
)

// JobOutcome is produced exactly once per job and never mutated afterwards.
type JobOutcome struct {
	Job      ConversionJob
	Status   JobStatus
	Duration time.Duration

	// Err is nil on a full success. Otherwise it matches one of
	// ErrConversionFailed, ErrDestinationCorruptSuspected, ErrMetadataApplyFailed
	// or ErrCancelled.
	Err error

	// Metadata reports metadata application for converted jobs.
	Metadata MetadataState

	// Table is the resolved destination table name.
	Table string

	AliasesApplied    int
	DomainRowsApplied int
	PrimaryKeyApplied bool

	// Warnings lists skipped metadata.
	Warnings []string
}

// Converted returns true if the layer data reached the destination.
func (o JobOutcome) Converted() bool {
	return o.Status == JobSucceeded
}

// Category classifies the outcome for the run summary.
func (o JobOutcome) Category() OutcomeCategory {
	if !o.Converted() {
		return CategoryNotConverted
	}
	switch o.Metadata {
	case MetadataApplied, MetadataNotRequested:
		return CategoryConvertedWithMetadata
	default:
		return CategoryConvertedMetadataMissing
	}
}
