package domain

import "time"

// RunRecord is the persisted history of one conversion run.
type RunRecord struct {
	// ID is the unique identifier for the run.
	ID string

	// SourcePath is the converted container.
	SourcePath string

	StartedAt time.Time
	EndedAt   time.Time

	// Workers is the requested parallelism.
	Workers int

	// FastMode is true if the fast profile was used.
	FastMode bool

	Succeeded int
	Failed    int
	Skipped   int

	// Jobs holds one entry per job in submission order.
	Jobs []JobRecord
}

// JobRecord is the persisted form of a JobOutcome.
type JobRecord struct {
	Layer             string
	DestinationFile   string
	Table             string
	Status            JobStatus
	Metadata          MetadataState
	Duration          time.Duration
	Error             string
	AliasesApplied    int
	DomainRowsApplied int
	PrimaryKeyApplied bool
}

// NewJobRecord converts an outcome for persistence.
func NewJobRecord(o JobOutcome) JobRecord {
	rec := JobRecord{
		Layer:             o.Job.Layer.Name,
		DestinationFile:   o.Job.DestinationFile,
		Table:             o.Table,
		Status:            o.Status,
		Metadata:          o.Metadata,
		Duration:          o.Duration,
		AliasesApplied:    o.AliasesApplied,
		DomainRowsApplied: o.DomainRowsApplied,
		PrimaryKeyApplied: o.PrimaryKeyApplied,
	}
	if rec.Table == "" {
		rec.Table = o.Job.DestinationTable
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	return rec
}
