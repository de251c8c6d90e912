package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
)

// Converter is the entry point for one conversion run.
type Converter interface {
	// ListLayers enumerates the layers of a source container.
	ListLayers(ctx context.Context, sourcePath string) ([]domain.LayerDescriptor, error)

	// Run converts the requested layers. It returns an error wrapping
	// domain.ErrSourceUnavailable or domain.ErrBackendUnavailable when the
	// run cannot start. Per-job failures are reported in the report only.
	Run(ctx context.Context, req RunRequest) (*RunReport, error)
}

// JobSpec requests one layer copy. Empty fields take run-level defaults.
type JobSpec struct {
	// Layer is the source layer name.
	Layer string

	// Destination overrides RunRequest.Destination.
	Destination string

	// Table overrides the destination table name (defaults to Layer).
	Table string

	// FastMode overrides RunRequest.FastMode when set.
	FastMode *bool
}

// RunRequest describes a conversion run.
type RunRequest struct {
	// SourcePath is the source container.
	SourcePath string

	// Destination is the default destination file.
	Destination string

	// Jobs lists layers to convert. Empty means every layer of the source.
	Jobs []JobSpec

	// Workers is the requested parallelism.
	Workers int

	// Overwrite removes existing destination files before the run.
	Overwrite bool

	// FastMode selects the fast profile for jobs that do not override it.
	FastMode bool

	PreserveAliases    bool
	PreserveDomains    bool
	PreservePrimaryKey bool
}

// RunReport is what a run returns for summary rendering.
type RunReport struct {
	// RunID uniquely identifies the run.
	RunID string

	StartedAt time.Time
	Elapsed   time.Duration

	// BackendVersion is the bulk-copy backend's version line.
	BackendVersion string

	// Outcomes holds one outcome per job in submission order.
	Outcomes []domain.JobOutcome
}

// Count returns the number of outcomes in a category.
func (r *RunReport) Count(c domain.OutcomeCategory) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Category() == c {
			n++
		}
	}
	return n
}

// Converted returns the number of jobs whose data reached the destination.
func (r *RunReport) Converted() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Converted() {
			n++
		}
	}
	return n
}

// Inspector reads back what earlier runs produced.
type Inspector interface {
	// ListRuns returns recent runs, most recent first, without their jobs.
	ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error)

	// GetRun returns one run with its jobs.
	GetRun(ctx context.Context, id string) (*domain.RunRecord, error)

	// DestinationMetadata returns the metadata registered in a destination
	// file, for one table or for all when table is empty.
	DestinationMetadata(ctx context.Context, destFile, table string) ([]domain.TableMetadata, error)
}
