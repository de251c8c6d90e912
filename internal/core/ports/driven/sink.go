package driven

import (
	"context"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
)

// MetadataSink writes metadata into a destination file.
//
// Callers must hold the destination lock for the file: implementations
// never lock on their own.
type MetadataSink interface {
	// Apply writes md into the table as one transaction. On error nothing
	// is left applied. The returned result carries the resolved table name.
	// Returns domain.ErrNotFound if the table does not exist.
	Apply(ctx context.Context, destFile, table string, md domain.LayerMetadata) (domain.ApplyResult, error)

	// Optimize applies the tuning pragmas and refreshes planner statistics.
	Optimize(ctx context.Context, destFile string, tuning domain.Tuning) error
}

// MetadataReader reads back metadata written to a destination file.
type MetadataReader interface {
	// ReadMetadata returns the registry contents of every table of destFile,
	// or of table alone when it is not empty.
	// Returns domain.ErrNotFound if the file or the table does not exist.
	ReadMetadata(ctx context.Context, destFile, table string) ([]domain.TableMetadata, error)
}
