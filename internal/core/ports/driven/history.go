package driven

import (
	"context"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
)

// HistoryStore persists conversion run history.
type HistoryStore interface {
	// RecordRun stores a run and its job records.
	RecordRun(ctx context.Context, run *domain.RunRecord) error

	// GetRun retrieves a run by ID, including its jobs.
	// Returns domain.ErrNotFound if the run does not exist.
	GetRun(ctx context.Context, id string) (*domain.RunRecord, error)

	// ListRuns returns recent runs without their jobs.
	// Results are ordered by start time descending (most recent first).
	ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error)

	// PruneHistory keeps the most recent 'keep' runs.
	PruneHistory(ctx context.Context, keep int) error
}
