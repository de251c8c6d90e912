package driving

import (
	"context"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
)

// Scheduler runs conversion jobs under the destination-file contention policy.
type Scheduler interface {
	// Schedule runs every job and returns one outcome per job, in the order
	// the jobs were supplied. Jobs sharing a destination file run one at a
	// time in supplied order; distinct destination files run concurrently
	// up to parallelism.
	Schedule(ctx context.Context, jobs []domain.ConversionJob, parallelism int) ([]domain.JobOutcome, error)
}

// JobObserver is notified of job lifecycle events.
// Calls may arrive concurrently from different workers.
type JobObserver interface {
	// JobStarted is called once the destination lock is held.
	JobStarted(job domain.ConversionJob)

	// JobFinished is called once per job with its final outcome.
	JobFinished(outcome domain.JobOutcome)
}
