package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driving"
	"github.com/custodia-labs/gdb2spatialite/internal/logger"
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// outputTailLines is how much process output a failed job keeps.
const outputTailLines = 10

// metadataApplier applies a converted job's metadata.
type metadataApplier interface {
	Apply(ctx context.Context, job domain.ConversionJob) (domain.ApplyResult, error)
}

// destinationOptimizer refreshes a destination once its group is done.
type destinationOptimizer interface {
	Optimize(ctx context.Context, destFile string, tuning domain.Tuning) error
}

// Scheduler runs conversion jobs. Jobs are grouped by destination file:
// a group runs one job at a time in supplied order, and distinct groups
// run concurrently up to the requested parallelism.
type Scheduler struct {
	supervisor *Supervisor
	applier    metadataApplier
	optimizer  destinationOptimizer
	locks      *DestinationLocks

	mu        sync.RWMutex
	observers []driving.JobObserver
}

// NewScheduler creates a scheduler. applier and optimizer may be nil,
// in which case metadata is not applied or destinations are not
// optimised. locks may be shared with other writers of the same files.
func NewScheduler(
	supervisor *Supervisor,
	applier metadataApplier,
	optimizer destinationOptimizer,
	locks *DestinationLocks,
) *Scheduler {
	if locks == nil {
		locks = NewDestinationLocks()
	}
	return &Scheduler{
		supervisor: supervisor,
		applier:    applier,
		optimizer:  optimizer,
		locks:      locks,
	}
}

// AddObserver registers a job lifecycle observer.
func (s *Scheduler) AddObserver(o driving.JobObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// destinationGroup is the ordered list of job indices sharing one file.
type destinationGroup struct {
	key     string
	indices []int
}

// partition groups jobs by destination file in order of first appearance.
func partition(jobs []domain.ConversionJob) []destinationGroup {
	var groups []destinationGroup
	pos := make(map[string]int)
	for i, job := range jobs {
		key := job.DestinationKey()
		n, ok := pos[key]
		if !ok {
			n = len(groups)
			pos[key] = n
			groups = append(groups, destinationGroup{key: key})
		}
		groups[n].indices = append(groups[n].indices, i)
	}
	return groups
}

// Schedule runs every job and returns outcomes in the order jobs were
// supplied. Per-job failures are carried in the outcomes. The returned
// error is non-nil only for invalid arguments or when ctx was cancelled,
// in which case unstarted jobs are reported as skipped.
func (s *Scheduler) Schedule(
	ctx context.Context,
	jobs []domain.ConversionJob,
	parallelism int,
) ([]domain.JobOutcome, error) {
	if parallelism < 1 {
		return nil, fmt.Errorf("%w: parallelism must be at least 1, got %d", domain.ErrInvalidInput, parallelism)
	}

	outcomes := make([]domain.JobOutcome, len(jobs))
	groups := partition(jobs)
	if len(groups) == 0 {
		return outcomes, nil
	}

	workers := min(parallelism, len(groups))
	logger.Debug("Scheduling %d job(s) over %d destination(s) with %d worker(s)", len(jobs), len(groups), workers)

	// Jobs never fail the group: their errors live in the outcomes.
	var g errgroup.Group
	g.SetLimit(workers)
	for _, group := range groups {
		g.Go(func() error {
			s.runGroup(ctx, jobs, group, outcomes)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes, ctx.Err()
}

// runGroup drains one destination group sequentially. Each outcome is
// written to its own slot, so groups never share memory.
func (s *Scheduler) runGroup(
	ctx context.Context,
	jobs []domain.ConversionJob,
	group destinationGroup,
	outcomes []domain.JobOutcome,
) {
	var (
		poisoned error
		tuning   *domain.Tuning
	)

	for n, i := range group.indices {
		job := jobs[i]

		if poisoned != nil {
			s.finish(&outcomes[i], skippedOutcome(job, poisoned))
			continue
		}
		if err := ctx.Err(); err != nil {
			s.finish(&outcomes[i], skippedOutcome(job, fmt.Errorf("%w: %w", domain.ErrCancelled, err)))
			continue
		}

		release, err := s.locks.Acquire(ctx, group.key)
		if err != nil {
			s.finish(&outcomes[i], skippedOutcome(job, fmt.Errorf("%w: %w", domain.ErrCancelled, err)))
			continue
		}
		s.started(job)
		out := s.runJob(ctx, job)
		release()
		s.finish(&outcomes[i], out)

		if out.Converted() {
			t := domain.TuningFor(job.Profile())
			tuning = &t
			continue
		}

		// A failed write leaves a shared file in an unknown state.
		last := n == len(group.indices)-1
		if !last && !errors.Is(out.Err, domain.ErrCancelled) && fileExists(job.DestinationFile) {
			poisoned = fmt.Errorf("%w: %s was left behind by failed layer %q",
				domain.ErrDestinationCorruptSuspected, job.DestinationFile, job.Layer.Name)
			logger.Warn("Skipping remaining jobs for %s: %v", job.DestinationFile, poisoned)
		}
	}

	if tuning != nil && poisoned == nil && ctx.Err() == nil {
		s.optimize(ctx, group.key, jobs[group.indices[0]].DestinationFile, *tuning)
	}
}

// runJob converts one layer and applies its metadata. The caller holds
// the destination lock for the whole call.
func (s *Scheduler) runJob(ctx context.Context, job domain.ConversionJob) domain.JobOutcome {
	start := time.Now()
	label := job.Layer.Name
	out := domain.JobOutcome{
		Job:      job,
		Table:    job.DestinationTable,
		Metadata: domain.MetadataNotRequested,
	}
	if job.WantsMetadata() {
		out.Metadata = domain.MetadataNotApplied
	}

	done := func(status domain.JobStatus, err error) domain.JobOutcome {
		out.Status = status
		out.Err = err
		out.Duration = time.Since(start)
		return out
	}

	logger.Info("[%s] converting %d feature(s) into %s (%s profile)",
		label, job.Layer.FeatureCount, job.DestinationFile, job.Profile())

	h, err := s.supervisor.Start(ctx, job)
	if err != nil {
		logger.Error("[%s] %v", label, err)
		return done(domain.JobFailed, &domain.ConversionError{
			Layer:    label,
			ExitCode: -1,
			Output:   []string{err.Error()},
		})
	}

	state, err := s.supervisor.Wait(ctx, h, label)
	if err != nil {
		logger.Warn("[%s] conversion aborted: %v", label, err)
		return done(domain.JobFailed, fmt.Errorf("%w: %s: %w", domain.ErrCancelled, label, err))
	}
	if !state.Succeeded() {
		cerr := &domain.ConversionError{
			Layer:    label,
			ExitCode: state.ExitCode,
			Signal:   state.Signal,
			Output:   h.Tail(outputTailLines),
		}
		if state.Phase == domain.ProcessSignaled {
			cerr.ExitCode = -1
		}
		logger.Error("[%s] %v", label, cerr)
		return done(domain.JobFailed, cerr)
	}
	logger.Info("[%s] converted in %s", label, time.Since(start).Round(time.Millisecond))

	if !job.WantsMetadata() {
		return done(domain.JobSucceeded, nil)
	}
	if s.applier == nil {
		out.Warnings = append(out.Warnings, "metadata application is disabled")
		return done(domain.JobSucceeded, nil)
	}

	res, err := s.applier.Apply(ctx, job)
	if res.Table != "" {
		out.Table = res.Table
	}
	out.Warnings = append(out.Warnings, res.Warnings...)
	if err != nil {
		logger.Error("[%s] %v", label, err)
		return done(domain.JobSucceeded, err)
	}

	out.AliasesApplied = res.AliasesApplied
	out.DomainRowsApplied = res.DomainRowsApplied
	out.PrimaryKeyApplied = res.PrimaryKeyApplied
	out.Metadata = domain.MetadataApplied
	if res.Partial() {
		out.Metadata = domain.MetadataPartial
	}
	return done(domain.JobSucceeded, nil)
}

// optimize runs the destination's post-write tuning under its lock.
func (s *Scheduler) optimize(ctx context.Context, key, destFile string, tuning domain.Tuning) {
	if s.optimizer == nil {
		return
	}
	release, err := s.locks.Acquire(ctx, key)
	if err != nil {
		return
	}
	defer release()

	if err := s.optimizer.Optimize(ctx, destFile, tuning); err != nil {
		logger.Warn("Optimising %s failed: %v", destFile, err)
		return
	}
	logger.Debug("Optimised %s", destFile)
}

func (s *Scheduler) started(job domain.ConversionJob) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.observers {
		o.JobStarted(job)
	}
}

func (s *Scheduler) finish(slot *domain.JobOutcome, out domain.JobOutcome) {
	*slot = out
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.observers {
		o.JobFinished(out)
	}
}

func skippedOutcome(job domain.ConversionJob, err error) domain.JobOutcome {
	logger.Info("[%s] skipped: %v", job.Layer.Name, err)
	out := domain.JobOutcome{
		Job:      job,
		Status:   domain.JobSkipped,
		Err:      err,
		Table:    job.DestinationTable,
		Metadata: domain.MetadataNotRequested,
	}
	if job.WantsMetadata() {
		out.Metadata = domain.MetadataNotApplied
	}
	return out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
