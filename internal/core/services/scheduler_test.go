package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driving"
)

// Ensure fakes implement interfaces
var _ metadataApplier = (*fakeApplier)(nil)
var _ driving.JobObserver = (*recordingObserver)(nil)

func newTestScheduler(runner *fakeRunner, applier metadataApplier, sink *fakeSink) *Scheduler {
	var opt destinationOptimizer
	if sink != nil {
		opt = sink
	}
	return NewScheduler(NewSupervisor(runner, testPollPolicy()), applier, opt, NewDestinationLocks())
}

// ==================== Scheduler Tests ====================

func TestScheduler_SharedDestinationRunsSequentially(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "city.sqlite")

	runner := newFakeRunner()
	runner.fallback = processScript{duration: 30 * time.Millisecond}
	applier := &fakeApplier{}
	s := newTestScheduler(runner, applier, nil)

	jobs := []domain.ConversionJob{newJob("Parcels", dest), newJob("Roads", dest)}
	outcomes, err := s.Schedule(context.Background(), jobs, 4)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	for _, o := range outcomes {
		assert.Equal(t, domain.JobSucceeded, o.Status)
		assert.NoError(t, o.Err)
	}
	assert.Equal(t, 1, runner.rec.maxFor(jobs[0].DestinationKey()))
	assert.Equal(t, []string{"Parcels", "Roads"}, runner.rec.started())
	assert.Equal(t, 2, applier.callCount())
}

func TestScheduler_SharedDestinationManyJobsNeverOverlap(t *testing.T) {
	dir := t.TempDir()
	shared := filepath.Join(dir, "shared.sqlite")

	runner := newFakeRunner()
	runner.fallback = processScript{duration: 10 * time.Millisecond}
	s := newTestScheduler(runner, &fakeApplier{}, nil)

	var jobs []domain.ConversionJob
	for _, layer := range []string{"a", "b", "c", "d", "e", "f"} {
		jobs = append(jobs, newJob(layer, shared))
	}

	outcomes, err := s.Schedule(context.Background(), jobs, 8)
	require.NoError(t, err)
	for _, o := range outcomes {
		assert.Equal(t, domain.JobSucceeded, o.Status)
	}
	assert.Equal(t, 1, runner.rec.maxFor(jobs[0].DestinationKey()))
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, runner.rec.started())
}

func TestScheduler_DistinctDestinationsRunConcurrently(t *testing.T) {
	dir := t.TempDir()

	runner := newFakeRunner()
	runner.fallback = processScript{duration: 80 * time.Millisecond}
	s := newTestScheduler(runner, nil, nil)

	jobs := []domain.ConversionJob{
		newJob("a", filepath.Join(dir, "a.sqlite")),
		newJob("b", filepath.Join(dir, "b.sqlite")),
		newJob("c", filepath.Join(dir, "c.sqlite")),
	}

	outcomes, err := s.Schedule(context.Background(), jobs, 3)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.GreaterOrEqual(t, runner.rec.maxGlobal, 2)
}

func TestScheduler_ParallelismCapsGroups(t *testing.T) {
	dir := t.TempDir()

	runner := newFakeRunner()
	runner.fallback = processScript{duration: 10 * time.Millisecond}
	s := newTestScheduler(runner, nil, nil)

	jobs := []domain.ConversionJob{
		newJob("a", filepath.Join(dir, "a.sqlite")),
		newJob("b", filepath.Join(dir, "b.sqlite")),
		newJob("c", filepath.Join(dir, "c.sqlite")),
	}

	_, err := s.Schedule(context.Background(), jobs, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.rec.maxGlobal)
}

func TestScheduler_OutcomesFollowInputOrder(t *testing.T) {
	dir := t.TempDir()

	runner := newFakeRunner()
	runner.scripts["slow"] = processScript{duration: 60 * time.Millisecond}
	runner.scripts["fast"] = processScript{duration: time.Millisecond}
	s := newTestScheduler(runner, nil, nil)

	jobs := []domain.ConversionJob{
		newJob("slow", filepath.Join(dir, "slow.sqlite")),
		newJob("fast", filepath.Join(dir, "fast.sqlite")),
	}

	outcomes, err := s.Schedule(context.Background(), jobs, 2)
	require.NoError(t, err)
	assert.Equal(t, "slow", outcomes[0].Job.Layer.Name)
	assert.Equal(t, "fast", outcomes[1].Job.Layer.Name)
}

func TestScheduler_FailedConversionSkipsMetadata(t *testing.T) {
	dir := t.TempDir()

	runner := newFakeRunner()
	runner.scripts["Broken"] = processScript{
		duration: time.Millisecond,
		exitCode: 1,
		output:   []string{"ERROR 1: Unable to open datasource"},
	}
	applier := &fakeApplier{}
	s := newTestScheduler(runner, applier, nil)

	outcomes, err := s.Schedule(context.Background(),
		[]domain.ConversionJob{newJob("Broken", filepath.Join(dir, "out.sqlite"))}, 1)
	require.NoError(t, err)

	o := outcomes[0]
	assert.Equal(t, domain.JobFailed, o.Status)
	assert.ErrorIs(t, o.Err, domain.ErrConversionFailed)

	var cerr *domain.ConversionError
	require.True(t, errors.As(o.Err, &cerr))
	assert.Equal(t, "Broken", cerr.Layer)
	assert.Equal(t, 1, cerr.ExitCode)
	assert.Equal(t, []string{"ERROR 1: Unable to open datasource"}, cerr.Output)

	assert.Equal(t, 0, applier.callCount())
	assert.Equal(t, domain.CategoryNotConverted, o.Category())
}

func TestScheduler_StartErrorFailsJob(t *testing.T) {
	runner := newFakeRunner()
	runner.scripts["x"] = processScript{startErr: errors.New("exec: ogr2ogr: not found")}
	applier := &fakeApplier{}
	s := newTestScheduler(runner, applier, nil)

	outcomes, err := s.Schedule(context.Background(),
		[]domain.ConversionJob{newJob("x", filepath.Join(t.TempDir(), "x.sqlite"))}, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, outcomes[0].Status)
	assert.ErrorIs(t, outcomes[0].Err, domain.ErrConversionFailed)
	assert.Equal(t, 0, applier.callCount())
}

func TestScheduler_FailureWithLeftoverFileSkipsRestOfGroup(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "shared.sqlite")
	other := filepath.Join(dir, "other.sqlite")
	require.NoError(t, os.WriteFile(dest, []byte("partial"), 0o600))

	runner := newFakeRunner()
	runner.scripts["first"] = processScript{duration: time.Millisecond, exitCode: 1}
	s := newTestScheduler(runner, &fakeApplier{}, nil)

	jobs := []domain.ConversionJob{
		newJob("first", dest),
		newJob("second", dest),
		newJob("elsewhere", other),
		newJob("third", dest),
	}

	outcomes, err := s.Schedule(context.Background(), jobs, 2)
	require.NoError(t, err)

	assert.Equal(t, domain.JobFailed, outcomes[0].Status)
	assert.Equal(t, domain.JobSkipped, outcomes[1].Status)
	assert.ErrorIs(t, outcomes[1].Err, domain.ErrDestinationCorruptSuspected)
	assert.Equal(t, domain.JobSucceeded, outcomes[2].Status)
	assert.Equal(t, domain.JobSkipped, outcomes[3].Status)
	assert.ErrorIs(t, outcomes[3].Err, domain.ErrDestinationCorruptSuspected)

	assert.NotContains(t, runner.rec.started(), "second")
	assert.NotContains(t, runner.rec.started(), "third")
}

func TestScheduler_FailureWithoutFileContinuesGroup(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "never-created.sqlite")

	runner := newFakeRunner()
	runner.scripts["first"] = processScript{duration: time.Millisecond, exitCode: 1}
	s := newTestScheduler(runner, &fakeApplier{}, nil)

	outcomes, err := s.Schedule(context.Background(),
		[]domain.ConversionJob{newJob("first", dest), newJob("second", dest)}, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, outcomes[0].Status)
	assert.Equal(t, domain.JobSucceeded, outcomes[1].Status)
}

func TestScheduler_MetadataApplyFailureKeepsConversion(t *testing.T) {
	runner := newFakeRunner()
	applier := &fakeApplier{err: domain.ErrMetadataApplyFailed}
	s := newTestScheduler(runner, applier, nil)

	outcomes, err := s.Schedule(context.Background(),
		[]domain.ConversionJob{newJob("Parcels", filepath.Join(t.TempDir(), "p.sqlite"))}, 1)
	require.NoError(t, err)

	o := outcomes[0]
	assert.Equal(t, domain.JobSucceeded, o.Status)
	assert.True(t, o.Converted())
	assert.ErrorIs(t, o.Err, domain.ErrMetadataApplyFailed)
	assert.Equal(t, domain.MetadataNotApplied, o.Metadata)
	assert.Equal(t, domain.CategoryConvertedMetadataMissing, o.Category())
}

func TestScheduler_MetadataCounts(t *testing.T) {
	tests := []struct {
		name     string
		result   domain.ApplyResult
		state    domain.MetadataState
		category domain.OutcomeCategory
	}{
		{
			name:     "applied",
			result:   domain.ApplyResult{Table: "parcels", AliasesApplied: 3, DomainRowsApplied: 5, PrimaryKeyApplied: true},
			state:    domain.MetadataApplied,
			category: domain.CategoryConvertedWithMetadata,
		},
		{
			name:     "partial",
			result:   domain.ApplyResult{Table: "parcels", AliasesApplied: 3, Warnings: []string{"domain LandUse missing"}},
			state:    domain.MetadataPartial,
			category: domain.CategoryConvertedMetadataMissing,
		},
		{
			name:     "nothing to apply",
			result:   domain.ApplyResult{Table: "parcels"},
			state:    domain.MetadataApplied,
			category: domain.CategoryConvertedWithMetadata,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler(newFakeRunner(), &fakeApplier{result: tt.result}, nil)

			outcomes, err := s.Schedule(context.Background(),
				[]domain.ConversionJob{newJob("Parcels", filepath.Join(t.TempDir(), "p.sqlite"))}, 1)
			require.NoError(t, err)

			o := outcomes[0]
			assert.Equal(t, tt.state, o.Metadata)
			assert.Equal(t, tt.category, o.Category())
			assert.Equal(t, "parcels", o.Table)
			assert.Equal(t, tt.result.AliasesApplied, o.AliasesApplied)
			assert.Equal(t, tt.result.DomainRowsApplied, o.DomainRowsApplied)
			assert.Equal(t, tt.result.PrimaryKeyApplied, o.PrimaryKeyApplied)
		})
	}
}

func TestScheduler_NoMetadataRequested(t *testing.T) {
	applier := &fakeApplier{}
	s := newTestScheduler(newFakeRunner(), applier, nil)

	j := newJob("Parcels", filepath.Join(t.TempDir(), "p.sqlite"))
	j.PreserveAliases, j.PreserveDomains, j.PreservePrimaryKey = false, false, false

	outcomes, err := s.Schedule(context.Background(), []domain.ConversionJob{j}, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.MetadataNotRequested, outcomes[0].Metadata)
	assert.Equal(t, domain.CategoryConvertedWithMetadata, outcomes[0].Category())
	assert.Equal(t, 0, applier.callCount())
}

func TestScheduler_CancelStopsRunningAndSkipsPending(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "shared.sqlite")

	runner := newFakeRunner()
	runner.fallback = processScript{duration: time.Hour}
	s := newTestScheduler(runner, &fakeApplier{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	outcomes, err := s.Schedule(ctx, []domain.ConversionJob{newJob("a", dest), newJob("b", dest)}, 2)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, domain.JobFailed, outcomes[0].Status)
	assert.ErrorIs(t, outcomes[0].Err, domain.ErrCancelled)
	assert.Equal(t, domain.JobSkipped, outcomes[1].Status)
	assert.ErrorIs(t, outcomes[1].Err, domain.ErrCancelled)

	procs := runner.processes()
	require.Len(t, procs, 1)
	assert.True(t, procs[0].wasCancelled())
}

func TestScheduler_CancelHoldsLockUntilProcessExits(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "shared.sqlite")
	job := newJob("a", dest)

	runner := newFakeRunner()
	runner.fallback = processScript{duration: time.Hour, exitDelay: 150 * time.Millisecond}
	locks := NewDestinationLocks()
	s := NewScheduler(NewSupervisor(runner, testPollPolicy()), &fakeApplier{}, nil, locks)

	ctx, cancel := context.WithCancel(context.Background())
	heldWhileExiting := make(chan bool, 1)
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
		time.Sleep(50 * time.Millisecond)
		release, ok := locks.TryAcquire(job.DestinationKey())
		if ok {
			release()
		}
		heldWhileExiting <- !ok
	}()

	outcomes, err := s.Schedule(ctx, []domain.ConversionJob{job}, 2)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, <-heldWhileExiting)

	assert.Equal(t, domain.JobFailed, outcomes[0].Status)
	assert.ErrorIs(t, outcomes[0].Err, domain.ErrCancelled)
	assert.True(t, runner.processes()[0].isDone())

	release, ok := locks.TryAcquire(job.DestinationKey())
	require.True(t, ok)
	release()
}

func TestScheduler_InvalidParallelism(t *testing.T) {
	s := newTestScheduler(newFakeRunner(), nil, nil)

	_, err := s.Schedule(context.Background(), []domain.ConversionJob{newJob("a", "a.sqlite")}, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestScheduler_NoJobs(t *testing.T) {
	s := newTestScheduler(newFakeRunner(), nil, nil)

	outcomes, err := s.Schedule(context.Background(), nil, 4)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestScheduler_NotifiesObservers(t *testing.T) {
	dir := t.TempDir()
	runner := newFakeRunner()
	runner.scripts["bad"] = processScript{duration: time.Millisecond, exitCode: 2}
	s := newTestScheduler(runner, &fakeApplier{}, nil)
	obs := &recordingObserver{}
	s.AddObserver(obs)

	_, err := s.Schedule(context.Background(), []domain.ConversionJob{
		newJob("good", filepath.Join(dir, "good.sqlite")),
		newJob("bad", filepath.Join(dir, "bad.sqlite")),
	}, 1)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"good", "bad"}, obs.started)
	require.Len(t, obs.finished, 2)
}

func TestScheduler_OptimizesEachDestinationOnce(t *testing.T) {
	dir := t.TempDir()
	fastDest := filepath.Join(dir, "fast.sqlite")
	safeDest := filepath.Join(dir, "safe.sqlite")

	fastJob := newJob("a", fastDest)
	fastJob.FastMode = true

	sink := &fakeSink{}
	s := newTestScheduler(newFakeRunner(), nil, sink)

	_, err := s.Schedule(context.Background(),
		[]domain.ConversionJob{fastJob, newJob("b", safeDest)}, 2)
	require.NoError(t, err)

	require.Len(t, sink.optimized, 2)
	assert.Equal(t, domain.TuningFor(domain.ProfileFast), sink.optimized[fastDest])
	assert.Equal(t, domain.TuningFor(domain.ProfileDefault), sink.optimized[safeDest])
}

func TestScheduler_NoOptimizeWithoutConversion(t *testing.T) {
	runner := newFakeRunner()
	runner.fallback = processScript{duration: time.Millisecond, exitCode: 1}
	sink := &fakeSink{}
	s := newTestScheduler(runner, nil, sink)

	_, err := s.Schedule(context.Background(),
		[]domain.ConversionJob{newJob("a", filepath.Join(t.TempDir(), "a.sqlite"))}, 1)
	require.NoError(t, err)
	assert.Empty(t, sink.optimized)
}

func TestPartition(t *testing.T) {
	jobs := []domain.ConversionJob{
		newJob("a", "one.sqlite"),
		newJob("b", "two.sqlite"),
		newJob("c", "./one.sqlite"),
	}

	groups := partition(jobs)
	require.Len(t, groups, 2)
	assert.Equal(t, []int{0, 2}, groups[0].indices)
	assert.Equal(t, []int{1}, groups[1].indices)
}
