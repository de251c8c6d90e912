package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driven"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driving"
	"github.com/custodia-labs/gdb2spatialite/internal/logger"
)

// Ensure ConversionService implements the interface.
var _ driving.Converter = (*ConversionService)(nil)

// destinationSidecars are files SQLite keeps next to a database.
var destinationSidecars = []string{"-wal", "-shm", "-journal"}

// ConversionService runs one conversion from request to report.
type ConversionService struct {
	catalog     *Catalog
	supervisor  *Supervisor
	scheduler   driving.Scheduler
	history     driven.HistoryStore
	historyKeep int
}

// NewConversionService creates the run facade. history may be nil, in
// which case runs are not recorded.
func NewConversionService(
	catalog *Catalog,
	supervisor *Supervisor,
	scheduler driving.Scheduler,
	history driven.HistoryStore,
	historyKeep int,
) *ConversionService {
	return &ConversionService{
		catalog:     catalog,
		supervisor:  supervisor,
		scheduler:   scheduler,
		history:     history,
		historyKeep: historyKeep,
	}
}

// ListLayers enumerates the layers of a source container.
func (c *ConversionService) ListLayers(ctx context.Context, sourcePath string) ([]domain.LayerDescriptor, error) {
	if _, err := c.catalog.Open(ctx, sourcePath); err != nil {
		return nil, err
	}
	defer c.closeCatalog()

	return c.catalog.ListLayers(ctx)
}

// Run converts the requested layers. It fails before any job starts when
// the request is invalid, the source cannot be opened, the backend is
// missing, or a destination exists without Overwrite.
func (c *ConversionService) Run(ctx context.Context, req driving.RunRequest) (*driving.RunReport, error) {
	if req.SourcePath == "" {
		return nil, fmt.Errorf("%w: source path is required", domain.ErrInvalidInput)
	}
	if req.Workers < 1 {
		return nil, fmt.Errorf("%w: workers must be at least 1", domain.ErrInvalidInput)
	}
	started := time.Now()

	logger.Section("Source")
	if _, err := c.catalog.Open(ctx, req.SourcePath); err != nil {
		return nil, err
	}
	defer c.closeCatalog()

	version, err := c.supervisor.Check(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrBackendUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
		}
		return nil, err
	}
	logger.Info("Using %s", version)

	jobs, err := c.buildJobs(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := prepareDestinations(jobs, req.Overwrite); err != nil {
		return nil, err
	}

	logger.Section("Conversion")
	outcomes, schedErr := c.scheduler.Schedule(ctx, jobs, req.Workers)

	report := &driving.RunReport{
		RunID:          uuid.NewString(),
		StartedAt:      started,
		Elapsed:        time.Since(started),
		BackendVersion: version,
		Outcomes:       outcomes,
	}
	c.record(ctx, req, report)

	if schedErr != nil {
		return report, fmt.Errorf("%w: %w", domain.ErrCancelled, schedErr)
	}
	return report, nil
}

// buildJobs expands the request into jobs. No named layers means every
// layer of the source, in source order.
func (c *ConversionService) buildJobs(ctx context.Context, req driving.RunRequest) ([]domain.ConversionJob, error) {
	layers, err := c.catalog.ListLayers(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]domain.LayerDescriptor, len(layers))
	for _, l := range layers {
		byName[l.Name] = l
	}

	specs := req.Jobs
	if len(specs) == 0 {
		for _, l := range layers {
			specs = append(specs, driving.JobSpec{Layer: l.Name})
		}
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: %s contains no layers", domain.ErrNotFound, req.SourcePath)
	}

	jobs := make([]domain.ConversionJob, 0, len(specs))
	seen := make(map[string]string)
	for _, spec := range specs {
		layer, ok := byName[spec.Layer]
		if !ok {
			return nil, fmt.Errorf("%w: layer %q in %s", domain.ErrNotFound, spec.Layer, req.SourcePath)
		}

		dest := spec.Destination
		if dest == "" {
			dest = req.Destination
		}
		if dest == "" {
			return nil, fmt.Errorf("%w: no destination for layer %q", domain.ErrInvalidInput, spec.Layer)
		}
		table := spec.Table
		if table == "" {
			table = spec.Layer
		}
		fast := req.FastMode
		if spec.FastMode != nil {
			fast = *spec.FastMode
		}

		job := domain.ConversionJob{
			Layer:              layer,
			SourcePath:         req.SourcePath,
			DestinationFile:    dest,
			DestinationTable:   table,
			FastMode:           fast,
			PreserveAliases:    req.PreserveAliases,
			PreserveDomains:    req.PreserveDomains,
			PreservePrimaryKey: req.PreservePrimaryKey,
		}

		key := job.DestinationKey() + "\x00" + strings.ToLower(table)
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: layers %q and %q both write table %q in %s",
				domain.ErrInvalidInput, prev, spec.Layer, table, dest)
		}
		seen[key] = spec.Layer
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// prepareDestinations refuses existing destinations, or removes them
// together with their sidecar files when overwrite is set.
func prepareDestinations(jobs []domain.ConversionJob, overwrite bool) error {
	done := make(map[string]bool)
	for _, job := range jobs {
		key := job.DestinationKey()
		if done[key] {
			continue
		}
		done[key] = true

		if !fileExists(job.DestinationFile) {
			continue
		}
		if !overwrite {
			return fmt.Errorf("%w: %s (use --overwrite to replace it)", domain.ErrAlreadyExists, job.DestinationFile)
		}

		var errs []error
		for _, suffix := range append([]string{""}, destinationSidecars...) {
			if err := os.Remove(job.DestinationFile + suffix); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("remove %s: %w", job.DestinationFile, err)
		}
		logger.Info("Removed existing %s", job.DestinationFile)
	}
	return nil
}

// record stores the run in history. Failures are logged, never returned:
// the conversion itself already happened.
func (c *ConversionService) record(ctx context.Context, req driving.RunRequest, report *driving.RunReport) {
	if c.history == nil {
		return
	}

	run := &domain.RunRecord{
		ID:         report.RunID,
		SourcePath: req.SourcePath,
		StartedAt:  report.StartedAt,
		EndedAt:    report.StartedAt.Add(report.Elapsed),
		Workers:    req.Workers,
		FastMode:   req.FastMode,
		Jobs:       make([]domain.JobRecord, 0, len(report.Outcomes)),
	}
	for _, o := range report.Outcomes {
		switch o.Status {
		case domain.JobSucceeded:
			run.Succeeded++
		case domain.JobFailed:
			run.Failed++
		default:
			run.Skipped++
		}
		run.Jobs = append(run.Jobs, domain.NewJobRecord(o))
	}

	// Recording must survive a cancelled run.
	ctx = context.WithoutCancel(ctx)
	if err := c.history.RecordRun(ctx, run); err != nil {
		logger.Warn("Failed to record run history: %v", err)
		return
	}
	if c.historyKeep > 0 {
		if err := c.history.PruneHistory(ctx, c.historyKeep); err != nil {
			logger.Warn("Failed to prune run history: %v", err)
		}
	}
}

func (c *ConversionService) closeCatalog() {
	if err := c.catalog.Close(); err != nil {
		logger.Warn("Failed to close source: %v", err)
	}
}
