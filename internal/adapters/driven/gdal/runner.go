package gdal

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driven"
	"github.com/custodia-labs/gdb2spatialite/internal/logger"
)

// fastGroupSize is the rows-per-transaction used by the fast profile.
const fastGroupSize = "65536"

var _ driven.ProcessRunner = (*Runner)(nil)

// Runner launches ogr2ogr for conversion jobs.
type Runner struct {
	ogr2ogr string
}

// NewRunner creates a runner using the given ogr2ogr executable.
func NewRunner(ogr2ogrPath string) *Runner {
	if ogr2ogrPath == "" {
		ogr2ogrPath = "ogr2ogr"
	}
	return &Runner{ogr2ogr: ogr2ogrPath}
}

// Check runs `ogr2ogr --version` and returns its first line.
func (r *Runner) Check(ctx context.Context) (string, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.ogr2ogr, "--version")
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%w: %s: %w: %s", domain.ErrBackendUnavailable, r.ogr2ogr, err, msg)
		}
		return "", fmt.Errorf("%w: %s: %w", domain.ErrBackendUnavailable, r.ogr2ogr, err)
	}

	sc := bufio.NewScanner(bytes.NewReader(out))
	if sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("%w: %s printed no version", domain.ErrBackendUnavailable, r.ogr2ogr)
}

// BuildArgs returns the ogr2ogr arguments for a job. destExists selects
// -update, which appends a layer to an existing destination instead of
// creating a new SpatiaLite database.
func BuildArgs(job domain.ConversionJob, destExists bool) []string {
	args := []string{"-f", "SQLite", "-progress"}
	if destExists {
		args = append(args, "-update")
	} else {
		args = append(args, "-dsco", "SPATIALITE=YES", "-dsco", "INIT_WITH_EPSG=NO")
	}
	args = append(args,
		"-lco", "SPATIAL_INDEX=YES",
		"-lco", "GEOMETRY_NAME=geometry",
		"-nln", job.DestinationTable,
	)
	if job.FastMode {
		args = append(args, "-gt", fastGroupSize)
	}
	args = append(args,
		"--config", "OGR_SQLITE_PRAGMA", domain.TuningFor(job.Profile()).PragmaList(),
		job.DestinationFile,
		job.SourcePath,
		job.Layer.Name,
	)
	return args
}

// Start launches ogr2ogr for job and returns without waiting.
func (r *Runner) Start(_ context.Context, job domain.ConversionJob) (driven.ProcessHandle, error) {
	_, err := os.Stat(job.DestinationFile)
	destExists := err == nil

	args := BuildArgs(job, destExists)
	logger.Debug("[%s] %s %s", job.Layer.Name, r.ogr2ogr, strings.Join(args, " "))

	// Cancellation goes through the handle, so the command is not bound
	// to a context.
	cmd := exec.Command(r.ogr2ogr, args...)
	p, err := startProcess(cmd, job.Layer.Name)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
		}
		return nil, err
	}
	return p, nil
}
