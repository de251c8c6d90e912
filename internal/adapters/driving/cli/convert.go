package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/gdb2spatialite/internal/adapters/driven/plan"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driving"
	"github.com/custodia-labs/gdb2spatialite/internal/logger"
)

// errNothingConverted makes the process exit non-zero when every job failed.
var errNothingConverted = errors.New("no layer was converted")

var (
	convertLayers      []string
	convertWorkers     int
	convertFast        bool
	convertOverwrite   bool
	convertSkipAliases bool
	convertSkipDomains bool
	convertSkipKeys    bool
	convertNoMetadata  bool
	convertPlan        string
	convertMetricsFile string
)

var convertCmd = &cobra.Command{
	Use:   "convert [SOURCE [DEST]]",
	Short: "Convert layers to SpatiaLite",
	Long: `Copies layers of SOURCE into the SpatiaLite file DEST, then writes field
aliases, coded-value domains and primary keys into the destination.

Layers sharing a destination file are converted one after the other; with
--workers above 1, different destination files (see --plan) are converted
in parallel.

Precedence: command-line flags, then the plan file, then the config file.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runConvert,
}

func init() {
	f := convertCmd.Flags()
	f.StringSliceVarP(&convertLayers, "layer", "l", nil, "layer to convert (repeatable, default all)")
	f.IntVarP(&convertWorkers, "workers", "w", 0, "destination files converted in parallel")
	f.BoolVar(&convertFast, "fast", false, "disable durability and journaling while writing")
	f.BoolVar(&convertOverwrite, "overwrite", false, "replace existing destination files")
	f.BoolVar(&convertSkipAliases, "skip-aliases", false, "do not preserve field aliases")
	f.BoolVar(&convertSkipDomains, "skip-domains", false, "do not preserve coded-value domains")
	f.BoolVar(&convertSkipKeys, "skip-primary-keys", false, "do not preserve primary keys")
	f.BoolVar(&convertNoMetadata, "no-metadata", false, "copy data only")
	f.StringVar(&convertPlan, "plan", "", "YAML plan file")
	f.StringVar(&convertMetricsFile, "metrics-file", "", "write prometheus metrics to this file")
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	req, err := buildRunRequest(cmd, args)
	if err != nil {
		return err
	}

	svc, err := getServices()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, runErr := svc.Converter.Run(ctx, req)
	if report != nil {
		printSummary(cmd, report)
	}

	if convertMetricsFile != "" && svc.Metrics != nil {
		if err := svc.Metrics.WriteTextfile(convertMetricsFile); err != nil {
			logger.Warn("Writing metrics to %s: %v", convertMetricsFile, err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("conversion failed: %w", runErr)
	}
	if report.Converted() == 0 {
		return errNothingConverted
	}
	return nil
}

// buildRunRequest layers settings, the plan file and flags.
func buildRunRequest(cmd *cobra.Command, args []string) (driving.RunRequest, error) {
	req := driving.RunRequest{
		Workers:            settings.Workers,
		FastMode:           settings.FastMode,
		PreserveAliases:    settings.PreserveAliases,
		PreserveDomains:    settings.PreserveDomains,
		PreservePrimaryKey: settings.PreservePrimaryKey,
	}

	if convertPlan != "" {
		p, err := plan.Load(convertPlan)
		if err != nil {
			return req, fmt.Errorf("failed to load plan: %w", err)
		}
		p.Apply(&req)
	}

	if len(args) > 0 {
		req.SourcePath = args[0]
	}
	if len(args) > 1 {
		req.Destination = args[1]
	}

	flags := cmd.Flags()
	if flags.Changed("workers") {
		req.Workers = convertWorkers
	}
	if flags.Changed("fast") {
		req.FastMode = convertFast
	}
	if flags.Changed("overwrite") {
		req.Overwrite = convertOverwrite
	}
	if len(convertLayers) > 0 {
		req.Jobs = make([]driving.JobSpec, 0, len(convertLayers))
		for _, l := range convertLayers {
			req.Jobs = append(req.Jobs, driving.JobSpec{Layer: l})
		}
	}
	if convertSkipAliases || convertNoMetadata {
		req.PreserveAliases = false
	}
	if convertSkipDomains || convertNoMetadata {
		req.PreserveDomains = false
	}
	if convertSkipKeys || convertNoMetadata {
		req.PreservePrimaryKey = false
	}

	if req.SourcePath == "" {
		return req, errors.New("a SOURCE argument or a plan with a source is required")
	}
	return req, nil
}
