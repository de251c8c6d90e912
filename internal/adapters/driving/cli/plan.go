package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/gdb2spatialite/internal/adapters/driven/plan"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driving"
)

var planOutput string

var planCmd = &cobra.Command{
	Use:   "plan SOURCE DEST",
	Short: "Write a plan template listing every layer",
	Long: `Writes a YAML plan for converting every layer of SOURCE into DEST.
Edit it to rename tables, split layers over several destination files or
switch single layers to fast mode, then run it with "convert --plan".`,
	Args: cobra.ExactArgs(2),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutput, "output", "o", "", "write the plan to a file instead of stdout")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	svc, err := getServices()
	if err != nil {
		return err
	}

	layers, err := svc.Converter.ListLayers(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to list layers: %w", err)
	}

	req := driving.RunRequest{
		SourcePath:         args[0],
		Destination:        args[1],
		Workers:            settings.Workers,
		FastMode:           settings.FastMode,
		PreserveAliases:    settings.PreserveAliases,
		PreserveDomains:    settings.PreserveDomains,
		PreservePrimaryKey: settings.PreservePrimaryKey,
	}
	for _, l := range layers {
		req.Jobs = append(req.Jobs, driving.JobSpec{Layer: l.Name})
	}
	p := plan.FromRequest(req)

	if planOutput == "" {
		return p.Write(cmd.OutOrStdout())
	}

	f, err := os.Create(planOutput)
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}
	if err := p.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write plan: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	cmd.Printf("Plan with %d layer(s) written to %s\n", len(layers), planOutput)
	return nil
}
