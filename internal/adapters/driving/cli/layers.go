package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var layersJSON bool

var layersCmd = &cobra.Command{
	Use:   "layers SOURCE",
	Short: "List the layers of a geodatabase",
	Args:  cobra.ExactArgs(1),
	RunE:  runLayers,
}

func init() {
	layersCmd.Flags().BoolVar(&layersJSON, "json", false, "output layers as JSON")
	rootCmd.AddCommand(layersCmd)
}

func runLayers(cmd *cobra.Command, args []string) error {
	svc, err := getServices()
	if err != nil {
		return err
	}

	layers, err := svc.Converter.ListLayers(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to list layers: %w", err)
	}

	if layersJSON {
		data, err := json.MarshalIndent(layers, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal layers: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(layers) == 0 {
		cmd.Println("No layers found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LAYER\tFEATURES\tGEOMETRY")
	for _, l := range layers {
		geom := "no"
		if l.HasGeometry {
			geom = "yes"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", l.Name, l.FeatureCount, geom)
	}
	return w.Flush()
}
