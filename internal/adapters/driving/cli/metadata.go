package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var metadataCmd = &cobra.Command{
	Use:   "metadata DEST [TABLE]",
	Short: "Show metadata stored in a destination file",
	Long: `Prints the field aliases, coded-value domains and unique indexes that
earlier conversions wrote into DEST, for every table or only TABLE.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runMetadata,
}

func init() {
	rootCmd.AddCommand(metadataCmd)
}

func runMetadata(cmd *cobra.Command, args []string) error {
	svc, err := getServices()
	if err != nil {
		return err
	}

	table := ""
	if len(args) > 1 {
		table = args[1]
	}

	tables, err := svc.Inspector.DestinationMetadata(context.Background(), args[0], table)
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}
	if len(tables) == 0 {
		cmd.Println("No metadata recorded.")
		return nil
	}

	for i, t := range tables {
		if i > 0 {
			cmd.Println()
		}
		cmd.Printf("[%s]\n", t.Table)

		if len(t.Aliases) > 0 {
			cmd.Println("  Aliases:")
			for _, a := range t.Aliases {
				cmd.Printf("    %s: %s\n", a.Field, a.Alias)
			}
		}

		if len(t.Domains) > 0 {
			cmd.Println("  Domains:")
			field := ""
			for _, d := range t.Domains {
				if d.Field != field {
					field = d.Field
					cmd.Printf("    %s:\n", field)
				}
				cmd.Printf("      %d = %s\n", d.Code, d.Description)
			}
		}

		if len(t.UniqueIndexes) > 0 {
			cmd.Println("  Unique indexes:")
			for _, idx := range t.UniqueIndexes {
				cmd.Printf("    %s\n", idx)
			}
		}
	}
	return nil
}
