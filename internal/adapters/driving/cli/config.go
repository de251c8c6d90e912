package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/gdb2spatialite/internal/adapters/driven/config/file"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change configuration",
	RunE:  runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective settings",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration key",
	Long: `Sets a key in the config file. Recognised keys:

  backend.ogr2ogr, backend.ogrinfo
  run.workers, run.fast_mode
  metadata.aliases, metadata.domains, metadata.primary_keys
  polling.initial_ms, polling.max_ms, polling.multiplier,
  polling.quiet_checks, polling.status_interval_s
  history.keep`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if store != nil {
		cmd.Printf("Config file: %s\n", store.Path())
		keys := store.Keys()
		sort.Strings(keys)
		if len(keys) == 0 {
			cmd.Println("Overrides: none, using defaults")
		} else {
			cmd.Printf("Overrides: %s\n", strings.Join(keys, ", "))
		}
		cmd.Println()
	}

	cmd.Println("[Backend]")
	cmd.Printf("  ogr2ogr: %s\n", settings.Ogr2ogrPath)
	cmd.Printf("  ogrinfo: %s\n", settings.OgrinfoPath)
	cmd.Println()

	cmd.Println("[Run]")
	cmd.Printf("  Workers: %d\n", settings.Workers)
	cmd.Printf("  Fast mode: %t\n", settings.FastMode)
	cmd.Println()

	cmd.Println("[Metadata]")
	cmd.Printf("  Aliases: %t\n", settings.PreserveAliases)
	cmd.Printf("  Domains: %t\n", settings.PreserveDomains)
	cmd.Printf("  Primary keys: %t\n", settings.PreservePrimaryKey)
	cmd.Println()

	cmd.Println("[Polling]")
	cmd.Printf("  Initial interval: %s\n", settings.Poll.InitialInterval)
	cmd.Printf("  Max interval: %s\n", settings.Poll.MaxInterval)
	cmd.Printf("  Multiplier: %g\n", settings.Poll.Multiplier)
	cmd.Printf("  Quiet checks: %d\n", settings.Poll.QuietChecks)
	cmd.Printf("  Status every: %s\n", settings.StatusEvery())
	cmd.Println()

	cmd.Println("[History]")
	cmd.Printf("  Keep: %d runs\n", settings.HistoryKeep)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	if store == nil {
		return errors.New("config store not loaded")
	}

	value, err := file.ParseValue(args[0], args[1])
	if err != nil {
		return err
	}
	if err := store.Set(args[0], value); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	if _, err := file.LoadSettings(store); err != nil {
		cmd.PrintErrf("Warning: %v\n", err)
	}
	cmd.Printf("%s = %v\n", args[0], value)
	return nil
}
