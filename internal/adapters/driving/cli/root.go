package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/gdb2spatialite/internal/adapters/driven/config/file"
	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driving"
	"github.com/custodia-labs/gdb2spatialite/internal/logger"
)

// version is set at build time with -ldflags "-X ...cli.version=v1.2.3".
var version = "dev"

var (
	verbose    bool
	quiet      bool
	configPath string
)

// Services is what the commands run against.
type Services struct {
	Converter driving.Converter
	Inspector driving.Inspector

	// Metrics is optional; when set, --metrics-file writes it out.
	Metrics MetricsWriter

	// Close releases the services. It may be nil.
	Close func() error
}

// MetricsWriter writes collected metrics to a textfile.
type MetricsWriter interface {
	WriteTextfile(path string) error
}

// Factory builds services from the loaded settings.
type Factory func(settings domain.Settings) (*Services, error)

var (
	factory  Factory
	services *Services
	settings = domain.DefaultSettings()
	store    *file.ConfigStore
)

var rootCmd = &cobra.Command{
	Use:   "gdb2spatialite",
	Short: "Convert File Geodatabases to SpatiaLite",
	Long: `gdb2spatialite copies the layers of an Esri File Geodatabase into
SQLite/SpatiaLite files with GDAL, then carries over the metadata the copy
drops: field aliases, coded-value domains and primary keys.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(*cobra.Command, []string) error {
		return teardown()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print debug output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only print warnings and errors")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.gdb2spatialite/config.toml)")
}

// SetFactory registers how services are built once settings are known.
func SetFactory(f Factory) {
	factory = f
}

// Execute runs the root command. Command output goes to stdout and
// logging to stderr.
func Execute() error {
	rootCmd.SetOut(os.Stdout)
	return rootCmd.Execute()
}

func setup(*cobra.Command, []string) error {
	if verbose && quiet {
		return errors.New("--verbose and --quiet are mutually exclusive")
	}
	logger.SetVerbose(verbose)
	logger.SetQuiet(quiet)

	var err error
	if configPath != "" {
		store, err = file.NewConfigStoreAt(configPath)
	} else {
		store, err = file.NewConfigStore("")
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	settings, err = file.LoadSettings(store)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger.Debug("Loaded settings from %s", store.Path())
	return nil
}

// getServices builds the services on first use.
func getServices() (*Services, error) {
	if services != nil {
		return services, nil
	}
	if factory == nil {
		return nil, errors.New("services not configured")
	}

	s, err := factory(settings)
	if err != nil {
		return nil, err
	}
	services = s
	return services, nil
}

func teardown() error {
	if services == nil || services.Close == nil {
		return nil
	}
	err := services.Close()
	services = nil
	return err
}
