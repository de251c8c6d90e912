// Command gdb2spatialite converts Esri File Geodatabases to SpatiaLite.
package main

import (
	"fmt"
	"os"

	"github.com/custodia-labs/gdb2spatialite/internal/adapters/driven/filegdb"
	"github.com/custodia-labs/gdb2spatialite/internal/adapters/driven/gdal"
	"github.com/custodia-labs/gdb2spatialite/internal/adapters/driven/storage/history"
	"github.com/custodia-labs/gdb2spatialite/internal/adapters/driven/storage/spatialite"
	"github.com/custodia-labs/gdb2spatialite/internal/adapters/driving/cli"
	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
	"github.com/custodia-labs/gdb2spatialite/internal/core/services"
	"github.com/custodia-labs/gdb2spatialite/internal/metrics"
)

func main() {
	cli.SetFactory(buildServices)

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildServices wires the adapters into the core services.
func buildServices(settings domain.Settings) (*cli.Services, error) {
	store, err := history.NewStore("")
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}

	catalog := services.NewCatalog(gdal.NewInspector(settings.OgrinfoPath), filegdb.NewParser())
	supervisor := services.NewSupervisor(gdal.NewRunner(settings.Ogr2ogrPath), settings.Poll)

	sink := spatialite.NewSink()
	applier := services.NewApplier(catalog, sink)
	scheduler := services.NewScheduler(supervisor, applier, sink, services.NewDestinationLocks())

	m := metrics.New()
	scheduler.AddObserver(m)

	return &cli.Services{
		Converter: services.NewConversionService(catalog, supervisor, scheduler, store, settings.HistoryKeep),
		Inspector: services.NewInspectionService(store, spatialite.NewReader()),
		Metrics:   m,
		Close:     store.Close,
	}, nil
}
