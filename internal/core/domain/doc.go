// Package domain defines the core entities for gdb2spatialite.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - LayerDescriptor: A feature collection enumerated from the source container
//   - FieldAlias, DomainEntry, PrimaryKeySpec: Side-channel metadata to preserve
//   - ConversionJob: One layer to copy into one destination table
//   - JobOutcome: The recorded result of a job
//   - Tuning: Destination store pragmas selected by a Profile
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
