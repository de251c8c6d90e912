// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - SourceOpener / SourceHandle: Read-only access to the source container schema
//   - DomainCatalogParser: Parses the container's embedded coded-domain catalog
//   - ProcessRunner / ProcessHandle: Launches the external bulk-copy process
//   - MetadataSink: Writes metadata registries and unique indexes into a destination
//   - MetadataReader: Reads registries back for inspection
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - HistoryStore: Persists run history. Without it, runs are not recorded.
//   - ConfigStore: Application configuration. Without it, defaults apply.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
