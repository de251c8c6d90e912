package driven

import (
	"context"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
)

// SourceOpener opens a source container. Opening may be expensive
// (it can spawn a process or parse binary structures), so callers cache
// the returned handle for the whole run.
type SourceOpener interface {
	// Open opens the container at path read-only.
	Open(ctx context.Context, path string) (SourceHandle, error)
}

// SourceHandle is an opened, read-only source container.
// Implementations must be safe for concurrent use.
type SourceHandle interface {
	// Layers enumerates the feature collections of the container.
	Layers(ctx context.Context) ([]domain.LayerDescriptor, error)

	// Schema returns the attribute schema of a layer.
	// Returns domain.ErrNotFound if the layer does not exist.
	Schema(ctx context.Context, layer string) (*domain.LayerSchema, error)

	// CodedDomains returns coded-value domains the backend reports itself,
	// keyed by domain name. Backends without this capability return nil.
	CodedDomains(ctx context.Context) (map[string]map[int64]string, error)

	// Close releases the handle.
	Close() error
}

// DomainCatalogParser reads every coded-value domain defined in the
// container's internal catalog table.
type DomainCatalogParser interface {
	// ParseDomains returns domains keyed by name. A missing or malformed
	// catalog yields an error wrapping domain.ErrMetadataUnavailable.
	ParseDomains(ctx context.Context, sourcePath string) (map[string]map[int64]string, error)
}

// MetadataSource is the read side of the metadata pipeline, as consumed
// by the applier. It is implemented by the catalog service.
type MetadataSource interface {
	// FieldAliases returns field name to alias for a layer.
	FieldAliases(ctx context.Context, layer string) (map[string]string, error)

	// FieldDomains returns field name to domain name for a layer.
	FieldDomains(ctx context.Context, layer string) (map[string]string, error)

	// DomainValues returns code to description for a domain.
	DomainValues(ctx context.Context, domainName string) (map[int64]string, error)

	// PrimaryKey returns the declared key of a layer, or nil.
	PrimaryKey(ctx context.Context, layer string) (*domain.PrimaryKeySpec, error)
}
