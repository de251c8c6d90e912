package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driven"
	"github.com/custodia-labs/gdb2spatialite/internal/logger"
)

// Ensure Catalog implements the interface.
var _ driven.MetadataSource = (*Catalog)(nil)

// Catalog owns the source container for one run. It opens the container
// once, caches every schema it reads, and parses the embedded domain
// catalog at most once.
//
// All accessors are safe for concurrent use by scheduler workers.
type Catalog struct {
	opener driven.SourceOpener
	parser driven.DomainCatalogParser

	mu      sync.Mutex
	path    string
	handle  driven.SourceHandle
	layers  []domain.LayerDescriptor
	schemas map[string]*domain.LayerSchema

	domainMu    sync.Mutex
	parsed      bool
	parseErr    error
	catalog     map[string]map[int64]string
	fallback    map[string]map[int64]string
	fallbackErr error
	fallbackSet bool
	domains     map[string]map[int64]string
	missing     map[string]error
}

// NewCatalog creates a catalog. parser may be nil, in which case only
// domains reported by the source handle are available.
func NewCatalog(opener driven.SourceOpener, parser driven.DomainCatalogParser) *Catalog {
	return &Catalog{
		opener:  opener,
		parser:  parser,
		schemas: make(map[string]*domain.LayerSchema),
		domains: make(map[string]map[int64]string),
		missing: make(map[string]error),
	}
}

// Open opens the source container. Calling it again with the same path
// returns the cached handle; a different path is rejected, since a run
// owns exactly one source.
func (c *Catalog) Open(ctx context.Context, path string) (driven.SourceHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil {
		if path != c.path {
			return nil, fmt.Errorf("%w: catalog already bound to %s", domain.ErrInvalidInput, c.path)
		}
		return c.handle, nil
	}

	handle, err := c.opener.Open(ctx, path)
	if err != nil {
		if errors.Is(err, domain.ErrSourceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrSourceUnavailable, path, err)
	}

	c.path = path
	c.handle = handle
	logger.Debug("Opened source %s", path)
	return handle, nil
}

// Path returns the opened source path, empty before Open.
func (c *Catalog) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// Close releases the source handle. The catalog can be opened again afterwards.
func (c *Catalog) Close() error {
	// domainMu is never taken while holding mu.
	c.domainMu.Lock()
	c.parsed, c.parseErr, c.catalog = false, nil, nil
	c.fallback, c.fallbackErr, c.fallbackSet = nil, nil, false
	c.domains = make(map[string]map[int64]string)
	c.missing = make(map[string]error)
	c.domainMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return nil
	}
	err := c.handle.Close()
	c.handle = nil
	c.path = ""
	c.layers = nil
	c.schemas = make(map[string]*domain.LayerSchema)
	return err
}

// ListLayers enumerates the source layers once per run.
func (c *Catalog) ListLayers(ctx context.Context) ([]domain.LayerDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return nil, fmt.Errorf("%w: catalog not opened", domain.ErrSourceUnavailable)
	}
	if c.layers == nil {
		layers, err := c.handle.Layers(ctx)
		if err != nil {
			return nil, fmt.Errorf("list layers: %w", err)
		}
		if layers == nil {
			layers = []domain.LayerDescriptor{}
		}
		c.layers = layers
	}

	out := make([]domain.LayerDescriptor, len(c.layers))
	copy(out, c.layers)
	return out, nil
}

// Schema returns the cached schema of a layer, reading it on first use.
func (c *Catalog) Schema(ctx context.Context, layer string) (*domain.LayerSchema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if schema, ok := c.schemas[layer]; ok {
		return schema, nil
	}
	if c.handle == nil {
		return nil, fmt.Errorf("%w: catalog not opened", domain.ErrSourceUnavailable)
	}

	schema, err := c.handle.Schema(ctx, layer)
	if err != nil {
		return nil, fmt.Errorf("%w: schema of %q: %w", domain.ErrMetadataUnavailable, layer, err)
	}
	c.schemas[layer] = schema
	return schema, nil
}

// FieldAliases returns field name to alias for a layer. Fields without an
// alias, or whose alias equals the name, are left out.
func (c *Catalog) FieldAliases(ctx context.Context, layer string) (map[string]string, error) {
	schema, err := c.Schema(ctx, layer)
	if err != nil {
		return map[string]string{}, err
	}

	aliases := make(map[string]string)
	for _, f := range schema.Fields {
		if f.Alias != "" && f.Alias != f.Name {
			aliases[f.Name] = f.Alias
		}
	}
	return aliases, nil
}

// FieldDomains returns field name to domain name for a layer.
func (c *Catalog) FieldDomains(ctx context.Context, layer string) (map[string]string, error) {
	schema, err := c.Schema(ctx, layer)
	if err != nil {
		return map[string]string{}, err
	}

	domains := make(map[string]string)
	for _, f := range schema.Fields {
		if f.DomainName != "" {
			domains[f.Name] = f.DomainName
		}
	}
	return domains, nil
}

// PrimaryKey returns the layer's declared key: the key listed in layer
// metadata when there is one, else its first unique field. The object
// identifier column is never part of it. A nil result is not an error.
func (c *Catalog) PrimaryKey(ctx context.Context, layer string) (*domain.PrimaryKeySpec, error) {
	schema, err := c.Schema(ctx, layer)
	if err != nil {
		return nil, err
	}

	var cols []string
	for _, name := range schema.PrimaryKeyHint {
		if name != "" && name != schema.FIDColumn {
			cols = append(cols, name)
		}
	}
	if len(cols) == 0 {
		for _, f := range schema.Fields {
			if f.Unique && f.Name != schema.FIDColumn {
				cols = []string{f.Name}
				break
			}
		}
	}
	if len(cols) == 0 {
		return nil, nil
	}
	return &domain.PrimaryKeySpec{Table: layer, Columns: cols}, nil
}

// DomainValues returns code to description for a coded-value domain.
// The domain catalog is parsed on the first call and each name is
// resolved once. An unknown domain, or an unreadable catalog, yields an
// empty mapping and an error wrapping domain.ErrMetadataUnavailable.
func (c *Catalog) DomainValues(ctx context.Context, domainName string) (map[int64]string, error) {
	c.domainMu.Lock()
	defer c.domainMu.Unlock()

	if values, ok := c.domains[domainName]; ok {
		return maps.Clone(values), nil
	}
	if err, ok := c.missing[domainName]; ok {
		return map[int64]string{}, err
	}

	c.ensureParsed(ctx)
	if values, ok := c.catalog[domainName]; ok {
		c.domains[domainName] = values
		return maps.Clone(values), nil
	}

	c.ensureFallback(ctx)
	if values, ok := c.fallback[domainName]; ok {
		logger.Debug("Domain %s resolved from source backend", domainName)
		c.domains[domainName] = values
		return maps.Clone(values), nil
	}

	var err error
	switch {
	case c.parseErr != nil:
		err = fmt.Errorf("domain %q: %w", domainName, c.parseErr)
	default:
		err = fmt.Errorf("%w: domain %q is not defined in the catalog", domain.ErrMetadataUnavailable, domainName)
	}
	c.missing[domainName] = err
	return map[int64]string{}, err
}

// ensureParsed parses the domain catalog once (caller must hold domainMu).
func (c *Catalog) ensureParsed(ctx context.Context) {
	if c.parsed {
		return
	}
	c.parsed = true

	if c.parser == nil {
		c.parseErr = fmt.Errorf("%w: no domain catalog parser", domain.ErrMetadataUnavailable)
		return
	}

	catalog, err := c.parser.ParseDomains(ctx, c.Path())
	if err != nil {
		if !errors.Is(err, domain.ErrMetadataUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrMetadataUnavailable, err)
		}
		logger.Debug("Domain catalog unavailable: %v", err)
		c.parseErr = err
		return
	}
	c.catalog = catalog
	logger.Debug("Loaded %d domain(s) from catalog", len(catalog))
}

// ensureFallback loads backend-reported domains once (caller must hold domainMu).
func (c *Catalog) ensureFallback(ctx context.Context) {
	if c.fallbackSet {
		return
	}
	c.fallbackSet = true

	c.mu.Lock()
	handle := c.handle
	c.mu.Unlock()
	if handle == nil {
		return
	}

	c.fallback, c.fallbackErr = handle.CodedDomains(ctx)
	if c.fallbackErr != nil {
		logger.Debug("Backend domains unavailable: %v", c.fallbackErr)
	}
}
