package spatialite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driven"
)

var _ driven.MetadataReader = (*Reader)(nil)

// Reader implements driven.MetadataReader on top of Registry.
type Reader struct{}

// NewReader creates a reader.
func NewReader() *Reader {
	return &Reader{}
}

// ReadMetadata returns the registry contents of destFile. A table name is
// resolved the way the sink resolves it, so layer names work too.
func (Reader) ReadMetadata(ctx context.Context, destFile, table string) ([]domain.TableMetadata, error) {
	r, err := OpenRegistry(destFile)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var tables []string
	if table != "" {
		name, err := resolveTable(ctx, r.db, table)
		if err != nil {
			return nil, err
		}
		tables = []string{name}
	} else if tables, err = r.Tables(ctx); err != nil {
		return nil, err
	}

	out := make([]domain.TableMetadata, 0, len(tables))
	for _, t := range tables {
		md := domain.TableMetadata{Table: t}
		if md.Aliases, err = r.Aliases(ctx, t); err != nil {
			return nil, err
		}
		if md.Domains, err = r.DomainValues(ctx, t); err != nil {
			return nil, err
		}
		if md.UniqueIndexes, err = r.UniqueIndexes(ctx, t); err != nil {
			return nil, err
		}
		out = append(out, md)
	}
	return out, nil
}

// Registry reads back the metadata stored in a destination file.
type Registry struct {
	db *sql.DB
}

// OpenRegistry opens an existing destination for reading.
func OpenRegistry(destFile string) (*Registry, error) {
	db, err := open(destFile)
	if err != nil {
		return nil, err
	}
	return &Registry{db: db}, nil
}

// Close closes the destination.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Tables lists the tables that have registry rows, sorted by name.
// A destination without registries has none.
func (r *Registry) Tables(ctx context.Context) ([]string, error) {
	if ok, err := r.hasRegistries(ctx); err != nil || !ok {
		return nil, err
	}
	return queryStrings(ctx, r.db, `
		SELECT table_name FROM metadata_field_aliases
		UNION
		SELECT table_name FROM metadata_domain_values
		ORDER BY 1
	`)
}

// Aliases returns the alias rows of a table ordered by field.
func (r *Registry) Aliases(ctx context.Context, table string) ([]domain.FieldAlias, error) {
	if ok, err := r.hasRegistries(ctx); err != nil || !ok {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT table_name, field_name, alias FROM metadata_field_aliases
		WHERE table_name = ? ORDER BY field_name
	`, table)
	if err != nil {
		return nil, fmt.Errorf("querying aliases: %w", err)
	}
	defer rows.Close()

	var out []domain.FieldAlias
	for rows.Next() {
		var a domain.FieldAlias
		if err := rows.Scan(&a.Table, &a.Field, &a.Alias); err != nil {
			return nil, fmt.Errorf("scanning alias: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating aliases: %w", err)
	}
	return out, nil
}

// DomainValues returns the domain rows of a table ordered by field and code.
func (r *Registry) DomainValues(ctx context.Context, table string) ([]domain.DomainEntry, error) {
	if ok, err := r.hasRegistries(ctx); err != nil || !ok {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT table_name, field_name, code, description FROM metadata_domain_values
		WHERE table_name = ? ORDER BY field_name, code
	`, table)
	if err != nil {
		return nil, fmt.Errorf("querying domain values: %w", err)
	}
	defer rows.Close()

	var out []domain.DomainEntry
	for rows.Next() {
		var d domain.DomainEntry
		if err := rows.Scan(&d.Table, &d.Field, &d.Code, &d.Description); err != nil {
			return nil, fmt.Errorf("scanning domain value: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating domain values: %w", err)
	}
	return out, nil
}

// UniqueIndexes returns the names of a table's unique indexes.
func (r *Registry) UniqueIndexes(ctx context.Context, table string) ([]string, error) {
	return queryStrings(ctx, r.db,
		`SELECT name FROM pragma_index_list(?) WHERE "unique" = 1 AND origin = 'c' ORDER BY name`, table)
}

func (r *Registry) hasRegistries(ctx context.Context) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'table' AND name IN ('metadata_field_aliases', 'metadata_domain_values')
	`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking registries: %w", err)
	}
	return n == 2, nil
}
