package spatialite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driven"
)

//go:embed registries.sql
var registriesDDL string

// maxIndexName bounds generated unique index names.
const maxIndexName = 50

var _ driven.MetadataSink = (*Sink)(nil)

// Sink writes metadata registries and unique indexes into destination
// files produced by the bulk copy. It opens a short-lived connection per
// call; the caller serialises access to each file.
type Sink struct{}

// NewSink creates a sink.
func NewSink() *Sink {
	return &Sink{}
}

// open connects to an existing destination. It never creates one: a
// missing file means the conversion did not produce it.
func open(destFile string) (*sql.DB, error) {
	if _, err := os.Stat(destFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: destination %s", domain.ErrNotFound, destFile)
		}
		return nil, fmt.Errorf("stat destination: %w", err)
	}

	db, err := sql.Open("sqlite", destFile+"?_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening destination: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// Apply writes md into table in one transaction. Registry rows are
// upserted on their keys, so applying the same metadata twice leaves the
// registries unchanged.
func (s *Sink) Apply(ctx context.Context, destFile, table string, md domain.LayerMetadata) (domain.ApplyResult, error) {
	db, err := open(destFile)
	if err != nil {
		return domain.ApplyResult{}, err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ApplyResult{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, registriesDDL); err != nil {
		return domain.ApplyResult{}, fmt.Errorf("creating metadata registries: %w", err)
	}

	resolved, err := resolveTable(ctx, tx, table)
	if err != nil {
		return domain.ApplyResult{}, err
	}
	cols, err := tableColumns(ctx, tx, resolved)
	if err != nil {
		return domain.ApplyResult{}, err
	}

	res := domain.ApplyResult{Table: resolved}

	for _, a := range md.Aliases {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO metadata_field_aliases (table_name, field_name, alias)
			VALUES (?, ?, ?)
			ON CONFLICT(table_name, field_name) DO UPDATE SET alias = excluded.alias
		`, resolved, cols.match(a.Field), a.Alias)
		if err != nil {
			return domain.ApplyResult{}, fmt.Errorf("saving alias of %s: %w", a.Field, err)
		}
		res.AliasesApplied++
	}

	for _, d := range md.Domains {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO metadata_domain_values (table_name, field_name, code, description)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(table_name, field_name, code) DO UPDATE SET description = excluded.description
		`, resolved, cols.match(d.Field), d.Code, d.Description)
		if err != nil {
			return domain.ApplyResult{}, fmt.Errorf("saving domain value %d of %s: %w", d.Code, d.Field, err)
		}
		res.DomainRowsApplied++
	}

	if md.PrimaryKey != nil && len(md.PrimaryKey.Columns) > 0 {
		if err := ensureUniqueIndex(ctx, tx, resolved, cols, md.PrimaryKey.Columns); err != nil {
			return domain.ApplyResult{}, err
		}
		res.PrimaryKeyApplied = true
	}

	if err := tx.Commit(); err != nil {
		return domain.ApplyResult{}, fmt.Errorf("committing metadata: %w", err)
	}
	return res, nil
}

// Optimize applies the profile pragmas and refreshes planner statistics.
func (s *Sink) Optimize(ctx context.Context, destFile string, tuning domain.Tuning) error {
	db, err := open(destFile)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, stmt := range tuning.Pragmas() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	if _, err := db.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	return nil
}

// ensureUniqueIndex creates the key's unique index unless an equivalent
// one exists. Every key column must exist in the table.
func ensureUniqueIndex(ctx context.Context, tx *sql.Tx, table string, cols columnSet, key []string) error {
	resolved := make([]string, len(key))
	for i, c := range key {
		actual, ok := cols[strings.ToLower(c)]
		if !ok {
			return fmt.Errorf("%w: key column %q is not in table %s", domain.ErrNotFound, c, table)
		}
		resolved[i] = actual
	}

	if implicitKey(resolved) {
		return nil
	}

	exists, err := uniqueIndexExists(ctx, tx, table, resolved)
	if err != nil || exists {
		return err
	}

	quoted := make([]string, len(resolved))
	for i, c := range resolved {
		quoted[i] = quoteIdent(c)
	}
	stmt := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
		quoteIdent(IndexName(table, resolved)), quoteIdent(table), strings.Join(quoted, ", "))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("creating unique index on %s: %w", table, err)
	}
	return nil
}

// uniqueIndexExists reports whether a unique index covers exactly cols, in order.
func uniqueIndexExists(ctx context.Context, tx *sql.Tx, table string, cols []string) (bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name FROM pragma_index_list(?) WHERE "unique" = 1`, table)
	if err != nil {
		return false, fmt.Errorf("listing indexes of %s: %w", table, err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return false, fmt.Errorf("scanning index: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("iterating indexes: %w", err)
	}

	for _, name := range names {
		indexed, err := queryStrings(ctx, tx, `SELECT name FROM pragma_index_info(?) ORDER BY seqno`, name)
		if err != nil {
			return false, err
		}
		if equalFold(indexed, cols) {
			return true, nil
		}
	}
	return false, nil
}

// IndexName derives the unique index name for a key. Characters outside
// [A-Za-z0-9_] become underscores; names over 50 characters are cut and
// suffixed with a hash of the full name so distinct keys stay distinct.
func IndexName(table string, cols []string) string {
	parts := make([]string, 0, len(cols)+2)
	parts = append(parts, "pk", sanitize(table))
	for _, c := range cols {
		parts = append(parts, sanitize(c))
	}
	name := strings.Join(parts, "_")
	if len(name) <= maxIndexName {
		return name
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return fmt.Sprintf("%s_%08x", name[:maxIndexName-9], h.Sum32())
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// implicitKey is true for a single object-id column the table is
// already keyed on.
func implicitKey(cols []string) bool {
	if len(cols) != 1 {
		return false
	}
	switch strings.ToLower(cols[0]) {
	case "ogc_fid", "fid", "objectid":
		return true
	}
	return false
}

func equalFold(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
