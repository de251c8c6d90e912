package spatialite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TableVariants lists the names the copy backend may have stored a
// requested table under, most faithful first.
func TableVariants(name string) []string {
	candidates := []string{
		name,
		strings.ToLower(name),
		strings.ToUpper(name),
		strings.ReplaceAll(name, "-", "_"),
		strings.ReplaceAll(name, " ", "_"),
		strings.ToLower(strings.NewReplacer("-", "_", " ", "_").Replace(name)),
	}

	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// resolveTable finds the stored name of a requested table.
func resolveTable(ctx context.Context, q querier, table string) (string, error) {
	for _, candidate := range TableVariants(table) {
		var name string
		err := q.QueryRowContext(ctx, `
			SELECT name FROM sqlite_master
			WHERE type = 'table' AND name = ? COLLATE NOCASE
			ORDER BY name = ? DESC
			LIMIT 1
		`, candidate, candidate).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("resolving table %s: %w", table, err)
		}
		return name, nil
	}
	return "", fmt.Errorf("%w: table %s", domain.ErrNotFound, table)
}

// columnSet maps lower-cased column names to their stored spelling.
type columnSet map[string]string

// match returns the stored spelling of name, or name itself if the
// table has no such column.
func (c columnSet) match(name string) string {
	if actual, ok := c[strings.ToLower(name)]; ok {
		return actual
	}
	return name
}

func tableColumns(ctx context.Context, q querier, table string) (columnSet, error) {
	names, err := queryStrings(ctx, q, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, err
	}
	cols := make(columnSet, len(names))
	for _, n := range names {
		cols[strings.ToLower(n)] = n
	}
	return cols, nil
}

func queryStrings(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating: %w", err)
	}
	return out, nil
}
