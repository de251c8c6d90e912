package domain

import (
	"hash/fnv"
	"strconv"
	"strings"
	"unicode/utf8"
)

// FieldAlias is a display name for a destination column.
// (Table, Field) is unique in the alias registry.
type FieldAlias struct {
	Table string
	Field string
	Alias string
}

// DomainEntry maps one stored code of a column to its description.
// (Table, Field, Code) is unique in the domain-value registry.
type DomainEntry struct {
	Table       string
	Field       string
	Code        int64
	Description string
}

// PrimaryKeySpec is an ordered, non-empty column list forming a key.
type PrimaryKeySpec struct {
	Table   string
	Columns []string
}

// LayerMetadata is everything to write for one job, already filtered
// by the job's preserve flags.
type LayerMetadata struct {
	Aliases    []FieldAlias
	Domains    []DomainEntry
	PrimaryKey *PrimaryKeySpec
}

// IsEmpty returns true if there is nothing to write.
func (m LayerMetadata) IsEmpty() bool {
	return len(m.Aliases) == 0 && len(m.Domains) == 0 && m.PrimaryKey == nil
}

// ApplyResult reports what a metadata application wrote.
type ApplyResult struct {
	// Table is the resolved destination table name.
	Table string

	AliasesApplied    int
	DomainRowsApplied int

	// PrimaryKeyApplied is true when the unique index exists after the
	// application, whether it was created now or found in place.
	PrimaryKeyApplied bool

	// Warnings lists metadata that could not be extracted and was skipped.
	Warnings []string
}

// Partial returns true if some requested metadata was skipped.
func (r ApplyResult) Partial() bool {
	return len(r.Warnings) > 0
}

// ParseDomainCode converts a coded-value code as stored in the source to
// the integer key of the domain-value registry. Integer text is kept as
// is, a single character becomes its code point, and any other text maps
// to a stable number below one million.
func ParseDomainCode(code string) int64 {
	code = strings.TrimSpace(code)
	if n, err := strconv.ParseInt(code, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(code, 64); err == nil && f == float64(int64(f)) {
		return int64(f)
	}
	if utf8.RuneCountInString(code) == 1 {
		r, _ := utf8.DecodeRuneInString(code)
		return int64(r)
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(code))
	return int64(h.Sum64() % 1_000_000)
}

// TableMetadata is what a destination table holds in the registries.
type TableMetadata struct {
	Table         string
	Aliases       []FieldAlias
	Domains       []DomainEntry
	UniqueIndexes []string
}
