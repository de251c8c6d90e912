package services

import (
	"context"
	"fmt"
	"slices"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driven"
	"github.com/custodia-labs/gdb2spatialite/internal/logger"
)

// Applier copies a layer's metadata from the source catalog into its
// destination table. It runs under the destination lock the scheduler
// already holds and never takes one itself.
type Applier struct {
	source driven.MetadataSource
	sink   driven.MetadataSink
}

// NewApplier creates an applier.
func NewApplier(source driven.MetadataSource, sink driven.MetadataSink) *Applier {
	return &Applier{source: source, sink: sink}
}

// Apply collects the metadata the job asks for and writes it in a single
// transaction. Metadata that cannot be extracted is skipped and reported
// as a warning. A failed write leaves nothing applied and returns an
// error wrapping domain.ErrMetadataApplyFailed.
func (a *Applier) Apply(ctx context.Context, job domain.ConversionJob) (domain.ApplyResult, error) {
	md, warnings := a.collect(ctx, job)

	result, err := a.sink.Apply(ctx, job.DestinationFile, job.DestinationTable, md)
	if err != nil {
		return domain.ApplyResult{Table: job.DestinationTable, Warnings: warnings},
			fmt.Errorf("%w: %s: %w", domain.ErrMetadataApplyFailed, job.DestinationTable, err)
	}

	result.Warnings = append(warnings, result.Warnings...)
	logger.Debug("[%s] metadata: %d alias(es), %d domain row(s), primary key %t",
		job.Layer.Name, result.AliasesApplied, result.DomainRowsApplied, result.PrimaryKeyApplied)
	return result, nil
}

// collect gathers the requested metadata for one job. Field order is
// sorted so repeated runs write rows in the same order.
func (a *Applier) collect(ctx context.Context, job domain.ConversionJob) (domain.LayerMetadata, []string) {
	var (
		md       domain.LayerMetadata
		warnings []string
	)
	layer := job.Layer.Name
	table := job.DestinationTable

	if job.PreserveAliases {
		aliases, err := a.source.FieldAliases(ctx, layer)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("aliases: %v", err))
		}
		for _, field := range sortedKeys(aliases) {
			md.Aliases = append(md.Aliases, domain.FieldAlias{Table: table, Field: field, Alias: aliases[field]})
		}
	}

	if job.PreserveDomains {
		bindings, err := a.source.FieldDomains(ctx, layer)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("domains: %v", err))
		}
		for _, field := range sortedKeys(bindings) {
			values, err := a.source.DomainValues(ctx, bindings[field])
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("domain %s on %s: %v", bindings[field], field, err))
				continue
			}
			for _, code := range sortedKeys(values) {
				md.Domains = append(md.Domains, domain.DomainEntry{
					Table:       table,
					Field:       field,
					Code:        code,
					Description: values[code],
				})
			}
		}
	}

	if job.PreservePrimaryKey {
		pk, err := a.source.PrimaryKey(ctx, layer)
		switch {
		case err != nil:
			warnings = append(warnings, fmt.Sprintf("primary key: %v", err))
		case pk != nil && len(pk.Columns) > 0:
			md.PrimaryKey = &domain.PrimaryKeySpec{Table: table, Columns: slices.Clone(pk.Columns)}
		}
	}

	for _, w := range warnings {
		logger.Warn("[%s] %s", layer, w)
	}
	return md, warnings
}

func sortedKeys[K string | int64, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
