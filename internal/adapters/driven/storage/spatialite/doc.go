// Package spatialite writes preserved metadata into destination files
// produced by the bulk copy, and reads it back.
//
// Two registry tables are created on first use:
//
//   - metadata_field_aliases(table_name, field_name, alias)
//   - metadata_domain_values(table_name, field_name, code, description)
//
// Primary keys become unique indexes named pk_<table>_<columns>.
//
// This adapter uses modernc.org/sqlite. It does not load the SpatiaLite
// extension: registries and indexes are plain SQLite objects.
package spatialite
