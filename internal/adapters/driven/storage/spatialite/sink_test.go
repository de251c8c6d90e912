package spatialite

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
)

// setupDestination creates a destination shaped like the copy backend's output.
func setupDestination(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "city.sqlite")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE parcels (
			ogc_fid INTEGER PRIMARY KEY,
			parcel_id TEXT,
			landuse INTEGER,
			zone TEXT,
			geometry BLOB
		);
		CREATE TABLE "road-segments" (ogc_fid INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO parcels (parcel_id, landuse, zone) VALUES ('A-1', 1, 'N'), ('A-2', 2, 'S');
	`)
	require.NoError(t, err)
	return path
}

func parcelsMetadata() domain.LayerMetadata {
	return domain.LayerMetadata{
		Aliases: []domain.FieldAlias{
			{Table: "Parcels", Field: "PARCEL_ID", Alias: "Parcel identifier"},
			{Table: "Parcels", Field: "LANDUSE", Alias: "Land use"},
		},
		Domains: []domain.DomainEntry{
			{Table: "Parcels", Field: "LANDUSE", Code: 1, Description: "Residential"},
			{Table: "Parcels", Field: "LANDUSE", Code: 2, Description: "Commercial"},
		},
		PrimaryKey: &domain.PrimaryKeySpec{Table: "Parcels", Columns: []string{"PARCEL_ID"}},
	}
}

func openRegistry(t *testing.T, path string) *Registry {
	t.Helper()
	r, err := OpenRegistry(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestSink_ApplyRoundTrip(t *testing.T) {
	path := setupDestination(t)
	ctx := context.Background()

	res, err := NewSink().Apply(ctx, path, "Parcels", parcelsMetadata())
	require.NoError(t, err)

	assert.Equal(t, "parcels", res.Table)
	assert.Equal(t, 2, res.AliasesApplied)
	assert.Equal(t, 2, res.DomainRowsApplied)
	assert.True(t, res.PrimaryKeyApplied)

	r := openRegistry(t, path)

	aliases, err := r.Aliases(ctx, "parcels")
	require.NoError(t, err)
	assert.Equal(t, []domain.FieldAlias{
		{Table: "parcels", Field: "landuse", Alias: "Land use"},
		{Table: "parcels", Field: "parcel_id", Alias: "Parcel identifier"},
	}, aliases)

	values, err := r.DomainValues(ctx, "parcels")
	require.NoError(t, err)
	assert.Equal(t, []domain.DomainEntry{
		{Table: "parcels", Field: "landuse", Code: 1, Description: "Residential"},
		{Table: "parcels", Field: "landuse", Code: 2, Description: "Commercial"},
	}, values)

	indexes, err := r.UniqueIndexes(ctx, "parcels")
	require.NoError(t, err)
	assert.Equal(t, []string{"pk_parcels_parcel_id"}, indexes)

	tables, err := r.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"parcels"}, tables)
}

func TestSink_ApplyIsIdempotent(t *testing.T) {
	path := setupDestination(t)
	ctx := context.Background()
	sink := NewSink()

	_, err := sink.Apply(ctx, path, "Parcels", parcelsMetadata())
	require.NoError(t, err)

	r := openRegistry(t, path)
	aliasesOnce, err := r.Aliases(ctx, "parcels")
	require.NoError(t, err)
	valuesOnce, err := r.DomainValues(ctx, "parcels")
	require.NoError(t, err)

	res, err := sink.Apply(ctx, path, "Parcels", parcelsMetadata())
	require.NoError(t, err)
	assert.True(t, res.PrimaryKeyApplied)

	aliasesTwice, err := r.Aliases(ctx, "parcels")
	require.NoError(t, err)
	valuesTwice, err := r.DomainValues(ctx, "parcels")
	require.NoError(t, err)
	indexes, err := r.UniqueIndexes(ctx, "parcels")
	require.NoError(t, err)

	assert.Equal(t, aliasesOnce, aliasesTwice)
	assert.Equal(t, valuesOnce, valuesTwice)
	assert.Len(t, indexes, 1)
}

func TestSink_UpsertReplacesDescription(t *testing.T) {
	path := setupDestination(t)
	ctx := context.Background()
	sink := NewSink()

	_, err := sink.Apply(ctx, path, "parcels", parcelsMetadata())
	require.NoError(t, err)

	md := domain.LayerMetadata{Domains: []domain.DomainEntry{
		{Table: "parcels", Field: "landuse", Code: 2, Description: "Retail"},
	}}
	_, err = sink.Apply(ctx, path, "parcels", md)
	require.NoError(t, err)

	values, err := openRegistry(t, path).DomainValues(ctx, "parcels")
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "Retail", values[1].Description)
}

func TestSink_EmptyMetadataCreatesRegistries(t *testing.T) {
	path := setupDestination(t)
	ctx := context.Background()

	res, err := NewSink().Apply(ctx, path, "parcels", domain.LayerMetadata{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.AliasesApplied)
	assert.False(t, res.PrimaryKeyApplied)

	r := openRegistry(t, path)
	aliases, err := r.Aliases(ctx, "parcels")
	require.NoError(t, err)
	assert.Empty(t, aliases)

	ok, err := r.hasRegistries(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSink_MissingKeyColumnRollsBack(t *testing.T) {
	path := setupDestination(t)
	ctx := context.Background()

	md := parcelsMetadata()
	md.PrimaryKey = &domain.PrimaryKeySpec{Table: "Parcels", Columns: []string{"PARCEL_ID", "NOPE"}}

	_, err := NewSink().Apply(ctx, path, "Parcels", md)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	r := openRegistry(t, path)
	ok, err := r.hasRegistries(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "registry creation must roll back with the rest")

	indexes, err := r.UniqueIndexes(ctx, "parcels")
	require.NoError(t, err)
	assert.Empty(t, indexes)
}

func TestSink_DuplicateValuesFailUniqueIndex(t *testing.T) {
	path := setupDestination(t)
	ctx := context.Background()

	md := domain.LayerMetadata{
		Aliases:    []domain.FieldAlias{{Table: "parcels", Field: "zone", Alias: "Zone"}},
		PrimaryKey: &domain.PrimaryKeySpec{Table: "parcels", Columns: []string{"landuse", "zone"}},
	}
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO parcels (parcel_id, landuse, zone) VALUES ('A-3', 1, 'N')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = NewSink().Apply(ctx, path, "parcels", md)
	require.Error(t, err)

	aliases, err := openRegistry(t, path).Aliases(ctx, "parcels")
	require.NoError(t, err)
	assert.Empty(t, aliases)
}

func TestSink_ImplicitKeySkipped(t *testing.T) {
	path := setupDestination(t)
	ctx := context.Background()

	md := domain.LayerMetadata{PrimaryKey: &domain.PrimaryKeySpec{Table: "parcels", Columns: []string{"OGC_FID"}}}
	res, err := NewSink().Apply(ctx, path, "parcels", md)
	require.NoError(t, err)
	assert.True(t, res.PrimaryKeyApplied)

	indexes, err := openRegistry(t, path).UniqueIndexes(ctx, "parcels")
	require.NoError(t, err)
	assert.Empty(t, indexes)
}

func TestSink_ExistingUniqueIndexReused(t *testing.T) {
	path := setupDestination(t)
	ctx := context.Background()

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE UNIQUE INDEX custom_parcel ON parcels (parcel_id)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	md := domain.LayerMetadata{PrimaryKey: &domain.PrimaryKeySpec{Table: "parcels", Columns: []string{"PARCEL_ID"}}}
	res, err := NewSink().Apply(ctx, path, "parcels", md)
	require.NoError(t, err)
	assert.True(t, res.PrimaryKeyApplied)

	indexes, err := openRegistry(t, path).UniqueIndexes(ctx, "parcels")
	require.NoError(t, err)
	assert.Equal(t, []string{"custom_parcel"}, indexes)
}

func TestSink_ResolvesLaunderedTableName(t *testing.T) {
	path := setupDestination(t)

	res, err := NewSink().Apply(context.Background(), path, "Road Segments", domain.LayerMetadata{
		Aliases: []domain.FieldAlias{{Field: "NAME", Alias: "Street name"}},
	})
	// "Road Segments" -> "Road_Segments" does not exist; "road-segments" is only
	// reachable from a hyphenated request.
	require.ErrorIs(t, err, domain.ErrNotFound)

	res, err = NewSink().Apply(context.Background(), path, "ROAD-SEGMENTS", domain.LayerMetadata{
		Aliases: []domain.FieldAlias{{Field: "NAME", Alias: "Street name"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "road-segments", res.Table)
}

func TestSink_MissingDestination(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.sqlite")

	_, err := NewSink().Apply(context.Background(), path, "parcels", domain.LayerMetadata{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoFileExists(t, path)
}

func TestSink_Optimize(t *testing.T) {
	path := setupDestination(t)
	ctx := context.Background()

	require.NoError(t, NewSink().Optimize(ctx, path, domain.TuningFor(domain.ProfileDefault)))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))

	var stats int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE name = 'sqlite_stat1'").Scan(&stats))
	assert.Equal(t, 1, stats)
}

func TestIndexName(t *testing.T) {
	tests := []struct {
		name  string
		table string
		cols  []string
		want  string
	}{
		{"simple", "parcels", []string{"parcel_id"}, "pk_parcels_parcel_id"},
		{"composite", "parcels", []string{"zone", "lot"}, "pk_parcels_zone_lot"},
		{"sanitised", "road-segments", []string{"seg.id"}, "pk_road_segments_seg_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IndexName(tt.table, tt.cols))
		})
	}

	long := IndexName("a_very_long_table_name_for_testing", []string{"first_column", "second_column"})
	assert.Len(t, long, maxIndexName)
	assert.True(t, strings.HasPrefix(long, "pk_a_very_long_table_name_for_testing_fir"))

	other := IndexName("a_very_long_table_name_for_testing", []string{"first_column", "third_column"})
	assert.NotEqual(t, long, other)
}

func TestTableVariants(t *testing.T) {
	assert.Equal(t, []string{"Road Segments", "road segments", "ROAD SEGMENTS", "Road_Segments", "road_segments"},
		TableVariants("Road Segments"))
	assert.Equal(t, []string{"parcels", "PARCELS"}, TableVariants("parcels"))
}
