package domain

// LayerDescriptor identifies one feature collection inside the source container.
// It is immutable once enumerated.
type LayerDescriptor struct {
	// Name is the layer name as stored in the source.
	Name string

	// FeatureCount is the number of features, never negative.
	FeatureCount int64

	// HasGeometry is false for attribute-only tables.
	HasGeometry bool
}

// FieldDef describes one attribute column of a source layer.
type FieldDef struct {
	// Name is the storage identifier of the column.
	Name string

	// Alias is the display name, empty when none is declared.
	Alias string

	// DomainName names the coded-value domain bound to the column, if any.
	DomainName string

	// Unique is true when the source declares a uniqueness constraint.
	Unique bool
}

// LayerSchema is the attribute schema of a source layer.
type LayerSchema struct {
	Layer LayerDescriptor

	// FIDColumn is the source's object identifier column.
	FIDColumn string

	// Fields lists columns in declaration order.
	Fields []FieldDef

	// PrimaryKeyHint is a key column list found in layer metadata, if any.
	PrimaryKeyHint []string
}

// Field returns the field with the given name.
func (s *LayerSchema) Field(name string) (FieldDef, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}
