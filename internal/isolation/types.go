// Package isolation implements the Isolation Engine: allocating fresh
// per-environment namespaces cloned from a template, seeding them, and
// tearing them down on TTL or explicit delete, per §4.E.
package isolation

// Column is one column of a table definition.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TableDef is one table in a template's structural_definition: name,
// columns, and the constraints that must exist in any namespace cloned
// from the template.
type TableDef struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key,omitempty"`
	Unique      [][]string   `json:"unique,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
}

// ForeignKey is a single foreign-key constraint.
type ForeignKey struct {
	Columns    []string `json:"columns"`
	RefTable   string   `json:"ref_table"`
	RefColumns []string `json:"ref_columns"`
}

// StructuralDefinition is the ordered set of tables a template stamps into
// a fresh namespace. Order matters: tables are created in this order so
// foreign keys can reference earlier tables.
type StructuralDefinition []TableDef

// SeedTable is one table's seed rows, inserted in declaration order.
type SeedTable struct {
	Table string           `json:"table"`
	Rows  []map[string]any `json:"rows"`
}

// SeedBundle is a per-table ordered sequence of row literals inserted at
// clone time. Represented as an ordered slice (not a map) so JSON
// round-tripping preserves table insertion order.
type SeedBundle []SeedTable
