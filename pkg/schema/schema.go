// SPDX-License-Identifier: Apache-2.0

// Package schema holds the in-memory model of the destination schema: tables,
// columns, the foreign-key graph in both directions, and the derived
// key-reachability classifications the collector traverses by.
package schema

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ISMashtakov/databaser/pkg/store"
)

// Constraint types as reported by information_schema.
const (
	ConstraintPrimaryKey = "PRIMARY KEY"
	ConstraintForeignKey = "FOREIGN KEY"
	ConstraintUnique     = "UNIQUE"
)

// Options control introspection and classification.
type Options struct {
	// SchemaName is the database schema, normally "public".
	SchemaName string

	// KeyTableName is the root table defining the slice.
	KeyTableName string

	// KeyColumnNames are column names recognized as key columns.
	KeyColumnNames []string

	// ExcludedTables never appear in the model; FK edges pointing at them
	// are dropped.
	ExcludedTables []string

	// GenericFKTables hold polymorphic references and are excluded from
	// traversal and from truncation defaults.
	GenericFKTables []string

	// StorageTableName is the scratch store table, filtered out of the
	// transferable tables list.
	StorageTableName string

	// TablesPerBatch bounds how many tables one column-introspection query
	// covers.
	TablesPerBatch int

	// Concurrency bounds parallel introspection queries; <= 0 is unbounded.
	Concurrency int
}

// Schema is the model of one database schema. It is mutated only during
// introspection and is read-only afterwards.
type Schema struct {
	Name   string
	Tables map[string]*Table

	opts Options

	// mu serializes ingestion; column queries for different chunks run in
	// parallel but wire edges into shared tables.
	mu sync.Mutex

	tablesWithoutGenerics []*Table
	tablesWithKeyColumn   []*Table
}

// New creates an empty schema model.
func New(opts Options) *Schema {
	if opts.SchemaName == "" {
		opts.SchemaName = "public"
	}
	return &Schema{
		Name:   opts.SchemaName,
		Tables: make(map[string]*Table),
		opts:   opts,
	}
}

// Table models one destination table and its collection state.
type Table struct {
	Name    string
	Columns map[string]*Column

	// FullCount is the source cardinality at introspection time.
	FullCount int64

	// MaxPK is the numeric upper bound of the source primary key, used to
	// advance sequences with slack.
	MaxPK int64

	// RevertForeignTables maps a referencing table name to the columns in
	// that table which reference this one.
	RevertForeignTables map[string][]*Column

	// NeedTransferPKs holds the primary keys pending transfer.
	NeedTransferPKs store.Store

	transferredPKs atomic.Int64
	checked        atomic.Bool
	ready          atomic.Bool

	// Tabulated classification results; valid after Tabulate.
	primaryKey       *Column
	keyColumn        *Column
	fkColumns        []*Column
	selfFKColumns    []*Column
	notSelfFKColumns []*Column
	uniqueFKColumns  []*Column

	fkColumnsWithKeyColumn       []*Column
	uniqueFKColumnsWithKeyColumn []*Column
	fkColumnsTwoHop              []*Column
	uniqueFKColumnsTwoHop        []*Column
	highestPriorityFKColumns     []*Column
}

func newTable(name string) *Table {
	return &Table{
		Name:                name,
		Columns:             make(map[string]*Column),
		RevertForeignTables: make(map[string][]*Column),
	}
}

// Column models one column of a table. ConstraintTable is a table-name index
// into the schema's table map rather than an owning pointer.
type Column struct {
	Name            string
	TableName       string
	DataType        string
	OrdinalPosition int
	ConstraintTypes []string
	ConstraintTable string

	isKeyColumn bool
}

func (c *Column) hasConstraint(constraint string) bool {
	for _, t := range c.ConstraintTypes {
		if t == constraint {
			return true
		}
	}
	return false
}

// IsForeignKey reports whether the column carries a FOREIGN KEY constraint.
func (c *Column) IsForeignKey() bool {
	return c.hasConstraint(ConstraintForeignKey)
}

// IsPrimaryKey reports whether the column carries a PRIMARY KEY constraint.
func (c *Column) IsPrimaryKey() bool {
	return c.hasConstraint(ConstraintPrimaryKey)
}

// IsUnique reports whether the column is unique-constrained, or is both a
// foreign and a primary key.
func (c *Column) IsUnique() bool {
	return c.hasConstraint(ConstraintUnique) || (c.IsForeignKey() && c.IsPrimaryKey())
}

// IsSelfFK reports whether the column references its own table.
func (c *Column) IsSelfFK() bool {
	return c.IsForeignKey() && c.ConstraintTable == c.TableName
}

// IsKeyColumn reports whether the column is a configured key column or
// references the key table. Valid after Tabulate.
func (c *Column) IsKeyColumn() bool {
	return c.isKeyColumn
}

// OrderedColumns returns the table's columns by ordinal position.
func (t *Table) OrderedColumns() []*Column {
	columns := make([]*Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		columns = append(columns, c)
	}
	sort.Slice(columns, func(i, j int) bool {
		return columns[i].OrdinalPosition < columns[j].OrdinalPosition
	})
	return columns
}

// PrimaryKey returns the table's primary key column, or nil. Composite
// primary keys are unsupported; date-typed primary key columns are ignored.
func (t *Table) PrimaryKey() *Column {
	return t.primaryKey
}

// KeyColumn returns the table's key column, or nil.
func (t *Table) KeyColumn() *Column {
	return t.keyColumn
}

// WithKeyColumn reports whether the table has a key column.
func (t *Table) WithKeyColumn() bool {
	return t.keyColumn != nil
}

// ForeignKeyColumns returns every FK column, self-references included.
func (t *Table) ForeignKeyColumns() []*Column {
	return t.fkColumns
}

// SelfFKColumns returns the FK columns referencing the table itself.
func (t *Table) SelfFKColumns() []*Column {
	return t.selfFKColumns
}

// NotSelfFKColumns returns the FK columns referencing other tables.
func (t *Table) NotSelfFKColumns() []*Column {
	return t.notSelfFKColumns
}

// HighestPriorityFKColumns returns the most restrictive traversal edges:
// the first non-empty of unique+direct, (unique two-hop ∪ direct),
// two-hop, all non-self FK columns.
func (t *Table) HighestPriorityFKColumns() []*Column {
	return t.highestPriorityFKColumns
}

// IsChecked reports whether the collector finished expanding this table's
// contributions in the current pass.
func (t *Table) IsChecked() bool {
	return t.checked.Load()
}

func (t *Table) SetChecked(checked bool) {
	t.checked.Store(checked)
}

// IsReadyForTransferring reports whether collection reached fixed point for
// this table.
func (t *Table) IsReadyForTransferring() bool {
	return t.ready.Load()
}

func (t *Table) SetReadyForTransferring(ready bool) {
	t.ready.Store(ready)
}

// TransferredPKs returns how many rows the transporter inserted.
func (t *Table) TransferredPKs() int64 {
	return t.transferredPKs.Load()
}

// AddTransferredPKs accumulates the transferred row count.
func (t *Table) AddTransferredPKs(n int64) {
	t.transferredPKs.Add(n)
}

// ColumnNamesOrdered returns column names in ordinal position order.
func (t *Table) ColumnNamesOrdered() []string {
	columns := t.OrderedColumns()
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	return names
}

// ColumnTypesOrdered returns column data types aligned with
// ColumnNamesOrdered.
func (t *Table) ColumnTypesOrdered() []string {
	columns := t.OrderedColumns()
	types := make([]string, len(columns))
	for i, c := range columns {
		types[i] = c.DataType
	}
	return types
}

// GetTable returns a table by name, or nil.
func (s *Schema) GetTable(name string) *Table {
	return s.Tables[name]
}

// TableNames returns every table name, sorted.
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SortedTables returns every table, sorted by name.
func (s *Schema) SortedTables() []*Table {
	tables := make([]*Table, 0, len(s.Tables))
	for _, name := range s.TableNames() {
		tables = append(tables, s.Tables[name])
	}
	return tables
}

// TablesWithoutGenerics returns every table not listed as a generic-FK
// table. Valid after Tabulate.
func (s *Schema) TablesWithoutGenerics() []*Table {
	return s.tablesWithoutGenerics
}

// TablesWithKeyColumn returns the non-generic tables carrying a key column.
// Valid after Tabulate.
func (s *Schema) TablesWithKeyColumn() []*Table {
	return s.tablesWithKeyColumn
}

// IsGeneric reports whether the table holds polymorphic references and must
// be skipped in traversal.
func (s *Schema) IsGeneric(name string) bool {
	return contains(s.opts.GenericFKTables, name)
}

func contains(list []string, name string) bool {
	for _, item := range list {
		if item == name {
			return true
		}
	}
	return false
}

// UnknownReferenceError is raised for a foreign key referencing a table
// missing from the model. This is a configuration error: the target was
// neither introspected nor excluded.
type UnknownReferenceError struct {
	Table  string
	Column string
	Target string
}

func (e UnknownReferenceError) Error() string {
	return fmt.Sprintf(
		"foreign key %s.%s references unknown table %q",
		e.Table, e.Column, e.Target,
	)
}
