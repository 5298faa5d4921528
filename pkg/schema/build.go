// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ISMashtakov/databaser/internal/logging"
	"github.com/ISMashtakov/databaser/internal/parallel"
	"github.com/ISMashtakov/databaser/pkg/db"
	"github.com/ISMashtakov/databaser/pkg/queries"
	"github.com/ISMashtakov/databaser/pkg/store"
)

// ColumnRow is one row of the column introspection query. A column carrying
// several constraints arrives as several rows.
type ColumnRow struct {
	TableName       string
	ColumnName      string
	DataType        string
	OrdinalPosition int
	ConstraintTable string
	ConstraintType  string
}

// Build introspects the connected database and returns the frozen schema
// model. Column queries run in parallel over chunks of TablesPerBatch
// tables; classification is tabulated once at the end.
func Build(ctx context.Context, conn db.DB, q queries.Provider, factory *store.Factory, opts Options) (*Schema, error) {
	names, err := DiscoverTableNames(ctx, conn, q, opts)
	if err != nil {
		return nil, err
	}

	s := New(opts)
	for _, name := range names {
		t := newTable(name)
		t.NeedTransferPKs = factory.New()
		s.Tables[name] = t
	}

	chunks := parallel.Chunks(names, opts.TablesPerBatch)
	err = parallel.ForEach(ctx, chunks, opts.Concurrency, func(ctx context.Context, chunk []string) error {
		return s.introspectColumns(ctx, conn, q, chunk)
	})
	if err != nil {
		return nil, err
	}

	if err := s.Tabulate(); err != nil {
		return nil, err
	}

	logging.L().Info("prepared schema model", logging.L().Args("tables", len(s.Tables)))

	return s, nil
}

// DiscoverTableNames lists the transferable tables: base tables of the
// configured schema minus partitions, the excluded set and the scratch
// store table.
func DiscoverTableNames(ctx context.Context, conn db.DB, q queries.Provider, opts Options) ([]string, error) {
	partitions, err := db.QueryStrings(ctx, conn, q.SelectPartitionNames())
	if err != nil {
		return nil, fmt.Errorf("discovering partitions: %w", err)
	}

	names, err := db.QueryStrings(ctx, conn, q.SelectTableNames(opts.ExcludedTables))
	if err != nil {
		return nil, fmt.Errorf("discovering tables: %w", err)
	}

	partitionSet := make(map[string]struct{}, len(partitions))
	for _, p := range partitions {
		partitionSet[p] = struct{}{}
	}

	filtered := make([]string, 0, len(names))
	for _, name := range names {
		if _, isPartition := partitionSet[name]; isPartition {
			continue
		}
		if name == opts.StorageTableName {
			continue
		}
		if err := queries.ValidateIdentifier(name); err != nil {
			return nil, err
		}
		filtered = append(filtered, name)
	}

	return filtered, nil
}

func (s *Schema) introspectColumns(ctx context.Context, conn db.DB, q queries.Provider, tables []string) error {
	rows, err := conn.QueryContext(ctx, q.SelectTableColumns(tables))
	if err != nil {
		return fmt.Errorf("introspecting columns: %w", err)
	}
	defer rows.Close()

	var batch []ColumnRow
	for rows.Next() {
		var (
			row             ColumnRow
			constraintTable sql.NullString
			constraintType  sql.NullString
		)
		if err := rows.Scan(
			&row.TableName,
			&row.ColumnName,
			&row.DataType,
			&row.OrdinalPosition,
			&constraintTable,
			&constraintType,
		); err != nil {
			return err
		}
		row.ConstraintTable = constraintTable.String
		row.ConstraintType = constraintType.String
		batch = append(batch, row)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range batch {
		if err := s.AppendColumn(row); err != nil {
			return err
		}
	}
	return nil
}

// AppendColumn ingests one introspection row into the model, merging
// constraint types onto existing columns and wiring FK edges both ways.
// FK edges pointing at excluded tables are dropped.
func (s *Schema) AppendColumn(row ColumnRow) error {
	t := s.Tables[row.TableName]
	if t == nil {
		return nil
	}

	if err := queries.ValidateIdentifier(row.ColumnName); err != nil {
		return err
	}

	if row.ConstraintType == ConstraintForeignKey && contains(s.opts.ExcludedTables, row.ConstraintTable) {
		row.ConstraintTable = ""
		row.ConstraintType = ""
	}

	column := t.Columns[row.ColumnName]
	if column == nil {
		dataType := row.DataType
		// The catalog reports bare ARRAY for array columns.
		if dataType == "ARRAY" {
			dataType = "integer array"
		}

		column = &Column{
			Name:            row.ColumnName,
			TableName:       row.TableName,
			DataType:        dataType,
			OrdinalPosition: row.OrdinalPosition,
		}
		t.Columns[row.ColumnName] = column
	}

	if row.ConstraintType != "" && !column.hasConstraint(row.ConstraintType) {
		column.ConstraintTypes = append(column.ConstraintTypes, row.ConstraintType)
	}
	if row.ConstraintType == ConstraintForeignKey {
		column.ConstraintTable = row.ConstraintTable

		referent := s.Tables[row.ConstraintTable]
		if referent == nil {
			return UnknownReferenceError{
				Table:  row.TableName,
				Column: row.ColumnName,
				Target: row.ConstraintTable,
			}
		}
		if !containsColumn(referent.RevertForeignTables[t.Name], column) {
			referent.RevertForeignTables[t.Name] = append(referent.RevertForeignTables[t.Name], column)
		}
	}

	return nil
}

func containsColumn(columns []*Column, column *Column) bool {
	for _, c := range columns {
		if c == column {
			return true
		}
	}
	return false
}

// LoadSourceStats reads per-table row counts and numeric primary key maxima
// from the source database. Must run after Tabulate so primary keys are
// known.
func (s *Schema) LoadSourceStats(ctx context.Context, src db.DB, q queries.Provider, concurrency int) error {
	return parallel.ForEach(ctx, s.SortedTables(), concurrency, func(ctx context.Context, t *Table) error {
		var count int64
		if err := db.QueryValue(ctx, src, q.CountRows(t.Name), &count); err != nil {
			return fmt.Errorf("counting rows of %q: %w", t.Name, err)
		}
		t.FullCount = count

		pk := t.PrimaryKey()
		if pk == nil || !isIntegerType(pk.DataType) {
			return nil
		}

		var maxPK sql.NullInt64
		if err := db.QueryValue(ctx, src, q.MaxColumnValue(t.Name, pk.Name), &maxPK); err != nil {
			return fmt.Errorf("reading max primary key of %q: %w", t.Name, err)
		}
		if maxPK.Valid {
			t.MaxPK = maxPK.Int64
		}
		return nil
	})
}

func isIntegerType(dataType string) bool {
	switch {
	case dataType == "integer", dataType == "bigint", dataType == "smallint":
		return true
	case strings.HasPrefix(dataType, "numeric"):
		return true
	}
	return false
}
