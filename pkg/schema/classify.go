// SPDX-License-Identifier: Apache-2.0

package schema

import "github.com/ISMashtakov/databaser/internal/logging"

// Tabulate computes every derived classification into plain fields. It runs
// once, after the last introspection chunk; the graph is frozen afterwards
// and the results are immutable lookups.
func (s *Schema) Tabulate() error {
	// Key columns and per-table FK partitions first; the two-hop
	// classifications below read withKeyColumn across tables.
	for _, t := range s.Tables {
		t.tabulateColumns(s.opts)
	}

	for _, t := range s.Tables {
		t.tabulateReachability(s)
		t.tabulatePriority()
	}

	s.tablesWithoutGenerics = nil
	s.tablesWithKeyColumn = nil
	for _, t := range s.SortedTables() {
		if s.IsGeneric(t.Name) {
			continue
		}
		s.tablesWithoutGenerics = append(s.tablesWithoutGenerics, t)
		if t.WithKeyColumn() {
			s.tablesWithKeyColumn = append(s.tablesWithKeyColumn, t)
		}
	}

	for _, t := range s.Tables {
		if t.primaryKey == nil && len(t.Columns) > 0 {
			logging.L().Warn(
				"table has no usable primary key",
				logging.L().Args("table", t.Name),
			)
		}
	}

	return nil
}

func (t *Table) tabulateColumns(opts Options) {
	t.primaryKey = nil
	t.keyColumn = nil
	t.fkColumns = nil
	t.selfFKColumns = nil
	t.notSelfFKColumns = nil
	t.uniqueFKColumns = nil

	for _, c := range t.OrderedColumns() {
		c.isKeyColumn = contains(opts.KeyColumnNames, c.Name) ||
			(c.ConstraintTable != "" && c.ConstraintTable == opts.KeyTableName)

		if t.keyColumn == nil && c.isKeyColumn {
			t.keyColumn = c
		}

		// Date-typed primary keys are skipped pending composite-key
		// support.
		if t.primaryKey == nil && c.IsPrimaryKey() && c.DataType != "date" {
			t.primaryKey = c
		}

		if !c.IsForeignKey() {
			continue
		}
		t.fkColumns = append(t.fkColumns, c)
		if c.IsSelfFK() {
			t.selfFKColumns = append(t.selfFKColumns, c)
			continue
		}
		t.notSelfFKColumns = append(t.notSelfFKColumns, c)
		if c.IsUnique() {
			t.uniqueFKColumns = append(t.uniqueFKColumns, c)
		}
	}
}

func (t *Table) tabulateReachability(s *Schema) {
	t.fkColumnsWithKeyColumn = nil
	t.uniqueFKColumnsWithKeyColumn = nil
	t.fkColumnsTwoHop = nil
	t.uniqueFKColumnsTwoHop = nil

	for _, c := range t.notSelfFKColumns {
		referent := s.Tables[c.ConstraintTable]
		if referent == nil {
			continue
		}

		if referent.WithKeyColumn() {
			t.fkColumnsWithKeyColumn = append(t.fkColumnsWithKeyColumn, c)
			if c.IsUnique() {
				t.uniqueFKColumnsWithKeyColumn = append(t.uniqueFKColumnsWithKeyColumn, c)
			}
		}

		if referentReachesKey(s, referent) {
			t.fkColumnsTwoHop = append(t.fkColumnsTwoHop, c)
			if c.IsUnique() {
				t.uniqueFKColumnsTwoHop = append(t.uniqueFKColumnsTwoHop, c)
			}
		}
	}
}

// referentReachesKey reports whether the referent itself has a non-self FK
// into a table with a key column.
func referentReachesKey(s *Schema, referent *Table) bool {
	for _, rc := range referent.notSelfFKColumns {
		target := s.Tables[rc.ConstraintTable]
		if target != nil && target.WithKeyColumn() {
			return true
		}
	}
	return false
}

// tabulatePriority selects the most restrictive traversal edges: the first
// non-empty of unique+direct, (unique two-hop ∪ direct), two-hop, all
// non-self FK columns.
func (t *Table) tabulatePriority() {
	switch {
	case len(t.uniqueFKColumnsWithKeyColumn) > 0:
		t.highestPriorityFKColumns = t.uniqueFKColumnsWithKeyColumn
	case len(t.uniqueFKColumnsTwoHop) > 0 || len(t.fkColumnsWithKeyColumn) > 0:
		var columns []*Column
		columns = append(columns, t.uniqueFKColumnsTwoHop...)
		for _, c := range t.fkColumnsWithKeyColumn {
			if !containsColumn(columns, c) {
				columns = append(columns, c)
			}
		}
		t.highestPriorityFKColumns = columns
	case len(t.fkColumnsTwoHop) > 0:
		t.highestPriorityFKColumns = t.fkColumnsTwoHop
	default:
		t.highestPriorityFKColumns = t.notSelfFKColumns
	}
}
