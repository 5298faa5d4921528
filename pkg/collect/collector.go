// SPDX-License-Identifier: Apache-2.0

// Package collect computes, per table, the set of primary keys whose rows
// must be transferred so that every foreign-key reference stays closed under
// the key-scoped slice. The computation is a fixed-point traversal of the
// foreign-key graph from a seed key set; cycles and self-references are
// closed by repeated passes.
package collect

import (
	"context"
	"fmt"

	"github.com/ISMashtakov/databaser/internal/logging"
	"github.com/ISMashtakov/databaser/internal/parallel"
	"github.com/ISMashtakov/databaser/pkg/db"
	"github.com/ISMashtakov/databaser/pkg/queries"
	"github.com/ISMashtakov/databaser/pkg/schema"
	"github.com/ISMashtakov/databaser/pkg/store"
)

// inaccuracyCount lowers the full-transfer detection threshold: the source
// keeps taking writes while the run is in flight, so counts drift. This is a
// diagnostic log threshold only and never feeds a transfer decision.
const inaccuracyCount = 100

// Config carries the collection parameters.
type Config struct {
	KeyTableName            string
	KeyColumnValues         []string
	KeyTableHierarchyColumn string
	FullTransferTables      []string

	// ChunkSize bounds the key-value lists of the seeding queries and the
	// page size used to read full-transfer tables. The expansion passes take
	// their IN-lists from the key stores' own chunks.
	ChunkSize int

	// Concurrency bounds the tables processed in parallel within a pass;
	// <= 0 is unbounded.
	Concurrency int

	// Validate enables the post-collection fully-transferred log.
	Validate bool
}

// KeyTableNotFoundError is raised when the configured key table is missing
// from the schema model.
type KeyTableNotFoundError struct {
	Name string
}

func (e KeyTableNotFoundError) Error() string {
	return fmt.Sprintf("key table %q not found in schema", e.Name)
}

// Collector drives the fixed-point expansion. It reads from the source and
// writes only into per-table key stores.
type Collector struct {
	src     db.DB
	model   *schema.Schema
	factory *store.Factory
	q       queries.Provider
	cfg     Config

	// Keys already expanded, per table and direction. Keeping these apart
	// from need_transfer_pks makes every pass incremental: only the keys
	// that arrived since the previous pass are queried again.
	forwardDone map[string]store.Store
	reverseDone map[string]store.Store
}

func New(src db.DB, model *schema.Schema, factory *store.Factory, q queries.Provider, cfg Config) *Collector {
	return &Collector{
		src:         src,
		model:       model,
		factory:     factory,
		q:           q,
		cfg:         cfg,
		forwardDone: make(map[string]store.Store),
		reverseDone: make(map[string]store.Store),
	}
}

// Collect seeds the key stores and expands them to fixed point. After it
// returns, every foreign key of every pending row resolves to another
// pending row.
func (c *Collector) Collect(ctx context.Context) error {
	if err := c.seed(ctx); err != nil {
		return err
	}

	for pass := 1; ; pass++ {
		grew, err := c.runPass(ctx, pass)
		if err != nil {
			return err
		}
		if !grew {
			logging.L().Info("collection reached fixed point", logging.L().Args("passes", pass))
			break
		}
	}

	for _, t := range c.model.SortedTables() {
		t.SetReadyForTransferring(true)
	}

	if c.cfg.Validate {
		if err := c.logFullTables(ctx); err != nil {
			return err
		}
	}

	return nil
}

// seed inserts the configured key values into the key table's store, closes
// the key table under its hierarchy column, seeds every table whose key
// column references the key table, and seeds full-transfer tables with all
// their source primary keys.
func (c *Collector) seed(ctx context.Context) error {
	keyTable := c.model.GetTable(c.cfg.KeyTableName)
	if keyTable == nil {
		return KeyTableNotFoundError{Name: c.cfg.KeyTableName}
	}

	if err := keyTable.NeedTransferPKs.Insert(ctx, c.cfg.KeyColumnValues); err != nil {
		return err
	}

	if err := c.expandHierarchy(ctx, keyTable); err != nil {
		return err
	}

	for _, t := range c.model.TablesWithKeyColumn() {
		if t == keyTable || t.PrimaryKey() == nil {
			continue
		}
		kc := t.KeyColumn()
		if kc.ConstraintTable != c.cfg.KeyTableName {
			continue
		}

		for _, values := range parallel.Chunks(c.cfg.KeyColumnValues, c.cfg.ChunkSize) {
			query := c.q.SelectColumnIn(t.Name, t.PrimaryKey().Name, kc.Name, values)
			pks, err := db.QueryStrings(ctx, c.src, query)
			if err != nil {
				return fmt.Errorf("seeding %q: %w", t.Name, err)
			}
			if err := t.NeedTransferPKs.Insert(ctx, pks); err != nil {
				return err
			}
		}
	}

	return c.seedFullTransferTables(ctx)
}

// expandHierarchy closes the key table's store under its self-referencing
// hierarchy column: descendants of every seeded row are seeded too.
func (c *Collector) expandHierarchy(ctx context.Context, keyTable *schema.Table) error {
	column := c.cfg.KeyTableHierarchyColumn
	if column == "" || keyTable.Columns[column] == nil || keyTable.PrimaryKey() == nil {
		return nil
	}

	for {
		before, err := keyTable.NeedTransferPKs.Len(ctx)
		if err != nil {
			return err
		}

		err = keyTable.NeedTransferPKs.IterateChunks(ctx, func(chunk []string) error {
			query := c.q.SelectColumnIn(keyTable.Name, keyTable.PrimaryKey().Name, column, chunk)
			pks, err := db.QueryStrings(ctx, c.src, query)
			if err != nil {
				return err
			}
			return keyTable.NeedTransferPKs.Insert(ctx, pks)
		})
		if err != nil {
			return fmt.Errorf("expanding key table hierarchy: %w", err)
		}

		after, err := keyTable.NeedTransferPKs.Len(ctx)
		if err != nil {
			return err
		}
		if after == before {
			return nil
		}
	}
}

func (c *Collector) seedFullTransferTables(ctx context.Context) error {
	for _, name := range c.cfg.FullTransferTables {
		t := c.model.GetTable(name)
		if t == nil || t.PrimaryKey() == nil {
			logging.L().Warn(
				"full transfer table skipped",
				logging.L().Args("table", name),
			)
			continue
		}

		query := c.q.SelectColumnAll(t.Name, t.PrimaryKey().Name)
		for step := 0; ; step++ {
			paged := c.q.WithLimitOffset(query, c.cfg.ChunkSize, c.cfg.ChunkSize*step)
			pks, err := db.QueryStrings(ctx, c.src, paged)
			if err != nil {
				return fmt.Errorf("seeding full transfer table %q: %w", name, err)
			}
			if len(pks) == 0 {
				break
			}
			if err := t.NeedTransferPKs.Insert(ctx, pks); err != nil {
				return err
			}
		}
	}
	return nil
}

// runPass performs one forward and one reverse expansion over every eligible
// table and reports whether any store grew. A pass is a barrier: the next one
// starts only when every table finished this one.
func (c *Collector) runPass(ctx context.Context, pass int) (bool, error) {
	before, err := c.storeSizes(ctx)
	if err != nil {
		return false, err
	}

	var forward []*schema.Table
	for _, t := range c.model.TablesWithoutGenerics() {
		if t.IsChecked() || t.PrimaryKey() == nil {
			continue
		}
		notEmpty, err := t.NeedTransferPKs.IsNotEmpty(ctx)
		if err != nil {
			return false, err
		}
		if notEmpty {
			forward = append(forward, t)
		}
	}

	err = parallel.ForEach(ctx, forward, c.cfg.Concurrency, c.expandForward)
	if err != nil {
		return false, err
	}

	err = parallel.ForEach(ctx, c.model.TablesWithKeyColumn(), c.cfg.Concurrency, c.expandReverse)
	if err != nil {
		return false, err
	}

	after, err := c.storeSizes(ctx)
	if err != nil {
		return false, err
	}

	grew := false
	var pending int64
	for name, n := range after {
		pending += n
		if n > before[name] {
			c.model.GetTable(name).SetChecked(false)
			grew = true
		}
	}

	logging.L().Info(
		"collection pass finished",
		logging.L().Args("pass", pass, "expanded_tables", len(forward), "pending_keys", pending),
	)

	return grew, nil
}

// expandForward pulls, for every new pending key of t, the referent primary
// keys its rows point at, so that every foreign key of a transferred row
// resolves to a transferred row. The most restrictive edges are queried
// first; every remaining FK column follows so the closure holds for all of
// them. Self-references feed the table's own store and are closed one level
// per pass.
func (c *Collector) expandForward(ctx context.Context, t *schema.Table) error {
	done := c.forwardDoneStore(t.Name)
	processed := c.factory.New()

	err := t.NeedTransferPKs.IterateDifference(ctx, done, func(chunk []string) error {
		for _, column := range traversalColumns(t) {
			referent := c.model.GetTable(column.ConstraintTable)
			if referent == nil {
				continue
			}

			query := c.q.SelectColumnIn(t.Name, column.Name, t.PrimaryKey().Name, chunk)
			values, err := db.QueryStrings(ctx, c.src, query)
			if err != nil {
				return fmt.Errorf("forward pull %s.%s: %w", t.Name, column.Name, err)
			}
			if err := referent.NeedTransferPKs.Insert(ctx, values); err != nil {
				return err
			}
		}
		return processed.Insert(ctx, chunk)
	})
	if err != nil {
		return err
	}

	// Keys inserted by other tables while this iteration ran are picked up
	// on the next pass; the growth check reopens the table.
	if err := done.InsertFrom(ctx, processed); err != nil {
		return err
	}
	if err := processed.Delete(ctx); err != nil {
		return err
	}

	t.SetChecked(true)
	return nil
}

// expandReverse pulls, for every new pending key of a key-column table r,
// the primary keys of rows in other tables referencing it, so rows that
// point at a key-scoped row are brought along.
func (c *Collector) expandReverse(ctx context.Context, r *schema.Table) error {
	notEmpty, err := r.NeedTransferPKs.IsNotEmpty(ctx)
	if err != nil || !notEmpty {
		return err
	}

	done := c.reverseDoneStore(r.Name)
	processed := c.factory.New()

	err = r.NeedTransferPKs.IterateDifference(ctx, done, func(chunk []string) error {
		for referencing, columns := range r.RevertForeignTables {
			t := c.model.GetTable(referencing)
			if t == nil || t.PrimaryKey() == nil || c.model.IsGeneric(referencing) {
				continue
			}

			for _, column := range columns {
				query := c.q.SelectColumnIn(t.Name, t.PrimaryKey().Name, column.Name, chunk)
				pks, err := db.QueryStrings(ctx, c.src, query)
				if err != nil {
					return fmt.Errorf("reverse pull %s.%s: %w", t.Name, column.Name, err)
				}
				if err := t.NeedTransferPKs.Insert(ctx, pks); err != nil {
					return err
				}
			}
		}
		return processed.Insert(ctx, chunk)
	})
	if err != nil {
		return err
	}

	if err := done.InsertFrom(ctx, processed); err != nil {
		return err
	}
	return processed.Delete(ctx)
}

func (c *Collector) forwardDoneStore(table string) store.Store {
	if c.forwardDone[table] == nil {
		c.forwardDone[table] = c.factory.New()
	}
	return c.forwardDone[table]
}

func (c *Collector) reverseDoneStore(table string) store.Store {
	if c.reverseDone[table] == nil {
		c.reverseDone[table] = c.factory.New()
	}
	return c.reverseDone[table]
}

func (c *Collector) storeSizes(ctx context.Context) (map[string]int64, error) {
	sizes := make(map[string]int64, len(c.model.Tables))
	for name, t := range c.model.Tables {
		n, err := t.NeedTransferPKs.Len(ctx)
		if err != nil {
			return nil, err
		}
		sizes[name] = n
	}
	return sizes, nil
}

// traversalColumns orders a table's FK columns for forward expansion:
// highest-priority edges first, then the remaining non-self edges, then
// self-references.
func traversalColumns(t *schema.Table) []*schema.Column {
	columns := make([]*schema.Column, 0, len(t.ForeignKeyColumns()))
	columns = append(columns, t.HighestPriorityFKColumns()...)
	for _, c := range t.NotSelfFKColumns() {
		if !containsColumn(columns, c) {
			columns = append(columns, c)
		}
	}
	columns = append(columns, t.SelfFKColumns()...)
	return columns
}

func containsColumn(columns []*schema.Column, column *schema.Column) bool {
	for _, c := range columns {
		if c == column {
			return true
		}
	}
	return false
}

func (c *Collector) logFullTables(ctx context.Context) error {
	for _, t := range c.model.SortedTables() {
		n, err := t.NeedTransferPKs.Len(ctx)
		if err != nil {
			return err
		}
		if n > 0 && n >= t.FullCount-inaccuracyCount {
			logging.L().Info(
				"table fully transferred",
				logging.L().Args("table", t.Name, "keys", n, "full_count", t.FullCount),
			)
		}
	}
	return nil
}
