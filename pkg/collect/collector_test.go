// SPDX-License-Identifier: Apache-2.0

package collect_test

import (
	"context"
	"database/sql"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ISMashtakov/databaser/internal/testutils"
	"github.com/ISMashtakov/databaser/pkg/collect"
	"github.com/ISMashtakov/databaser/pkg/db"
	"github.com/ISMashtakov/databaser/pkg/queries"
	"github.com/ISMashtakov/databaser/pkg/schema"
	"github.com/ISMashtakov/databaser/pkg/store"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

type fixture struct {
	conn    db.DB
	model   *schema.Schema
	factory *store.Factory
	q       queries.Provider
}

func setup(t *testing.T, conn *sql.DB, statements []string, opts schema.Options) *fixture {
	t.Helper()
	ctx := context.Background()

	for _, stmt := range statements {
		_, err := conn.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	factory := store.NewFactory(store.FactoryOptions{ChunkSize: 100})
	q := queries.NewPostgres("public")

	opts.SchemaName = "public"
	if opts.TablesPerBatch == 0 {
		opts.TablesPerBatch = 100
	}

	rdb := &db.RDB{DB: conn}
	model, err := schema.Build(ctx, rdb, q, factory, opts)
	require.NoError(t, err)
	require.NoError(t, model.LoadSourceStats(ctx, rdb, q, 0))

	return &fixture{conn: rdb, model: model, factory: factory, q: q}
}

func (f *fixture) collect(t *testing.T, cfg collect.Config) {
	t.Helper()

	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 100
	}
	collector := collect.New(f.conn, f.model, f.factory, f.q, cfg)
	require.NoError(t, collector.Collect(context.Background()))
}

func (f *fixture) storeContents(t *testing.T, table string) []string {
	t.Helper()

	values, err := f.model.GetTable(table).NeedTransferPKs.All(context.Background())
	require.NoError(t, err)
	sort.Strings(values)
	return values
}

func TestCollectTwoTableChain(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(conn *sql.DB, _ string) {
		f := setup(t, conn, []string{
			`CREATE TABLE tenants (id integer PRIMARY KEY)`,
			`CREATE TABLE departments (id integer PRIMARY KEY, tenant_id integer REFERENCES tenants (id))`,
			`CREATE TABLE employees (id integer PRIMARY KEY, department_id integer REFERENCES departments (id))`,
			`INSERT INTO tenants VALUES (7), (8)`,
			`INSERT INTO departments VALUES (1, 7), (2, 7), (3, 8)`,
			`INSERT INTO employees VALUES (10, 1), (11, 3), (12, NULL)`,
		}, schema.Options{
			KeyTableName:   "tenants",
			KeyColumnNames: []string{"tenant_id"},
		})

		f.collect(t, collect.Config{
			KeyTableName:    "tenants",
			KeyColumnValues: []string{"7"},
		})

		assert.Equal(t, []string{"7"}, f.storeContents(t, "tenants"))
		assert.Equal(t, []string{"1", "2"}, f.storeContents(t, "departments"))
		assert.Equal(t, []string{"10"}, f.storeContents(t, "employees"))

		for _, table := range f.model.SortedTables() {
			assert.True(t, table.IsReadyForTransferring())
		}
	})
}

func TestCollectSelfFKHierarchy(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(conn *sql.DB, _ string) {
		f := setup(t, conn, []string{
			`CREATE TABLE tenants (id integer PRIMARY KEY)`,
			`CREATE TABLE org_units (
				id integer PRIMARY KEY,
				parent_id integer REFERENCES org_units (id),
				tenant_id integer REFERENCES tenants (id)
			)`,
			`INSERT INTO tenants VALUES (1), (2)`,
			`INSERT INTO org_units VALUES (1, NULL, 1), (2, 1, NULL), (3, 2, NULL), (4, NULL, 2)`,
		}, schema.Options{
			KeyTableName:   "tenants",
			KeyColumnNames: []string{"tenant_id"},
		})

		f.collect(t, collect.Config{
			KeyTableName:    "tenants",
			KeyColumnValues: []string{"1"},
		})

		// The transitive closure of descendants of every org unit with
		// tenant 1, and nothing from tenant 2.
		assert.Equal(t, []string{"1", "2", "3"}, f.storeContents(t, "org_units"))
		assert.Equal(t, []string{"1"}, f.storeContents(t, "tenants"))
	})
}

func TestCollectCyclicFKs(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(conn *sql.DB, _ string) {
		f := setup(t, conn, []string{
			`CREATE TABLE tenants (id integer PRIMARY KEY)`,
			`CREATE TABLE invoices (
				id integer PRIMARY KEY,
				latest_payment_id integer,
				tenant_id integer REFERENCES tenants (id)
			)`,
			`CREATE TABLE payments (id integer PRIMARY KEY, invoice_id integer REFERENCES invoices (id))`,
			`ALTER TABLE invoices ADD FOREIGN KEY (latest_payment_id) REFERENCES payments (id)`,
			`INSERT INTO tenants VALUES (1), (2)`,
			`INSERT INTO invoices (id, tenant_id) VALUES (1, 1), (2, 2)`,
			`INSERT INTO payments VALUES (10, 1), (11, 2)`,
			`UPDATE invoices SET latest_payment_id = 10 WHERE id = 1`,
			`UPDATE invoices SET latest_payment_id = 11 WHERE id = 2`,
		}, schema.Options{
			KeyTableName:   "tenants",
			KeyColumnNames: []string{"tenant_id"},
		})

		f.collect(t, collect.Config{
			KeyTableName:    "tenants",
			KeyColumnValues: []string{"1"},
		})

		// The fixed point closes the invoice<->payment cycle for tenant 1
		// only.
		assert.Equal(t, []string{"1"}, f.storeContents(t, "invoices"))
		assert.Equal(t, []string{"10"}, f.storeContents(t, "payments"))
	})
}

func TestCollectSkipsGenericFKTables(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(conn *sql.DB, _ string) {
		f := setup(t, conn, []string{
			`CREATE TABLE tenants (id integer PRIMARY KEY)`,
			`CREATE TABLE audit_entries (
				id integer PRIMARY KEY,
				content_type_id integer,
				object_id integer,
				tenant_id integer REFERENCES tenants (id)
			)`,
			`INSERT INTO tenants VALUES (1)`,
			`INSERT INTO audit_entries VALUES (1, 10, 100, 1)`,
		}, schema.Options{
			KeyTableName:    "tenants",
			KeyColumnNames:  []string{"tenant_id"},
			GenericFKTables: []string{"audit_entries"},
		})

		f.collect(t, collect.Config{
			KeyTableName:    "tenants",
			KeyColumnValues: []string{"1"},
		})

		assert.Equal(t, []string{"1"}, f.storeContents(t, "tenants"))
		assert.Empty(t, f.storeContents(t, "audit_entries"))
	})
}

func TestCollectFullTransferTables(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(conn *sql.DB, _ string) {
		f := setup(t, conn, []string{
			`CREATE TABLE tenants (id integer PRIMARY KEY)`,
			`CREATE TABLE currencies (id integer PRIMARY KEY, code character varying(3))`,
			`INSERT INTO tenants VALUES (7)`,
			`INSERT INTO currencies VALUES (1, 'EUR'), (2, 'USD'), (3, 'GBP')`,
		}, schema.Options{
			KeyTableName:   "tenants",
			KeyColumnNames: []string{"tenant_id"},
		})

		f.collect(t, collect.Config{
			KeyTableName:       "tenants",
			KeyColumnValues:    []string{"7"},
			FullTransferTables: []string{"currencies"},
		})

		// Every row regardless of key scoping.
		assert.Equal(t, []string{"1", "2", "3"}, f.storeContents(t, "currencies"))
	})
}

func TestCollectKeyTableHierarchy(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(conn *sql.DB, _ string) {
		f := setup(t, conn, []string{
			`CREATE TABLE tenants (id integer PRIMARY KEY, parent_id integer REFERENCES tenants (id))`,
			`INSERT INTO tenants VALUES (1, NULL), (2, 1), (3, 2), (4, NULL)`,
		}, schema.Options{
			KeyTableName:   "tenants",
			KeyColumnNames: []string{"tenant_id"},
		})

		f.collect(t, collect.Config{
			KeyTableName:            "tenants",
			KeyColumnValues:         []string{"1"},
			KeyTableHierarchyColumn: "parent_id",
		})

		assert.Equal(t, []string{"1", "2", "3"}, f.storeContents(t, "tenants"))
	})
}

func TestCollectForeignKeysStayClosed(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(conn *sql.DB, _ string) {
		f := setup(t, conn, []string{
			`CREATE TABLE tenants (id integer PRIMARY KEY)`,
			`CREATE TABLE categories (id integer PRIMARY KEY)`,
			`CREATE TABLE products (
				id integer PRIMARY KEY,
				category_id integer REFERENCES categories (id),
				tenant_id integer REFERENCES tenants (id)
			)`,
			`INSERT INTO tenants VALUES (1), (2)`,
			`INSERT INTO categories VALUES (100), (200)`,
			`INSERT INTO products VALUES (1, 100, 1), (2, 200, 2)`,
		}, schema.Options{
			KeyTableName:   "tenants",
			KeyColumnNames: []string{"tenant_id"},
		})

		f.collect(t, collect.Config{
			KeyTableName:    "tenants",
			KeyColumnValues: []string{"1"},
		})

		// categories has no key column; it is pulled in because a
		// transferred product references it.
		assert.Equal(t, []string{"1"}, f.storeContents(t, "products"))
		assert.Equal(t, []string{"100"}, f.storeContents(t, "categories"))
	})
}

func TestCollectMissingKeyTable(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(conn *sql.DB, _ string) {
		f := setup(t, conn, []string{
			`CREATE TABLE currencies (id integer PRIMARY KEY)`,
		}, schema.Options{
			KeyTableName:   "tenants",
			KeyColumnNames: []string{"tenant_id"},
		})

		collector := collect.New(f.conn, f.model, f.factory, f.q, collect.Config{
			KeyTableName:    "tenants",
			KeyColumnValues: []string{"1"},
			ChunkSize:       100,
		})

		err := collector.Collect(context.Background())

		var notFound collect.KeyTableNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "tenants", notFound.Name)
	})
}
