// SPDX-License-Identifier: Apache-2.0

package transfer_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ISMashtakov/databaser/internal/testutils"
	"github.com/ISMashtakov/databaser/pkg/db"
	"github.com/ISMashtakov/databaser/pkg/queries"
	"github.com/ISMashtakov/databaser/pkg/schema"
	"github.com/ISMashtakov/databaser/pkg/store"
	"github.com/ISMashtakov/databaser/pkg/transfer"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func exec(t *testing.T, conn *sql.DB, statements ...string) {
	t.Helper()
	for _, stmt := range statements {
		_, err := conn.ExecContext(context.Background(), stmt)
		require.NoError(t, err)
	}
}

func buildModel(t *testing.T, dst *sql.DB, src *sql.DB) *schema.Schema {
	t.Helper()
	ctx := context.Background()

	factory := store.NewFactory(store.FactoryOptions{ChunkSize: 100})
	q := queries.NewPostgres("public")

	model, err := schema.Build(ctx, &db.RDB{DB: dst}, q, factory, schema.Options{
		SchemaName:     "public",
		TablesPerBatch: 100,
	})
	require.NoError(t, err)
	require.NoError(t, model.LoadSourceStats(ctx, &db.RDB{DB: src}, q, 0))

	return model
}

func TestTransferMovesSelectedRows(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(srcConn *sql.DB, srcName string) {
		testutils.WithConnectionToContainer(t, func(dstConn *sql.DB, _ string) {
			ctx := context.Background()

			exec(t, srcConn,
				`CREATE TABLE items (id serial PRIMARY KEY, name character varying(50))`,
				`INSERT INTO items (id, name) VALUES (1, 'first'), (2, 'second'), (3, 'third')`,
			)
			exec(t, dstConn,
				`CREATE EXTENSION dblink`,
				`CREATE TABLE items (id serial PRIMARY KEY, name character varying(50))`,
			)

			model := buildModel(t, dstConn, srcConn)
			items := model.GetTable("items")
			require.NoError(t, items.NeedTransferPKs.Insert(ctx, []string{"1", "3"}))

			transporter := transfer.New(&db.RDB{DB: dstConn}, model, queries.NewPostgres("public"), transfer.Config{
				SourceConnStr: testutils.InContainerConnStr(srcName),
				ChunkSize:     100,
			})
			require.NoError(t, transporter.Transfer(ctx))

			var ids []int
			rows, err := dstConn.QueryContext(ctx, "SELECT id FROM items ORDER BY id")
			require.NoError(t, err)
			defer rows.Close()
			for rows.Next() {
				var id int
				require.NoError(t, rows.Scan(&id))
				ids = append(ids, id)
			}
			require.NoError(t, rows.Err())

			assert.Equal(t, []int{1, 3}, ids)
			assert.Equal(t, int64(2), items.TransferredPKs())

			// Re-running transfers nothing new: the insert ignores
			// conflicts and only returns inserted keys.
			require.NoError(t, transporter.Transfer(ctx))
			assert.Equal(t, int64(2), items.TransferredPKs())
		})
	})
}

func TestTransferSkipsTablesWithoutPrimaryKey(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(srcConn *sql.DB, srcName string) {
		testutils.WithConnectionToContainer(t, func(dstConn *sql.DB, _ string) {
			ctx := context.Background()

			exec(t, srcConn, `CREATE TABLE notes (body text)`)
			exec(t, dstConn, `CREATE EXTENSION dblink`, `CREATE TABLE notes (body text)`)

			model := buildModel(t, dstConn, srcConn)
			require.NoError(t, model.GetTable("notes").NeedTransferPKs.Insert(ctx, []string{"1"}))

			transporter := transfer.New(&db.RDB{DB: dstConn}, model, queries.NewPostgres("public"), transfer.Config{
				SourceConnStr: testutils.InContainerConnStr(srcName),
			})

			require.NoError(t, transporter.Transfer(ctx))
			assert.Equal(t, int64(0), model.GetTable("notes").TransferredPKs())
		})
	})
}

func TestTransferDataShapeViolation(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(srcConn *sql.DB, srcName string) {
		testutils.WithConnectionToContainer(t, func(dstConn *sql.DB, _ string) {
			ctx := context.Background()

			exec(t, srcConn,
				`CREATE TABLE items (id integer PRIMARY KEY, name character varying(50))`,
				`INSERT INTO items (id, name) VALUES (1, NULL)`,
			)
			exec(t, dstConn,
				`CREATE EXTENSION dblink`,
				`CREATE TABLE items (id integer PRIMARY KEY, name character varying(50) NOT NULL)`,
			)

			model := buildModel(t, dstConn, srcConn)
			require.NoError(t, model.GetTable("items").NeedTransferPKs.Insert(ctx, []string{"1"}))

			transporter := transfer.New(&db.RDB{DB: dstConn}, model, queries.NewPostgres("public"), transfer.Config{
				SourceConnStr: testutils.InContainerConnStr(srcName),
			})

			err := transporter.Transfer(ctx)

			var shapeErr transfer.DataShapeError
			require.ErrorAs(t, err, &shapeErr)
			assert.Equal(t, "items", shapeErr.Table)
			assert.Contains(t, shapeErr.SQL, "dblink")
		})
	})
}

func TestUpdateSequences(t *testing.T) {
	testutils.WithConnectionToContainer(t, func(srcConn *sql.DB, srcName string) {
		testutils.WithConnectionToContainer(t, func(dstConn *sql.DB, _ string) {
			ctx := context.Background()

			exec(t, srcConn,
				`CREATE TABLE items (id serial PRIMARY KEY, name character varying(50))`,
				`INSERT INTO items (id, name) VALUES (1, 'first'), (3, 'third')`,
			)
			exec(t, dstConn,
				`CREATE EXTENSION dblink`,
				`CREATE TABLE items (id serial PRIMARY KEY, name character varying(50))`,
			)

			model := buildModel(t, dstConn, srcConn)
			require.Equal(t, int64(3), model.GetTable("items").MaxPK)

			transporter := transfer.New(&db.RDB{DB: dstConn}, model, queries.NewPostgres("public"), transfer.Config{
				SourceConnStr: testutils.InContainerConnStr(srcName),
			})
			require.NoError(t, transporter.UpdateSequences(ctx))

			var lastValue int64
			err := dstConn.QueryRowContext(ctx, "SELECT last_value FROM items_id_seq").Scan(&lastValue)
			require.NoError(t, err)
			assert.Equal(t, int64(3+transfer.SequenceSlack), lastValue)
		})
	})
}
