// SPDX-License-Identifier: Apache-2.0

// Package queries is a pure query-string factory. It isolates the Postgres
// dialect from the collection and transfer algorithms: every statement the
// engine executes is produced here and nowhere else.
package queries

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Provider produces the SQL statements used by introspection, collection,
// transfer and the scratch key-value store.
type Provider interface {
	SelectPartitionNames() string
	SelectTableNames(excluded []string) string
	SelectTableColumns(tables []string) string

	CountRows(table string) string
	MaxColumnValue(table, column string) string
	SerialSequence(table, column string) string
	SetSequenceValue(sequence string, value int64) string

	TruncateTables(tables []string) string
	DisableTriggers(table string) string
	EnableTriggers(table string) string

	SelectColumnIn(table, selectColumn, whereColumn string, values []string) string
	SelectColumnAll(table, column string) string
	TransferRecords(spec TransferSpec) string

	CreateStorageTable(table string) string
	DropStorageTable(table string) string
	InsertStorageValues(table string, group int, values []string) string
	DeleteStorageGroup(table string, group int) string
	StorageGroupExists(table string, group int) string
	CountStorageGroup(table string, group int) string
	SelectStorageGroup(table string, group int) string
	SelectStorageDifference(table string, group, other int) string
	CopyStorageGroup(table string, dst, src int) string

	WithLimitOffset(query string, limit, offset int) string
}

// TransferSpec describes a single cross-database chunk transfer.
type TransferSpec struct {
	Table string

	// Columns in ordinal position order, with their declared types aligned
	// by index. The dblink row definition needs both.
	Columns     []string
	ColumnTypes []string

	PrimaryKey    string
	SourceConnStr string
	PrimaryKeys   []string
}

// InvalidIdentifierError is raised for identifiers that cannot be safely
// interpolated. All identifiers originate from catalog introspection, so
// hitting this means the source schema itself carries hostile names.
type InvalidIdentifierError struct {
	Name string
}

func (e InvalidIdentifierError) Error() string {
	return fmt.Sprintf("identifier %q contains quote characters", e.Name)
}

// ValidateIdentifier rejects identifiers containing quote characters.
func ValidateIdentifier(name string) error {
	if strings.ContainsAny(name, `"'`) {
		return InvalidIdentifierError{Name: name}
	}
	return nil
}

// Postgres implements Provider for PostgreSQL with dblink available on the
// destination.
type Postgres struct {
	schema string
}

func NewPostgres(schema string) *Postgres {
	return &Postgres{schema: schema}
}

func (p *Postgres) qualified(table string) string {
	return pq.QuoteIdentifier(p.schema) + "." + pq.QuoteIdentifier(table)
}

func literalList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = pq.QuoteLiteral(v)
	}
	return strings.Join(quoted, ", ")
}

// SelectPartitionNames lists partition child tables. Partitions inherit the
// parent's rows and must not be transferred as independent tables.
func (p *Postgres) SelectPartitionNames() string {
	return fmt.Sprintf(
		`SELECT c.relname
		FROM pg_inherits i
		JOIN pg_class c ON c.oid = i.inhrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = %s`,
		pq.QuoteLiteral(p.schema),
	)
}

func (p *Postgres) SelectTableNames(excluded []string) string {
	query := fmt.Sprintf(
		`SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = %s AND table_type = 'BASE TABLE'`,
		pq.QuoteLiteral(p.schema),
	)

	if len(excluded) > 0 {
		query += fmt.Sprintf(" AND table_name NOT IN (%s)", literalList(excluded))
	}

	return query + " ORDER BY table_name"
}

// SelectTableColumns returns one row per (column, constraint) pair. A column
// carrying several constraints appears several times; the schema model merges
// them onto a single column.
func (p *Postgres) SelectTableColumns(tables []string) string {
	return fmt.Sprintf(
		`SELECT
			c.table_name,
			c.column_name,
			c.data_type,
			c.ordinal_position,
			ccu.table_name AS constraint_table_name,
			tc.constraint_type
		FROM information_schema.columns c
		LEFT JOIN information_schema.key_column_usage kcu
			ON kcu.table_schema = c.table_schema
			AND kcu.table_name = c.table_name
			AND kcu.column_name = c.column_name
		LEFT JOIN information_schema.table_constraints tc
			ON tc.table_schema = kcu.table_schema
			AND tc.constraint_name = kcu.constraint_name
			AND tc.constraint_type IN ('PRIMARY KEY', 'FOREIGN KEY', 'UNIQUE')
		LEFT JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.constraint_schema = tc.constraint_schema
			AND tc.constraint_type = 'FOREIGN KEY'
		WHERE c.table_schema = %s AND c.table_name IN (%s)
		ORDER BY c.table_name, c.ordinal_position`,
		pq.QuoteLiteral(p.schema),
		literalList(tables),
	)
}

func (p *Postgres) CountRows(table string) string {
	return fmt.Sprintf("SELECT count(*) FROM %s", p.qualified(table))
}

func (p *Postgres) MaxColumnValue(table, column string) string {
	return fmt.Sprintf("SELECT max(%s) FROM %s", pq.QuoteIdentifier(column), p.qualified(table))
}

func (p *Postgres) SerialSequence(table, column string) string {
	return fmt.Sprintf(
		"SELECT pg_get_serial_sequence(%s, %s)",
		pq.QuoteLiteral(p.qualified(table)),
		pq.QuoteLiteral(column),
	)
}

func (p *Postgres) SetSequenceValue(sequence string, value int64) string {
	return fmt.Sprintf("SELECT setval(%s, %d, true)", pq.QuoteLiteral(sequence), value)
}

func (p *Postgres) TruncateTables(tables []string) string {
	quoted := make([]string, len(tables))
	for i, t := range tables {
		quoted[i] = p.qualified(t)
	}
	return fmt.Sprintf("TRUNCATE TABLE %s CASCADE", strings.Join(quoted, ", "))
}

func (p *Postgres) DisableTriggers(table string) string {
	return fmt.Sprintf("ALTER TABLE %s DISABLE TRIGGER ALL", p.qualified(table))
}

func (p *Postgres) EnableTriggers(table string) string {
	return fmt.Sprintf("ALTER TABLE %s ENABLE TRIGGER ALL", p.qualified(table))
}

func (p *Postgres) SelectColumnIn(table, selectColumn, whereColumn string, values []string) string {
	return fmt.Sprintf(
		"SELECT DISTINCT %[1]s FROM %[2]s WHERE %[3]s IN (%[4]s) AND %[1]s IS NOT NULL",
		pq.QuoteIdentifier(selectColumn),
		p.qualified(table),
		pq.QuoteIdentifier(whereColumn),
		literalList(values),
	)
}

// SelectColumnAll orders by the selected column so LIMIT/OFFSET paging over
// the result is stable.
func (p *Postgres) SelectColumnAll(table, column string) string {
	return fmt.Sprintf(
		"SELECT %[1]s FROM %[2]s ORDER BY %[1]s",
		pq.QuoteIdentifier(column),
		p.qualified(table),
	)
}

// TransferRecords pulls the selected source rows through dblink and inserts
// them on the destination, returning the inserted primary keys.
func (p *Postgres) TransferRecords(spec TransferSpec) string {
	columns := make([]string, len(spec.Columns))
	typed := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		columns[i] = pq.QuoteIdentifier(c)
		typed[i] = pq.QuoteIdentifier(c) + " " + spec.ColumnTypes[i]
	}
	columnList := strings.Join(columns, ", ")

	innerQuery := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s IN (%s)",
		columnList,
		p.qualified(spec.Table),
		pq.QuoteIdentifier(spec.PrimaryKey),
		literalList(spec.PrimaryKeys),
	)

	return fmt.Sprintf(
		`INSERT INTO %s (%s)
		SELECT * FROM dblink(%s, %s) AS transferred (%s)
		ON CONFLICT DO NOTHING
		RETURNING %s`,
		p.qualified(spec.Table),
		columnList,
		pq.QuoteLiteral(spec.SourceConnStr),
		pq.QuoteLiteral(innerQuery),
		strings.Join(typed, ", "),
		pq.QuoteIdentifier(spec.PrimaryKey),
	)
}

func (p *Postgres) CreateStorageTable(table string) string {
	return fmt.Sprintf(
		`CREATE TABLE %[1]s (
			group_id INTEGER,
			data VARCHAR(255),
			CONSTRAINT %[2]s UNIQUE (group_id, data)
		);
		CREATE INDEX %[3]s ON %[1]s (group_id)`,
		p.qualified(table),
		pq.QuoteIdentifier(table+"_group_data_uc"),
		pq.QuoteIdentifier(table+"_group_idx"),
	)
}

func (p *Postgres) DropStorageTable(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", p.qualified(table))
}

func (p *Postgres) InsertStorageValues(table string, group int, values []string) string {
	rows := make([]string, len(values))
	for i, v := range values {
		rows[i] = fmt.Sprintf("(%d, %s)", group, pq.QuoteLiteral(v))
	}
	return fmt.Sprintf(
		"INSERT INTO %s (group_id, data) VALUES %s ON CONFLICT DO NOTHING",
		p.qualified(table),
		strings.Join(rows, ", "),
	)
}

func (p *Postgres) DeleteStorageGroup(table string, group int) string {
	return fmt.Sprintf("DELETE FROM %s WHERE group_id = %d", p.qualified(table), group)
}

func (p *Postgres) StorageGroupExists(table string, group int) string {
	return fmt.Sprintf(
		"SELECT EXISTS(SELECT 1 FROM %s WHERE group_id = %d)",
		p.qualified(table),
		group,
	)
}

func (p *Postgres) CountStorageGroup(table string, group int) string {
	return fmt.Sprintf("SELECT count(*) FROM %s WHERE group_id = %d", p.qualified(table), group)
}

func (p *Postgres) SelectStorageGroup(table string, group int) string {
	return fmt.Sprintf(
		"SELECT data FROM %s WHERE group_id = %d ORDER BY data",
		p.qualified(table),
		group,
	)
}

func (p *Postgres) SelectStorageDifference(table string, group, other int) string {
	return fmt.Sprintf(
		`SELECT data FROM %[1]s WHERE group_id = %[2]d AND data NOT IN (
			SELECT data FROM %[1]s WHERE group_id = %[3]d
		) ORDER BY data`,
		p.qualified(table),
		group,
		other,
	)
}

func (p *Postgres) CopyStorageGroup(table string, dst, src int) string {
	return fmt.Sprintf(
		"INSERT INTO %[1]s (group_id, data) SELECT %[2]d, data FROM %[1]s WHERE group_id = %[3]d ON CONFLICT DO NOTHING",
		p.qualified(table),
		dst,
		src,
	)
}

func (p *Postgres) WithLimitOffset(query string, limit, offset int) string {
	return fmt.Sprintf("%s LIMIT %d OFFSET %d", strings.TrimRight(query, "; \n\t"), limit, offset)
}
