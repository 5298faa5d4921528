// SPDX-License-Identifier: Apache-2.0

// Package transfer streams the collected rows from the source to the
// destination in chunks, via a cross-database dblink statement executed on
// the destination, and advances primary key sequences afterwards.
package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ISMashtakov/databaser/internal/logging"
	"github.com/ISMashtakov/databaser/internal/parallel"
	"github.com/ISMashtakov/databaser/pkg/db"
	"github.com/ISMashtakov/databaser/pkg/queries"
	"github.com/ISMashtakov/databaser/pkg/schema"
)

const (
	// DefaultChunkSize bounds the IN-list of one transfer statement.
	DefaultChunkSize = 30000

	// SequenceSlack is added to the source max primary key when advancing
	// destination sequences, giving headroom against concurrent writers.
	SequenceSlack = 100000
)

// Error codes the destination reports for rows the schema cannot hold.
var dataShapeErrorCodes = map[pq.ErrorCode]struct{}{
	"42703": {}, // undefined_column
	"23502": {}, // not_null_violation
	"22003": {}, // numeric_value_out_of_range
	"42601": {}, // syntax_error
}

// Config carries the transfer parameters.
type Config struct {
	// SourceConnStr is the keyword/value connection string the destination
	// server uses to reach the source through dblink.
	SourceConnStr string

	// ChunkSize bounds the number of keys per transfer statement.
	ChunkSize int

	// Concurrency bounds the tables transferred in parallel; <= 0 is
	// unbounded.
	Concurrency int
}

// Transporter moves the collected rows and advances sequences.
type Transporter struct {
	dst   db.DB
	model *schema.Schema
	q     queries.Provider
	cfg   Config
}

func New(dst db.DB, model *schema.Schema, q queries.Provider, cfg Config) *Transporter {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	return &Transporter{
		dst:   dst,
		model: model,
		q:     q,
		cfg:   cfg,
	}
}

// Transfer copies every table with a primary key and a non-empty key store.
// Tables without a detectable primary key are logged and skipped.
func (t *Transporter) Transfer(ctx context.Context) error {
	var tables []*schema.Table
	for _, table := range t.model.SortedTables() {
		notEmpty, err := table.NeedTransferPKs.IsNotEmpty(ctx)
		if err != nil {
			return err
		}
		if notEmpty {
			tables = append(tables, table)
		}
	}

	logging.L().Info("start transferring data", logging.L().Args("tables", len(tables)))

	err := parallel.ForEach(ctx, tables, t.cfg.Concurrency, t.transferTable)
	if err != nil {
		return err
	}

	logging.L().Info("finished transferring data")
	return nil
}

func (t *Transporter) transferTable(ctx context.Context, table *schema.Table) error {
	if table.PrimaryKey() == nil {
		logging.L().Warn(
			"table has no primary key, skipping transfer",
			logging.L().Args("table", table.Name),
		)
		return nil
	}

	pending, err := table.NeedTransferPKs.Len(ctx)
	if err != nil {
		return err
	}
	logging.L().Info(
		"start transferring table",
		logging.L().Args("table", table.Name, "keys", pending),
	)

	// The store's chunk size serves collection; transfer re-chunks to its
	// own statement size.
	var buffer []string
	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		if err := t.transferChunk(ctx, table, buffer); err != nil {
			return err
		}
		buffer = buffer[:0]
		return nil
	}

	err = table.NeedTransferPKs.IterateChunks(ctx, func(chunk []string) error {
		for _, pk := range chunk {
			buffer = append(buffer, pk)
			if len(buffer) >= t.cfg.ChunkSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	logging.L().Info(
		"finished transferring table",
		logging.L().Args("table", table.Name, "transferred", table.TransferredPKs()),
	)
	return nil
}

func (t *Transporter) transferChunk(ctx context.Context, table *schema.Table, pks []string) error {
	query := t.q.TransferRecords(queries.TransferSpec{
		Table:         table.Name,
		Columns:       table.ColumnNamesOrdered(),
		ColumnTypes:   table.ColumnTypesOrdered(),
		PrimaryKey:    table.PrimaryKey().Name,
		SourceConnStr: t.cfg.SourceConnStr,
		PrimaryKeys:   pks,
	})

	rows, err := t.dst.QueryContext(ctx, query)
	if err != nil {
		pqErr := &pq.Error{}
		if errors.As(err, &pqErr) {
			if _, shape := dataShapeErrorCodes[pqErr.Code]; shape {
				return DataShapeError{Table: table.Name, SQL: query, Err: err}
			}
		}
		return fmt.Errorf("transferring table %q: %w", table.Name, err)
	}
	defer rows.Close()

	var transferred int64
	for rows.Next() {
		transferred++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("transferring table %q: %w", table.Name, err)
	}

	table.AddTransferredPKs(transferred)
	return nil
}

// UpdateSequences advances, for every table with a serial sequence on its
// primary key, the destination sequence to the source maximum plus slack.
func (t *Transporter) UpdateSequences(ctx context.Context) error {
	logging.L().Info("start updating sequences")

	err := parallel.ForEach(ctx, t.model.SortedTables(), t.cfg.Concurrency, func(ctx context.Context, table *schema.Table) error {
		pk := table.PrimaryKey()
		if pk == nil {
			return nil
		}

		var sequence sql.NullString
		err := db.QueryValue(ctx, t.dst, t.q.SerialSequence(table.Name, pk.Name), &sequence)
		if err != nil {
			return fmt.Errorf("looking up sequence of %q: %w", table.Name, err)
		}
		if !sequence.Valid || sequence.String == "" {
			return nil
		}

		query := t.q.SetSequenceValue(sequence.String, table.MaxPK+SequenceSlack)
		if _, err := t.dst.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("advancing sequence of %q: %w", table.Name, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logging.L().Info("finished updating sequences")
	return nil
}
