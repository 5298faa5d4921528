// SPDX-License-Identifier: Apache-2.0

// Package replicate sequences one replication run: connect, introspect,
// truncate, disable triggers, collect, transfer, re-enable triggers, close.
// Stage failures abort the remaining stages; trigger re-enable is attempted
// best-effort on the way out.
package replicate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ISMashtakov/databaser/internal/connstr"
	"github.com/ISMashtakov/databaser/internal/logging"
	"github.com/ISMashtakov/databaser/internal/parallel"
	"github.com/ISMashtakov/databaser/pkg/collect"
	"github.com/ISMashtakov/databaser/pkg/config"
	"github.com/ISMashtakov/databaser/pkg/db"
	"github.com/ISMashtakov/databaser/pkg/queries"
	"github.com/ISMashtakov/databaser/pkg/schema"
	"github.com/ISMashtakov/databaser/pkg/store"
	"github.com/ISMashtakov/databaser/pkg/transfer"
)

const defaultMaxOpenConns = 20

// Manager drives one replication run end to end.
type Manager struct {
	cfg   *config.Config
	stats Stats
	q     queries.Provider

	src     db.DB
	dst     db.DB
	factory *store.Factory
	model   *schema.Schema
}

// New validates the configuration and opens both connection pools.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{
		stats:        NopStats{},
		maxOpenConns: defaultMaxOpenConns,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.queries == nil {
		o.queries = queries.NewPostgres(cfg.Dst.Schema)
	}

	src, dst := o.src, o.dst
	if src == nil || dst == nil {
		var err error
		src, err = openPool(ctx, cfg.Src, o.maxOpenConns)
		if err != nil {
			return nil, fmt.Errorf("connecting to source: %w", err)
		}

		dst, err = openPool(ctx, cfg.Dst, o.maxOpenConns)
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("connecting to destination: %w", err)
		}
	}

	m := &Manager{
		cfg:   cfg,
		stats: o.stats,
		q:     o.queries,
		src:   src,
		dst:   dst,
	}
	m.factory = store.NewFactory(store.FactoryOptions{
		UseDatabase: cfg.UseDatabaseStore,
		ChunkSize:   cfg.CollectorChunkSize,
		TableName:   cfg.StorageTableName,
		Dst:         dst,
		Queries:     o.queries,
	})

	return m, nil
}

func openPool(ctx context.Context, params connstr.Params, maxOpenConns int) (db.DB, error) {
	conn, err := sql.Open("postgres", connstr.BuildWithOptions(params, map[string]string{
		"sslmode": "disable",
	}))
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(maxOpenConns)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	logging.L().Info("connected", logging.L().Args("db", connstr.Redact(connstr.Build(params))))

	return &db.RDB{DB: conn}, nil
}

// Model returns the schema model; nil before introspection.
func (m *Manager) Model() *schema.Schema {
	return m.model
}

// Run executes every stage in order. The first failing stage aborts the run;
// destination triggers are re-enabled best-effort before the error
// propagates.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.stage(StageIntrospect, func() error { return m.introspect(ctx) }); err != nil {
		return err
	}

	if m.cfg.UseDatabaseStore {
		if err := m.stage(StagePrepareStorage, func() error { return m.factory.Init(ctx) }); err != nil {
			return err
		}
		defer func() {
			if dropErr := m.factory.Drop(context.WithoutCancel(ctx)); dropErr != nil {
				logging.L().Warn("dropping scratch storage failed", logging.L().Args("error", dropErr))
			}
		}()
	}

	if m.cfg.IsTruncateTables {
		if err := m.stage(StageTruncate, func() error { return m.truncateTables(ctx) }); err != nil {
			return err
		}
	}

	return m.withTriggersDisabled(ctx, func() error {
		if err := m.stage(StageCollect, func() error { return m.collect(ctx) }); err != nil {
			return err
		}

		transporter := transfer.New(m.dst, m.model, m.q, transfer.Config{
			SourceConnStr: connstr.Build(m.cfg.Src),
			Concurrency:   m.cfg.AsyncSeparationCoefficient,
		})
		if err := m.stage(StageTransfer, func() error { return transporter.Transfer(ctx) }); err != nil {
			return err
		}
		return m.stage(StageSequences, func() error { return transporter.UpdateSequences(ctx) })
	})
}

// withTriggersDisabled turns off destination triggers around fn. When fn
// fails, re-enabling is still attempted best-effort: the destination must
// not be left with triggers off.
func (m *Manager) withTriggersDisabled(ctx context.Context, fn func() error) error {
	if err := m.stage(StageDisableTriggers, func() error { return m.toggleTriggers(ctx, false) }); err != nil {
		return err
	}

	if err := fn(); err != nil {
		if enableErr := m.toggleTriggers(context.WithoutCancel(ctx), true); enableErr != nil {
			logging.L().Error("re-enabling triggers failed", logging.L().Args("error", enableErr))
		}
		return err
	}

	return m.stage(StageEnableTriggers, func() error { return m.toggleTriggers(ctx, true) })
}

// Close releases both connection pools.
func (m *Manager) Close() error {
	err := m.src.Close()
	if dstErr := m.dst.Close(); dstErr != nil && err == nil {
		err = dstErr
	}
	return err
}

func (m *Manager) stage(name string, fn func() error) error {
	done := m.stats.Begin(name)
	defer done()

	if err := fn(); err != nil {
		return fmt.Errorf("stage %q: %w", name, err)
	}
	return nil
}

// introspect builds the schema model from the destination while listing the
// source's tables, then loads source-side row counts and key maxima. The key
// table must exist on the source.
func (m *Manager) introspect(ctx context.Context) error {
	opts := schema.Options{
		SchemaName:       m.cfg.Dst.Schema,
		KeyTableName:     m.cfg.KeyTableName,
		KeyColumnNames:   m.cfg.KeyColumnNames,
		ExcludedTables:   m.cfg.ExcludedTables,
		GenericFKTables:  m.cfg.GenericFKTables,
		StorageTableName: m.cfg.StorageTableName,
		TablesPerBatch:   m.cfg.TablesLimitPerTransaction,
		Concurrency:      m.cfg.AsyncSeparationCoefficient,
	}

	var srcTables []string
	err := parallel.ForEach(ctx, []func(context.Context) error{
		func(ctx context.Context) error {
			model, err := schema.Build(ctx, m.dst, m.q, m.factory, opts)
			if err != nil {
				return err
			}
			m.model = model
			return nil
		},
		func(ctx context.Context) error {
			srcOpts := opts
			srcOpts.SchemaName = m.cfg.Src.Schema
			tables, err := schema.DiscoverTableNames(ctx, m.src, m.q, srcOpts)
			if err != nil {
				return err
			}
			srcTables = tables
			return nil
		},
	}, 0, func(ctx context.Context, fn func(context.Context) error) error {
		return fn(ctx)
	})
	if err != nil {
		return err
	}

	if !config.Contains(srcTables, m.cfg.KeyTableName) {
		return collect.KeyTableNotFoundError{Name: m.cfg.KeyTableName}
	}

	return m.model.LoadSourceStats(ctx, m.src, m.q, m.cfg.AsyncSeparationCoefficient)
}

// truncateTables resets the destination per the truncation policy: the
// included list when set, otherwise every table minus the generic-FK set,
// minus the excluded list in both cases.
func (m *Manager) truncateTables(ctx context.Context) error {
	var names []string
	if len(m.cfg.TablesTruncateIncluded) > 0 {
		names = m.cfg.TablesTruncateIncluded
	} else {
		for _, name := range m.model.TableNames() {
			if !config.Contains(m.cfg.GenericFKTables, name) {
				names = append(names, name)
			}
		}
	}

	if len(m.cfg.TablesTruncateExcluded) > 0 {
		var kept []string
		for _, name := range names {
			if !config.Contains(m.cfg.TablesTruncateExcluded, name) {
				kept = append(kept, name)
			}
		}
		names = kept
	}

	if len(names) == 0 {
		return nil
	}

	logging.L().Info("truncating tables", logging.L().Args("tables", len(names)))

	_, err := m.dst.ExecContext(ctx, m.q.TruncateTables(names))
	return err
}

func (m *Manager) toggleTriggers(ctx context.Context, enable bool) error {
	return parallel.ForEach(ctx, m.model.TableNames(), m.cfg.AsyncSeparationCoefficient, func(ctx context.Context, name string) error {
		query := m.q.DisableTriggers(name)
		if enable {
			query = m.q.EnableTriggers(name)
		}
		_, err := m.dst.ExecContext(ctx, query)
		return err
	})
}

func (m *Manager) collect(ctx context.Context) error {
	collector := collect.New(m.src, m.model, m.factory, m.q, collect.Config{
		KeyTableName:            m.cfg.KeyTableName,
		KeyColumnValues:         m.cfg.KeyColumnValues,
		KeyTableHierarchyColumn: m.cfg.KeyTableHierarchyColumn,
		FullTransferTables:      m.cfg.FullTransferTables,
		ChunkSize:               m.cfg.CollectorChunkSize,
		Concurrency:             m.cfg.AsyncSeparationCoefficient,
		Validate:                m.cfg.ValidateBeforeTransferring,
	})
	return collector.Collect(ctx)
}
