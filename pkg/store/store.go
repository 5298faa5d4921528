// SPDX-License-Identifier: Apache-2.0

// Package store provides the spill-capable set-of-identifiers abstraction
// used to hold candidate primary keys during collection. Two interchangeable
// implementations exist: an in-memory set, and a scratch table on the
// destination database for slices too large to hold in memory.
package store

import (
	"context"
	"sync"

	"github.com/ISMashtakov/databaser/pkg/db"
	"github.com/ISMashtakov/databaser/pkg/queries"
)

// Store is a set of identifier strings. Numeric and string identifiers
// coexist as text; elements are compared by their string representation.
// Iteration order is implementation-defined and callers must not rely on it.
type Store interface {
	// Insert adds values to the set, ignoring duplicates.
	Insert(ctx context.Context, values []string) error

	// InsertFrom copies every element of other into this store.
	InsertFrom(ctx context.Context, other Store) error

	// IterateChunks yields the elements in chunks of the configured size.
	IterateChunks(ctx context.Context, fn func(chunk []string) error) error

	// IterateDifference yields, in chunks, the elements present here but
	// absent from other.
	IterateDifference(ctx context.Context, other Store, fn func(chunk []string) error) error

	// IsNotEmpty reports whether the set holds at least one element. A
	// positive result may be cached across calls.
	IsNotEmpty(ctx context.Context) (bool, error)

	// Len returns the number of elements.
	Len(ctx context.Context) (int64, error)

	// All returns every element. Intended for small sets and tests.
	All(ctx context.Context) ([]string, error)

	// Delete removes all elements.
	Delete(ctx context.Context) error
}

// Factory creates stores and owns the scratch-table group counter (one per
// factory) together with the destination handle the table-backed variant
// writes through.
type Factory struct {
	useDatabase bool
	chunkSize   int
	tableName   string

	dst db.DB
	q   queries.Provider

	mu        sync.Mutex
	lastGroup int
}

// FactoryOptions configure a store factory.
type FactoryOptions struct {
	// UseDatabase selects the scratch-table variant over the in-memory one.
	UseDatabase bool

	// ChunkSize bounds the size of iteration chunks.
	ChunkSize int

	// TableName is the scratch table name on the destination.
	TableName string

	// Dst is the destination pool; required when UseDatabase is set.
	Dst db.DB

	// Queries provides the scratch-table SQL.
	Queries queries.Provider
}

func NewFactory(opts FactoryOptions) *Factory {
	return &Factory{
		useDatabase: opts.UseDatabase,
		chunkSize:   opts.ChunkSize,
		tableName:   opts.TableName,
		dst:         opts.Dst,
		q:           opts.Queries,
	}
}

// New returns a fresh, empty store of the configured variant.
func (f *Factory) New() Store {
	if !f.useDatabase {
		return newMemoryStore(f.chunkSize)
	}

	f.mu.Lock()
	f.lastGroup++
	group := f.lastGroup
	f.mu.Unlock()

	return &TableStore{
		factory: f,
		group:   group,
	}
}

// UsesDatabase reports whether stores spill to the destination.
func (f *Factory) UsesDatabase() bool {
	return f.useDatabase
}

// Init creates the scratch table, dropping a leftover one first. A no-op for
// the in-memory variant.
func (f *Factory) Init(ctx context.Context) error {
	if !f.useDatabase {
		return nil
	}
	if err := f.Drop(ctx); err != nil {
		return err
	}
	_, err := f.dst.ExecContext(ctx, f.q.CreateStorageTable(f.tableName))
	return err
}

// Drop removes the scratch table. A no-op for the in-memory variant.
func (f *Factory) Drop(ctx context.Context) error {
	if !f.useDatabase {
		return nil
	}
	_, err := f.dst.ExecContext(ctx, f.q.DropStorageTable(f.tableName))
	return err
}
