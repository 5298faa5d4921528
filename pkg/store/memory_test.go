// SPDX-License-Identifier: Apache-2.0

package store_test

import (
	"context"
	"sort"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ISMashtakov/databaser/pkg/store"
)

func memoryFactory(chunkSize int) *store.Factory {
	return store.NewFactory(store.FactoryOptions{ChunkSize: chunkSize})
}

func TestMemoryStoreInsertAndLen(t *testing.T) {
	ctx := context.Background()
	s := memoryFactory(10).New()

	require.NoError(t, s.Insert(ctx, []string{"1", "2", "2", "3"}))
	require.NoError(t, s.Insert(ctx, nil))

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	notEmpty, err := s.IsNotEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, notEmpty)
}

func TestMemoryStoreMixesNumericAndStringIdentifiers(t *testing.T) {
	ctx := context.Background()
	s := memoryFactory(10).New()

	require.NoError(t, s.Insert(ctx, []string{"42", "ab-03"}))

	all, err := s.All(ctx)
	require.NoError(t, err)
	sort.Strings(all)
	assert.Equal(t, []string{"42", "ab-03"}, all)
}

func TestMemoryStoreIterateChunks(t *testing.T) {
	ctx := context.Background()
	s := memoryFactory(7).New()

	var values []string
	for i := range 100 {
		values = append(values, strconv.Itoa(i))
	}
	require.NoError(t, s.Insert(ctx, values))

	var seen []string
	err := s.IterateChunks(ctx, func(chunk []string) error {
		assert.LessOrEqual(t, len(chunk), 7)
		seen = append(seen, chunk...)
		return nil
	})
	require.NoError(t, err)

	sort.Strings(seen)
	sort.Strings(values)
	assert.Equal(t, values, seen)
}

func TestMemoryStoreIterateDifference(t *testing.T) {
	ctx := context.Background()
	f := memoryFactory(10)

	a := f.New()
	b := f.New()
	require.NoError(t, a.Insert(ctx, []string{"1", "2", "3", "4"}))
	require.NoError(t, b.Insert(ctx, []string{"2", "4"}))

	var difference []string
	err := a.IterateDifference(ctx, b, func(chunk []string) error {
		difference = append(difference, chunk...)
		return nil
	})
	require.NoError(t, err)

	sort.Strings(difference)
	assert.Equal(t, []string{"1", "3"}, difference)
}

func TestMemoryStoreInsertFrom(t *testing.T) {
	ctx := context.Background()
	f := memoryFactory(10)

	a := f.New()
	b := f.New()
	require.NoError(t, a.Insert(ctx, []string{"1", "2"}))
	require.NoError(t, b.Insert(ctx, []string{"2", "3"}))

	require.NoError(t, a.InsertFrom(ctx, b))

	n, err := a.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := memoryFactory(10).New()

	require.NoError(t, s.Insert(ctx, []string{"1"}))
	require.NoError(t, s.Delete(ctx))

	notEmpty, err := s.IsNotEmpty(ctx)
	require.NoError(t, err)
	assert.False(t, notEmpty)
}
