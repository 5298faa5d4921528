// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"sync"

	"github.com/ISMashtakov/databaser/pkg/db"
)

// insertBatchSize bounds the number of VALUES tuples in a single scratch
// insert statement.
const insertBatchSize = 10000

// TableStore spills the identifier set to the scratch table on the
// destination database, one group_id per store instance. Uniqueness is
// enforced by the (group_id, data) constraint together with
// ON CONFLICT DO NOTHING, so concurrent inserts from different traversal
// sources need no extra serialization.
type TableStore struct {
	factory *Factory
	group   int

	mu        sync.Mutex
	haveValue bool
}

// Group returns the scratch-table group id assigned to this store.
func (s *TableStore) Group() int {
	return s.group
}

func (s *TableStore) Insert(ctx context.Context, values []string) error {
	if len(values) == 0 {
		return nil
	}

	for start := 0; start < len(values); start += insertBatchSize {
		end := min(start+insertBatchSize, len(values))
		query := s.factory.q.InsertStorageValues(s.factory.tableName, s.group, values[start:end])
		if _, err := s.factory.dst.ExecContext(ctx, query); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.haveValue = true
	s.mu.Unlock()
	return nil
}

func (s *TableStore) InsertFrom(ctx context.Context, other Store) error {
	if o, ok := other.(*TableStore); ok && o.factory == s.factory {
		// Same scratch table: copy inside the destination without a
		// round-trip through the client.
		query := s.factory.q.CopyStorageGroup(s.factory.tableName, s.group, o.group)
		if _, err := s.factory.dst.ExecContext(ctx, query); err != nil {
			return err
		}

		notEmpty, err := o.IsNotEmpty(ctx)
		if err != nil {
			return err
		}
		if notEmpty {
			s.mu.Lock()
			s.haveValue = true
			s.mu.Unlock()
		}
		return nil
	}

	return other.IterateChunks(ctx, func(chunk []string) error {
		return s.Insert(ctx, chunk)
	})
}

func (s *TableStore) IterateChunks(ctx context.Context, fn func(chunk []string) error) error {
	query := s.factory.q.SelectStorageGroup(s.factory.tableName, s.group)
	return s.iteratePaged(ctx, query, fn)
}

func (s *TableStore) IterateDifference(ctx context.Context, other Store, fn func(chunk []string) error) error {
	o, ok := other.(*TableStore)
	if !ok || o.factory != s.factory {
		// Mixed variants never occur in practice; one run uses one factory.
		present := make(map[string]struct{})
		if err := other.IterateChunks(ctx, func(chunk []string) error {
			for _, v := range chunk {
				present[v] = struct{}{}
			}
			return nil
		}); err != nil {
			return err
		}

		return s.IterateChunks(ctx, func(chunk []string) error {
			difference := make([]string, 0, len(chunk))
			for _, v := range chunk {
				if _, found := present[v]; !found {
					difference = append(difference, v)
				}
			}
			if len(difference) == 0 {
				return nil
			}
			return fn(difference)
		})
	}

	query := s.factory.q.SelectStorageDifference(s.factory.tableName, s.group, o.group)
	return s.iteratePaged(ctx, query, fn)
}

func (s *TableStore) IsNotEmpty(ctx context.Context) (bool, error) {
	s.mu.Lock()
	cached := s.haveValue
	s.mu.Unlock()
	if cached {
		return true, nil
	}

	var exists bool
	query := s.factory.q.StorageGroupExists(s.factory.tableName, s.group)
	if err := db.QueryValue(ctx, s.factory.dst, query, &exists); err != nil {
		return false, err
	}

	if exists {
		s.mu.Lock()
		s.haveValue = true
		s.mu.Unlock()
	}
	return exists, nil
}

func (s *TableStore) Len(ctx context.Context) (int64, error) {
	var count int64
	query := s.factory.q.CountStorageGroup(s.factory.tableName, s.group)
	if err := db.QueryValue(ctx, s.factory.dst, query, &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *TableStore) All(ctx context.Context) ([]string, error) {
	query := s.factory.q.SelectStorageGroup(s.factory.tableName, s.group)
	return db.QueryStrings(ctx, s.factory.dst, query)
}

func (s *TableStore) Delete(ctx context.Context) error {
	query := s.factory.q.DeleteStorageGroup(s.factory.tableName, s.group)
	if _, err := s.factory.dst.ExecContext(ctx, query); err != nil {
		return err
	}

	s.mu.Lock()
	s.haveValue = false
	s.mu.Unlock()
	return nil
}

func (s *TableStore) iteratePaged(ctx context.Context, query string, fn func(chunk []string) error) error {
	size := s.factory.chunkSize
	if size <= 0 {
		size = insertBatchSize
	}

	for step := 0; ; step++ {
		paged := s.factory.q.WithLimitOffset(query, size, size*step)
		chunk, err := db.QueryStrings(ctx, s.factory.dst, paged)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
}
