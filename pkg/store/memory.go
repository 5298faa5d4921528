// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"sync"
)

// MemoryStore keeps the identifier set in process memory.
type MemoryStore struct {
	chunkSize int

	mu     sync.RWMutex
	values map[string]struct{}
}

func newMemoryStore(chunkSize int) *MemoryStore {
	return &MemoryStore{
		chunkSize: chunkSize,
		values:    make(map[string]struct{}),
	}
}

func (s *MemoryStore) Insert(ctx context.Context, values []string) error {
	if len(values) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range values {
		s.values[v] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) InsertFrom(ctx context.Context, other Store) error {
	if o, ok := other.(*MemoryStore); ok {
		o.mu.RLock()
		values := make([]string, 0, len(o.values))
		for v := range o.values {
			values = append(values, v)
		}
		o.mu.RUnlock()

		return s.Insert(ctx, values)
	}

	return other.IterateChunks(ctx, func(chunk []string) error {
		return s.Insert(ctx, chunk)
	})
}

func (s *MemoryStore) IterateChunks(ctx context.Context, fn func(chunk []string) error) error {
	return s.iterate(ctx, s.snapshot(), fn)
}

func (s *MemoryStore) IterateDifference(ctx context.Context, other Store, fn func(chunk []string) error) error {
	var difference []string

	if o, ok := other.(*MemoryStore); ok {
		o.mu.RLock()
		for _, v := range s.snapshot() {
			if _, found := o.values[v]; !found {
				difference = append(difference, v)
			}
		}
		o.mu.RUnlock()
	} else {
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
		for _, v := range s.snapshot() {
			if _, found := present[v]; !found {
				difference = append(difference, v)
			}
		}
	}

	return s.iterate(ctx, difference, fn)
}

func (s *MemoryStore) IsNotEmpty(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values) > 0, nil
}

func (s *MemoryStore) Len(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.values)), nil
}

func (s *MemoryStore) All(ctx context.Context) ([]string, error) {
	return s.snapshot(), nil
}

func (s *MemoryStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]struct{})
	return nil
}

func (s *MemoryStore) snapshot() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values := make([]string, 0, len(s.values))
	for v := range s.values {
		values = append(values, v)
	}
	return values
}

func (s *MemoryStore) iterate(ctx context.Context, values []string, fn func(chunk []string) error) error {
	size := s.chunkSize
	if size <= 0 {
		size = len(values)
	}

	for start := 0; start < len(values); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+size, len(values))
		if err := fn(values[start:end]); err != nil {
			return err
		}
	}
	return nil
}
