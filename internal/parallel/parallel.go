// SPDX-License-Identifier: Apache-2.0

// Package parallel runs table-level work concurrently with a configurable
// bound. The pack's repositories hand-roll bounded fan-out with WaitGroups
// rather than pulling a concurrency library; this keeps that shape in one
// place.
package parallel

import (
	"context"
	"sync"
)

// ForEach calls fn for every item, running at most limit calls at a time.
// limit <= 0 means unbounded. The first error cancels the remaining work and
// is returned once every in-flight call has finished.
func ForEach[T any](ctx context.Context, items []T, limit int, fn func(context.Context, T) error) error {
	if len(items) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)

	var sem chan struct{}
	if limit > 0 {
		sem = make(chan struct{}, limit)
	}

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}

		if sem != nil {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}

		wg.Add(1)
		go func(item T) {
			defer wg.Done()
			if sem != nil {
				defer func() { <-sem }()
			}

			if err := fn(ctx, item); err != nil {
				once.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(item)
	}

	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// Chunks splits items into consecutive slices of at most size elements.
func Chunks[T any](items []T, size int) [][]T {
	if size <= 0 {
		if len(items) == 0 {
			return nil
		}
		return [][]T{items}
	}

	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
