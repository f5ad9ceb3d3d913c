// Package workpool provides the bounded-concurrency fan-out primitive
// shared by the impact and deep analysis batch paths.
package workpool

import (
	"context"
	"sync"
)

// Map runs fn over every item with at most workers goroutines in
// flight and returns results in input order regardless of completion
// order. fn receives the item's input index. A cancelled context stops
// dispatching new items; in-flight calls run to completion and their
// results are kept.
func Map[T, R any](ctx context.Context, items []T, workers int, fn func(ctx context.Context, index int, item T) R) []R {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	indexes := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				results[i] = fn(ctx, i, items[i])
			}
		}()
	}

	for i := range items {
		select {
		case <-ctx.Done():
			close(indexes)
			wg.Wait()
			return results
		case indexes <- i:
		}
	}
	close(indexes)
	wg.Wait()
	return results
}
