// Package worker provides a small generic pool for bounded fan-out over an
// indexed batch of items. Results come back tagged with the item index, so
// completion order never matters to callers.
package worker

import (
	"context"
	"sync"
)

// Job is a unit of work with an index for ordering
type Job[T any] struct {
	Index int
	Data  T
}

// Result is the outcome of processing one job
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// ProcessFunc processes one job
type ProcessFunc[I, O any] func(ctx context.Context, job Job[I]) (O, error)

// ProcessAll fans the items out across the given number of workers and
// returns one result per item, ordered by index. Item failures land in the
// per-result Err; siblings keep running. When the context ends early,
// unstarted items report the context error
func ProcessAll[I, O any](ctx context.Context, items []I, workers int, fn ProcessFunc[I, O]) []Result[O] {
	n := len(items)
	if n == 0 {
		return nil
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	jobs := make(chan Job[I])
	out := make(chan Result[O], n)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for job := range jobs {
				value, err := fn(ctx, job)
				out <- Result[O]{Index: job.Index, Value: value, Err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range items {
			select {
			case jobs <- Job[I]{Index: i, Data: items[i]}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]Result[O], n)
	seen := make([]bool, n)
	for r := range out {
		results[r.Index] = r
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			results[i] = Result[O]{Index: i, Err: ctx.Err()}
		}
	}

	return results
}

// Process is the strict variant: it returns the ordered values, or the
// first error encountered in index order
func Process[I, O any](ctx context.Context, items []I, workers int, fn ProcessFunc[I, O]) ([]O, error) {
	results := ProcessAll(ctx, items, workers, fn)

	output := make([]O, len(results))
	for i, r := range results {
		if r.Err != nil {
			return nil, r.Err
		}
		output[i] = r.Value
	}

	return output, nil
}
