package fn

import (
	"context"
	"sync"
)

// ParMapCtx applies f to each item with at most workers calls in flight and
// returns the outputs in input order. The first failure cancels the context
// handed to the remaining calls, items not yet started are skipped, and
// that first error is returned with no partial output. Errors raised by
// calls after the cancellation are ignored.
func ParMapCtx[T, U any](ctx context.Context, items []T, workers int, f func(context.Context, int, T) (U, error)) ([]U, error) {
	if len(items) == 0 {
		return []U{}, nil
	}
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		out      = make([]U, len(items))
		sem      = make(chan struct{}, workers)
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

dispatch:
	for i, v := range items {
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}
		if ctx.Err() != nil {
			<-sem
			break
		}
		wg.Add(1)
		go func(i int, v T) {
			defer func() { <-sem; wg.Done() }()
			u, err := f(ctx, i, v)
			if err != nil {
				fail(err)
				return
			}
			out[i] = u
		}(i, v)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := parent.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Chunk splits items into consecutive slices of at most n. Returns nil if n <= 0.
func Chunk[T any](items []T, n int) [][]T {
	if n <= 0 {
		return nil
	}
	var out [][]T
	for i := 0; i < len(items); i += n {
		end := min(i+n, len(items))
		out = append(out, items[i:end])
	}
	return out
}
