package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map applies mapFunc to the elements of seq on at most limit goroutines
// and yields the results in completion order. limit <= 0 means no limit.
// Elements seq yields together with an error are passed on without calling
// mapFunc. Breaking out of the loop, or canceling ctx, stops the work still
// pending and waits for the running calls to return.
//
//	for size, err := range parallel.Map(ctx, 4, entries, measure) {}
func Map[E, D any](ctx context.Context, limit int, seq iter.Seq2[E, error], mapFunc func(context.Context, E) (D, error)) iter.Seq2[D, error] {
	return func(yield func(D, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		if limit > 0 {
			// one more slot for the feeder
			g.SetLimit(limit + 1)
		}
		mapped := make(chan result[D])
		send := func(r result[D]) error {
			select {
			case mapped <- r:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}

		g.Go(func() error {
			for entry, err := range seq {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if err != nil {
					var zero D
					if err := send(result[D]{d: zero, e: err}); err != nil {
						return err
					}
					continue
				}
				g.Go(func() error {
					d, err := mapFunc(gctx, entry)
					return send(result[D]{d: d, e: err})
				})
			}
			return nil
		})

		go func() {
			_ = g.Wait()
			close(mapped)
		}()

		for r := range mapped {
			if !yield(r.d, r.e) {
				cancel()
				for range mapped {
				}
				return
			}
		}
	}
}

// All turns a slice into the input of Map.
func All[E any](s []E) iter.Seq2[E, error] {
	return func(yield func(E, error) bool) {
		for _, x := range s {
			if !yield(x, nil) {
				return
			}
		}
	}
}
