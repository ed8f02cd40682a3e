package concurrent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Partition splits items into n lanes by key. Items with the same key land in
// the same lane and keep their relative order. Empty lanes are dropped.
func Partition[T any](items []T, n int, key func(T) uint64) [][]T {
	if n < 1 {
		n = 1
	}
	buckets := make([][]T, n)
	for _, item := range items {
		lane := key(item) % uint64(n)
		buckets[lane] = append(buckets[lane], item)
	}

	lanes := buckets[:0]
	for _, b := range buckets {
		if len(b) > 0 {
			lanes = append(lanes, b)
		}
	}
	return lanes
}

// RunLanes runs each lane sequentially and the lanes in parallel, with at
// most limit lanes in flight. The first error cancels the context handed to
// the remaining items and is returned once every lane has finished.
func RunLanes[T any](ctx context.Context, lanes [][]T, limit int, action func(context.Context, T) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, lane := range lanes {
		g.Go(func() error {
			for _, item := range lane {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := action(gctx, item); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
