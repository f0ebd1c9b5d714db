package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunBatch runs the pipeline on every path concurrently, at most
// Config.Workers at a time. Results are returned in the order of paths. The
// first failure cancels the remaining runs and is returned.
func (r *Runner) RunBatch(ctx context.Context, paths []string) ([]*Result, error) {
	results := make([]*Result, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	workers := r.cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	g.SetLimit(workers)

	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := r.RunFile(ctx, path)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
