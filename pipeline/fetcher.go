package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// fetchItem is one object to download and its local name inside the
// scratch directory.
type fetchItem struct {
	Bucket    string
	Key       string
	LocalName string
}

// downloader is the slice of the blob store the fetcher needs.
type downloader interface {
	Download(ctx context.Context, bucket, key, localPath string) error
}

// fetcher downloads working-set objects under a bounded concurrency cap,
// so one large task cannot saturate the object store.
type fetcher struct {
	store  downloader
	sem    *semaphore.Weighted
	logger *slog.Logger
}

func newFetcher(store downloader, concurrency int, logger *slog.Logger) *fetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &fetcher{
		store:  store,
		sem:    semaphore.NewWeighted(int64(concurrency)),
		logger: logger,
	}
}

// downloadAll fetches every item into destDir and returns the local paths
// in input order. Any download failure aborts the batch: a partial working
// set would silently drop resumes from the output.
func (f *fetcher) downloadAll(ctx context.Context, items []fetchItem, destDir string) ([]string, error) {
	paths := make([]string, len(items))

	g, ctx := errgroup.WithContext(ctx)
	for i, item := range items {
		if err := f.sem.Acquire(ctx, 1); err != nil {
			// In-flight downloads must finish before the caller tears
			// down the scratch directory.
			_ = g.Wait()
			return nil, err
		}
		paths[i] = filepath.Join(destDir, item.LocalName)

		g.Go(func() error {
			defer f.sem.Release(1)

			if err := f.store.Download(ctx, item.Bucket, item.Key, paths[i]); err != nil {
				return err
			}
			f.logger.Debug("Downloaded object",
				"bucket", item.Bucket,
				"key", item.Key)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}
