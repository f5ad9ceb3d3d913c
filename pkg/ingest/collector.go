package ingest

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/finbrief/finbrief/pkg/config"
	"github.com/finbrief/finbrief/pkg/models"
)

// Collector fans out across all enabled feeds and merges results.
type Collector struct {
	fetcher *Fetcher
	feeds   []config.RSSFeedConfig
}

// NewCollector creates a collector over the configured feed list.
func NewCollector(feeds []config.RSSFeedConfig) *Collector {
	return &Collector{
		fetcher: NewFetcher(),
		feeds:   feeds,
	}
}

// Collect fetches every enabled feed concurrently and returns the
// merged item list. Per-feed failures already degrade to empty slices
// inside Fetch, so Collect itself never fails.
func (c *Collector) Collect(ctx context.Context) []*models.NewsItem {
	var mu sync.Mutex
	results := make([][]*models.NewsItem, len(c.feeds))

	g, ctx := errgroup.WithContext(ctx)
	enabled := 0
	for i := range c.feeds {
		feed := &c.feeds[i]
		if !feed.IsEnabled() {
			continue
		}
		enabled++
		idx := i
		g.Go(func() error {
			items := c.fetcher.Fetch(ctx, feed)
			mu.Lock()
			results[idx] = items
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var merged []*models.NewsItem
	for _, items := range results {
		merged = append(merged, items...)
	}

	slog.Info("Collection round complete", "feeds", enabled, "items", len(merged))
	return merged
}
