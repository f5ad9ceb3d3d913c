// Package ingest fetches configured RSS/Atom feeds and normalizes
// entries into news items.
package ingest

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/finbrief/finbrief/pkg/config"
	"github.com/finbrief/finbrief/pkg/models"
)

const (
	fetchTimeout = 30 * time.Second

	// Some feed hosts reject default Go client UAs.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	defaultSource   = "ChinaNews"
	defaultCategory = "finance"
)

// Fetcher retrieves and parses one feed at a time.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a fetcher with the standard timeout.
func NewFetcher() *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: fetchTimeout},
	}
}

// Fetch retrieves the feed and returns up to feed.MaxItems normalized
// items. Network and parse errors are logged and yield an empty slice;
// they never propagate to the orchestrator.
func (f *Fetcher) Fetch(ctx context.Context, feed *config.RSSFeedConfig) []*models.NewsItem {
	log := slog.With("feed", feed.Name, "url", feed.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		log.Warn("Failed to build feed request", "error", err)
		return nil
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		log.Warn("Feed fetch failed", "error", err)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("Feed fetch returned non-2xx status", "status", resp.StatusCode)
		return nil
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		log.Warn("Feed parse failed", "error", err)
		return nil
	}

	source := feed.Name
	if source == "" {
		source = defaultSource
	}

	items := make([]*models.NewsItem, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		if feed.MaxItems > 0 && len(items) >= feed.MaxItems {
			break
		}
		item := f.normalizeEntry(entry, source)
		if item == nil {
			continue
		}
		items = append(items, item)
	}

	log.Info("Feed fetched", "entries", len(parsed.Items), "items", len(items))
	return items
}

func (f *Fetcher) normalizeEntry(entry *gofeed.Item, source string) *models.NewsItem {
	title := normalizeText(entry.Title)
	if title == "" {
		return nil
	}

	content := normalizeText(entry.Description)
	if content == "" {
		content = normalizeText(entry.Content)
	}

	publishTime := time.Now()
	switch {
	case entry.PublishedParsed != nil:
		publishTime = *entry.PublishedParsed
	case entry.UpdatedParsed != nil:
		publishTime = *entry.UpdatedParsed
	}

	var keywords []string
	for _, category := range entry.Categories {
		if c := normalizeText(category); c != "" {
			keywords = append(keywords, c)
		}
	}

	return &models.NewsItem{
		Title:       title,
		Content:     content,
		Source:      source,
		Category:    defaultCategory,
		URL:         entry.Link,
		PublishTime: publishTime,
		Keywords:    keywords,
	}
}
