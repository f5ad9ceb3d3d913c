package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finbrief/finbrief/pkg/config"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>财经新闻</title>
    <item>
      <title>央行宣布降准0.5个百分点</title>
      <link>https://example.com/news/1</link>
      <description>&lt;p&gt;中国人民银行决定下调&amp;nbsp;存款准备金率。&lt;/p&gt;</description>
      <pubDate>Mon, 24 Aug 2026 09:30:00 +0800</pubDate>
      <category>货币政策</category>
    </item>
    <item>
      <title>A股三大指数收涨</title>
      <link>https://example.com/news/2</link>
      <description>沪指涨1.2%</description>
    </item>
    <item>
      <title>第三条新闻</title>
      <link>https://example.com/news/3</link>
      <description>内容三</description>
    </item>
  </channel>
</rss>`

func serveRSS(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFetch(t *testing.T) {
	server := serveRSS(t, sampleRSS, http.StatusOK)

	fetcher := NewFetcher()
	items := fetcher.Fetch(context.Background(), &config.RSSFeedConfig{
		Name:     "ChinaNews",
		URL:      server.URL,
		MaxItems: 10,
	})

	require.Len(t, items, 3)
	first := items[0]
	assert.Equal(t, "央行宣布降准0.5个百分点", first.Title)
	// Tags stripped, entities decoded, whitespace collapsed.
	assert.Equal(t, "中国人民银行决定下调 存款准备金率。", first.Content)
	assert.Equal(t, "ChinaNews", first.Source)
	assert.Equal(t, "finance", first.Category)
	assert.Equal(t, "https://example.com/news/1", first.URL)
	assert.Equal(t, []string{"货币政策"}, first.Keywords)
	assert.Equal(t, 2026, first.PublishTime.Year())

	// Entry without pubDate falls back to now.
	assert.False(t, items[1].PublishTime.IsZero())
}

func TestFetchRespectsMaxItems(t *testing.T) {
	server := serveRSS(t, sampleRSS, http.StatusOK)

	fetcher := NewFetcher()
	items := fetcher.Fetch(context.Background(), &config.RSSFeedConfig{
		Name: "ChinaNews", URL: server.URL, MaxItems: 2,
	})
	assert.Len(t, items, 2)
}

func TestFetchErrorsReturnEmpty(t *testing.T) {
	tests := []struct {
		name   string
		server func(t *testing.T) string
	}{
		{
			name: "http error status",
			server: func(t *testing.T) string {
				return serveRSS(t, "", http.StatusInternalServerError).URL
			},
		},
		{
			name: "malformed feed",
			server: func(t *testing.T) string {
				return serveRSS(t, "this is not xml at all {", http.StatusOK).URL
			},
		},
		{
			name: "unreachable host",
			server: func(t *testing.T) string {
				s := serveRSS(t, sampleRSS, http.StatusOK)
				s.Close()
				return s.URL
			},
		},
	}

	fetcher := NewFetcher()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := fetcher.Fetch(context.Background(), &config.RSSFeedConfig{
				Name: "x", URL: tt.server(t), MaxItems: 10,
			})
			assert.Empty(t, items)
		})
	}
}

func TestCollectMergesEnabledFeeds(t *testing.T) {
	server := serveRSS(t, sampleRSS, http.StatusOK)
	disabled := false

	collector := NewCollector([]config.RSSFeedConfig{
		{Name: "a", URL: server.URL, MaxItems: 2},
		{Name: "b", URL: server.URL, MaxItems: 1},
		{Name: "c", URL: server.URL, MaxItems: 5, Enabled: &disabled},
	})

	items := collector.Collect(context.Background())
	assert.Len(t, items, 3)

	sources := map[string]int{}
	for _, item := range items {
		sources[item.Source]++
	}
	assert.Equal(t, 2, sources["a"])
	assert.Equal(t, 1, sources["b"])
	assert.Zero(t, sources["c"])
}

func TestEmptyFeedYieldsNoItems(t *testing.T) {
	empty := `<?xml version="1.0"?><rss version="2.0"><channel><title>t</title></channel></rss>`
	server := serveRSS(t, empty, http.StatusOK)

	fetcher := NewFetcher()
	items := fetcher.Fetch(context.Background(), &config.RSSFeedConfig{Name: "e", URL: server.URL, MaxItems: 5})
	assert.Empty(t, items)
}
