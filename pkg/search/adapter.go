// Package search adapts a web-search endpoint into an opaque
// query → evidence-blob function for the deep analyzer.
package search

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://www.baidu.com/s"
	searchTimeout  = 30 * time.Second

	// Result pages shorter than this carry no usable result list.
	minContentLength = 10000

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// failureMarker flags unusable evidence; the deep analyzer filters
// blobs containing it.
const failureMarker = "搜索失败"

// Adapter issues web searches and summarizes the result page into a
// textual evidence blob. It never parses individual result entries.
type Adapter struct {
	client  *http.Client
	baseURL string
}

// NewAdapter creates an adapter against the default endpoint.
func NewAdapter() *Adapter {
	return &Adapter{
		client:  &http.Client{Timeout: searchTimeout},
		baseURL: defaultBaseURL,
	}
}

// NewAdapterWithBaseURL overrides the endpoint, for tests.
func NewAdapterWithBaseURL(baseURL string) *Adapter {
	a := NewAdapter()
	a.baseURL = baseURL
	return a
}

// Search runs one query and returns (evidence, ok). ok is true iff the
// transport succeeded and the page carried enough content to plausibly
// hold results. maxResults is clamped into [2,4].
func (a *Adapter) Search(ctx context.Context, query string, maxResults int) (string, bool) {
	if maxResults < 2 {
		maxResults = 2
	}
	if maxResults > 4 {
		maxResults = 4
	}

	log := slog.With("query", query)
	start := time.Now()

	params := url.Values{}
	params.Set("wd", query)
	params.Set("pn", "0")
	params.Set("rn", strconv.Itoa(min(maxResults*10, 50)))
	params.Set("ie", "utf-8")
	searchURL := a.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		log.Warn("Failed to build search request", "error", err)
		return failureBlob(query), false
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := a.client.Do(req)
	if err != nil {
		log.Warn("Search request failed", "error", err)
		return failureBlob(query), false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		log.Warn("Search returned non-200 status", "status", resp.StatusCode)
		return failureBlob(query), false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Warn("Failed to read search response", "error", err)
		return failureBlob(query), false
	}

	elapsed := time.Since(start)
	contentLength := len(body)
	content := string(body)

	if contentLength < minContentLength {
		log.Warn("Search page too short", "length", contentLength)
		return fmt.Sprintf(`搜索结果摘要：
关键词：%s
搜索状态：部分成功
搜索链接：%s
内容长度：%d字符

搜索总结：搜索请求已处理，但返回的内容可能不完整。`, query, searchURL, contentLength), false
	}

	log.Info("Search succeeded", "length", contentLength, "elapsed", elapsed)

	return fmt.Sprintf(`搜索结果摘要：
关键词：%s
搜索状态：成功
搜索链接：%s
内容长度：%d字符
响应时间：%.2f秒
权威性指标：%d
时效性指标：%d

搜索总结：成功获取到关于'%s'的搜索结果页面，页面包含大量相关信息。

页面预览：%s`,
		query, searchURL, contentLength, elapsed.Seconds(),
		countHits(content, authorityIndicators),
		countHits(content, freshnessIndicators),
		query, preview(content, 300)), true
}

// Indicator keyword sets surfaced in the evidence blob. The deep
// analyzer's evidence scoring keys off these same terms.
var (
	authorityIndicators = []string{"官方", "政府", "央行", "证监会", "银保监会", "发改委", "财政部", "新华社", "人民日报"}
	freshnessIndicators = []string{"最新", "今日", "刚刚", "今年", "近期", "目前", "现在"}
)

func countHits(content string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(content, kw) {
			hits++
		}
	}
	return hits
}

func failureBlob(query string) string {
	return fmt.Sprintf("%s：无法为关键词'%s'生成有效的搜索结果。", failureMarker, query)
}

func preview(content string, limit int) string {
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit])
}

// IsUsable reports whether an evidence blob carries real content: long
// enough and not a failure marker.
func IsUsable(blob string) bool {
	return len(blob) > 50 && !strings.Contains(blob, failureMarker)
}
