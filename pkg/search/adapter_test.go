package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func serveSearch(t *testing.T, body string, status int) *Adapter {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return NewAdapterWithBaseURL(server.URL)
}

func TestSearchSuccess(t *testing.T) {
	page := "央行官方发布最新数据 " + strings.Repeat("相关财经内容。", 2000)
	adapter := serveSearch(t, page, http.StatusOK)

	blob, ok := adapter.Search(context.Background(), "央行降准", 3)
	assert.True(t, ok)
	assert.Contains(t, blob, "关键词：央行降准")
	assert.Contains(t, blob, "搜索状态：成功")
	assert.Contains(t, blob, "内容长度：")
	assert.Contains(t, blob, "权威性指标：")
	assert.True(t, IsUsable(blob))
}

func TestSearchShortPageNotOK(t *testing.T) {
	adapter := serveSearch(t, "too short", http.StatusOK)

	blob, ok := adapter.Search(context.Background(), "q", 3)
	assert.False(t, ok)
	assert.Contains(t, blob, "部分成功")
}

func TestSearchHTTPErrorNotOK(t *testing.T) {
	adapter := serveSearch(t, "", http.StatusServiceUnavailable)

	blob, ok := adapter.Search(context.Background(), "q", 3)
	assert.False(t, ok)
	assert.Contains(t, blob, "搜索失败")
	assert.False(t, IsUsable(blob))
}

func TestSearchTransportErrorNotOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()
	adapter := NewAdapterWithBaseURL(server.URL)

	blob, ok := adapter.Search(context.Background(), "q", 3)
	assert.False(t, ok)
	assert.Contains(t, blob, "搜索失败")
}

func TestMaxResultsClamped(t *testing.T) {
	var gotRN string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRN = r.URL.Query().Get("rn")
		_, _ = w.Write([]byte(strings.Repeat("x", minContentLength+1)))
	}))
	t.Cleanup(server.Close)
	adapter := NewAdapterWithBaseURL(server.URL)

	adapter.Search(context.Background(), "q", 100)
	assert.Equal(t, "40", gotRN, "maxResults clamps to 4")

	adapter.Search(context.Background(), "q", 0)
	assert.Equal(t, "20", gotRN, "maxResults clamps to 2")
}

func TestIsUsable(t *testing.T) {
	assert.False(t, IsUsable("short"))
	assert.False(t, IsUsable(failureBlob("任何关键词都一样，这段文字足够长但包含失败标记")))
	assert.True(t, IsUsable(strings.Repeat("有效证据内容", 20)))
}
