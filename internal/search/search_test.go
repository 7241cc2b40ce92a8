package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"MultiChat/internal/cache"
)

func testAdvisor() *Advisor {
	return &Advisor{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:     noop.NewTracerProvider().Tracer("test"),
		results:    cache.New(5 * time.Minute),
		now:        time.Now,
	}
}

func TestShouldAutoSearch(t *testing.T) {
	assert.True(t, ShouldAutoSearch("今日头条新闻"))
	assert.True(t, ShouldAutoSearch("比特币价格是多少"))
	assert.True(t, ShouldAutoSearch("LPL夏季赛赛程"))
	assert.True(t, ShouldAutoSearch("今天星期几"))
	assert.False(t, ShouldAutoSearch("给我讲个故事"))
	assert.False(t, ShouldAutoSearch("如何学习围棋"))
}

func TestIsTimeQuery(t *testing.T) {
	assert.True(t, IsTimeQuery("现在几点"))
	assert.True(t, IsTimeQuery("今天是几号"))
	assert.False(t, IsTimeQuery("新闻"))
}

func TestDecideNoTrigger(t *testing.T) {
	a := testAdvisor()
	assert.Equal(t, "", a.Decide(context.Background(), "讲个笑话", false))
}

func TestDecideTimeQuerySkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	a := testAdvisor()
	a.APIBaseURL = srv.URL
	a.RelayURL = srv.URL + "/get?url="
	a.now = func() time.Time {
		return time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC)
	}

	snippet := a.Decide(context.Background(), "今天星期几", false)
	assert.Contains(t, snippet, "2024年3月5日 星期二")
	assert.Contains(t, snippet, "今天星期几")
	assert.Equal(t, int32(0), calls.Load())
}

func TestDecideInstantAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "天气 北京", r.URL.Query().Get("q"))
		json.NewEncoder(w).Encode(map[string]any{
			"Answer":         "晴，25度",
			"Abstract":       "北京今日天气概况",
			"AbstractSource": "Weather",
			"RelatedTopics": []map[string]string{
				{"Text": "明日天气"},
				{"Text": "空气质量"},
				{"Text": "周末天气"},
				{"Text": "不应出现"},
			},
		})
	}))
	defer srv.Close()

	a := testAdvisor()
	a.APIBaseURL = srv.URL

	snippet := a.Decide(context.Background(), "天气 北京", false)
	assert.Contains(t, snippet, "即时答案: 晴，25度")
	assert.Contains(t, snippet, "摘要: 北京今日天气概况")
	assert.Contains(t, snippet, "来源: Weather")
	assert.Contains(t, snippet, "1. 明日天气")
	assert.Contains(t, snippet, "3. 周末天气")
	assert.NotContains(t, snippet, "不应出现")
}

func TestDecideManualToggleForcesSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"Answer": "42"})
	}))
	defer srv.Close()

	a := testAdvisor()
	a.APIBaseURL = srv.URL

	// No implicit trigger, but the manual toggle is on.
	snippet := a.Decide(context.Background(), "讲个笑话", true)
	assert.Contains(t, snippet, "即时答案: 42")
}

func TestDecideFallbackOnEmptyInstantAnswer(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer api.Close()

	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		parsed, err := url.Parse(target)
		require.NoError(t, err)
		assert.Equal(t, "世界杯比分", parsed.Query().Get("q"))

		html := `<div class="result__snippet">第一条结果</div>
			<div class="result__snippet">第二条结果</div>
			<div class="result__snippet">第三条结果</div>
			<div class="result__snippet">第四条结果</div>`
		json.NewEncoder(w).Encode(map[string]string{"contents": html})
	}))
	defer relay.Close()

	a := testAdvisor()
	a.APIBaseURL = api.URL
	a.RelayURL = relay.URL + "/get?url="

	snippet := a.Decide(context.Background(), "世界杯比分", false)
	assert.Contains(t, snippet, "1. 第一条结果")
	assert.Contains(t, snippet, "3. 第三条结果")
	assert.NotContains(t, snippet, "第四条结果")
}

func TestDecideNeutralSnippetWhenEverythingFails(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer api.Close()

	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer relay.Close()

	a := testAdvisor()
	a.APIBaseURL = api.URL
	a.RelayURL = relay.URL + "/get?url="

	snippet := a.Decide(context.Background(), "疫情最新消息", false)
	assert.Contains(t, snippet, "搜索服务暂时不可用")
}

func TestDecideCachesResults(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"Answer": "answer"})
	}))
	defer srv.Close()

	a := testAdvisor()
	a.APIBaseURL = srv.URL

	first := a.Decide(context.Background(), "股价查询", false)
	second := a.Decide(context.Background(), "股价查询", false)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRenderInstantAnswerEmpty(t *testing.T) {
	assert.Equal(t, "", renderInstantAnswer(instantAnswerResponse{}, "q"))
}

func TestFallbackNoResultsHTML(t *testing.T) {
	snippet := parseSearchHTML("<html><body><p>nothing here</p></body></html>", "查询")
	assert.Contains(t, snippet, "未找到详细搜索结果")
}
