package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/trace"

	"MultiChat/internal/cache"
)

// Keyword sets for implicit augmentation triggers. Fixed lists; matching is
// a case-insensitive substring check.
var (
	realTimeTopics = []string{"lpl", "lck", "股价", "股市", "新闻", "天气", "比特币", "汇率", "疫情", "奥运", "世界杯", "比赛", "赛程", "转会", "人员", "阵容"}
	priceQueries   = []string{"价格", "多少钱", "费用", "成本"}
	timeQueries    = []string{"今天", "现在", "当前时间", "几号", "日期", "星期"}
)

var weekdayNames = map[time.Weekday]string{
	time.Sunday:    "星期日",
	time.Monday:    "星期一",
	time.Tuesday:   "星期二",
	time.Wednesday: "星期三",
	time.Thursday:  "星期四",
	time.Friday:    "星期五",
	time.Saturday:  "星期六",
}

// Advisor decides whether an outgoing message should be augmented with
// retrieved context and produces the snippet. It never returns an error:
// retrieval failure degrades to a fallback path and finally to a neutral
// snippet, so a broken search service cannot block the chat.
type Advisor struct {
	// Endpoints, overridable in tests.
	APIBaseURL string // instant answer API
	SearchURL  string // rendered HTML search results
	RelayURL   string // CORS relay prefix for the fallback fetch

	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	results    *cache.Store
	now        func() time.Time
}

// NewAdvisor creates an advisor with production endpoints.
func NewAdvisor(logger *slog.Logger, tracer trace.Tracer) *Advisor {
	return &Advisor{
		APIBaseURL: "https://api.duckduckgo.com",
		SearchURL:  "https://duckduckgo.com/html/",
		RelayURL:   "https://api.allorigins.win/get?url=",
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
		tracer:     tracer,
		results:    cache.New(5 * time.Minute),
		now:        time.Now,
	}
}

// ShouldAutoSearch reports whether the message implicitly needs fresh
// information, independent of the manual toggle.
func ShouldAutoSearch(query string) bool {
	return matchesAny(query, realTimeTopics) ||
		matchesAny(query, priceQueries) ||
		matchesAny(query, timeQueries)
}

// IsTimeQuery reports whether the message asks about the current date or
// time. Those are answered locally, without any retrieval call.
func IsTimeQuery(query string) bool {
	return matchesAny(query, timeQueries)
}

func matchesAny(query string, keywords []string) bool {
	lower := strings.ToLower(query)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Decide returns the augmentation snippet for the message, or "" when no
// trigger applies. The manual toggle and auto-detection are evaluated
// independently; either one causes augmentation to run.
func (a *Advisor) Decide(ctx context.Context, query string, manualEnabled bool) string {
	if !manualEnabled && !ShouldAutoSearch(query) {
		return ""
	}

	if IsTimeQuery(query) {
		return a.timeSnippet(query)
	}

	key := cache.Key("search", query)
	if snippet, ok := a.results.Get(key); ok {
		a.logger.Info("search cache hit", "query", query)
		return snippet
	}

	snippet, err := a.instantAnswer(ctx, query)
	if err != nil || snippet == "" {
		if err != nil {
			a.logger.Warn("instant answer search failed, trying fallback", "query", query, "error", err)
		}
		snippet = a.fallbackSearch(ctx, query)
	}

	a.results.Put(key, snippet)
	return snippet
}

// timeSnippet is a deterministic date/weekday snippet built without any
// network call.
func (a *Advisor) timeSnippet(query string) string {
	now := a.now()
	date := fmt.Sprintf("%d年%d月%d日 %s", now.Year(), int(now.Month()), now.Day(), weekdayNames[now.Weekday()])
	return fmt.Sprintf("搜索查询: %q\n\n当前时间信息: 今天是%s\n\n请基于这个准确的时间信息回答用户的问题。", query, date)
}

// instantAnswerResponse is the subset of the instant answer API payload
// the advisor renders.
type instantAnswerResponse struct {
	Answer         string `json:"Answer"`
	Abstract       string `json:"Abstract"`
	AbstractSource string `json:"AbstractSource"`
	RelatedTopics  []struct {
		Text string `json:"Text"`
	} `json:"RelatedTopics"`
	Definition       string `json:"Definition"`
	DefinitionSource string `json:"DefinitionSource"`
}

// instantAnswer queries the instant answer API and renders its optional
// fields into labeled blocks. Returns "" when the response carries no
// usable content.
func (a *Advisor) instantAnswer(ctx context.Context, query string) (string, error) {
	ctx, span := a.tracer.Start(ctx, "instant_answer_search")
	defer span.End()

	searchURL := fmt.Sprintf("%s/?q=%s&format=json&no_html=1&skip_disambig=1", a.APIBaseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search API error: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var data instantAnswerResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return renderInstantAnswer(data, query), nil
}

// renderInstantAnswer builds the snippet from the structured result. Each
// optional field contributes one labeled block.
func renderInstantAnswer(data instantAnswerResponse, query string) string {
	var sb strings.Builder
	empty := true

	fmt.Fprintf(&sb, "搜索查询: %q\n\n", query)

	if data.Answer != "" {
		fmt.Fprintf(&sb, "即时答案: %s\n\n", data.Answer)
		empty = false
	}

	if data.Abstract != "" {
		fmt.Fprintf(&sb, "摘要: %s\n", data.Abstract)
		if data.AbstractSource != "" {
			fmt.Fprintf(&sb, "来源: %s\n", data.AbstractSource)
		}
		sb.WriteString("\n")
		empty = false
	}

	topics := data.RelatedTopics
	if len(topics) > 3 {
		topics = topics[:3]
	}
	wroteHeader := false
	for i, topic := range topics {
		if topic.Text == "" {
			continue
		}
		if !wroteHeader {
			sb.WriteString("相关主题:\n")
			wroteHeader = true
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, topic.Text)
		empty = false
	}
	if wroteHeader {
		sb.WriteString("\n")
	}

	if data.Definition != "" {
		fmt.Fprintf(&sb, "定义: %s\n", data.Definition)
		if data.DefinitionSource != "" {
			fmt.Fprintf(&sb, "定义来源: %s\n", data.DefinitionSource)
		}
		sb.WriteString("\n")
		empty = false
	}

	if empty {
		return ""
	}
	return sb.String()
}

// fallbackSearch fetches rendered search-result HTML through the CORS
// relay and extracts text snippets. It always returns something usable.
func (a *Advisor) fallbackSearch(ctx context.Context, query string) string {
	ctx, span := a.tracer.Start(ctx, "fallback_search")
	defer span.End()

	target := fmt.Sprintf("%s?q=%s", a.SearchURL, url.QueryEscape(query))
	fullURL := a.RelayURL + url.QueryEscape(target)

	req, err := http.NewRequestWithContext(ctx, "GET", fullURL, nil)
	if err != nil {
		a.logger.Warn("fallback search failed", "query", query, "error", err)
		return unavailableSnippet(query)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.Warn("fallback search failed", "query", query, "error", err)
		return unavailableSnippet(query)
	}
	defer resp.Body.Close()

	var relayed struct {
		Contents string `json:"contents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&relayed); err != nil || relayed.Contents == "" {
		a.logger.Warn("fallback search returned no contents", "query", query, "error", err)
		return unavailableSnippet(query)
	}

	return parseSearchHTML(relayed.Contents, query)
}

// parseSearchHTML extracts up to three result snippets from rendered
// search HTML.
func parseSearchHTML(html, query string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return unavailableSnippet(query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "搜索查询: %q\n\n", query)

	found := 0
	doc.Find(".result__snippet, .result__body").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return true
		}
		if found == 0 {
			sb.WriteString("搜索结果:\n")
		}
		found++
		fmt.Fprintf(&sb, "%d. %s\n\n", found, text)
		return found < 3
	})

	if found == 0 {
		sb.WriteString("未找到详细搜索结果，请基于您的知识回答问题。\n\n")
	}

	return sb.String()
}

func unavailableSnippet(query string) string {
	return fmt.Sprintf("搜索查询: %q\n\n搜索服务暂时不可用，将基于现有知识回答您的问题。", query)
}
