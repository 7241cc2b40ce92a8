package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultBaseURL is the OpenRouter API root.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	chatTemperature = 0.7
	chatMaxTokens   = 4000

	summaryTemperature = 0.3
	summaryMaxTokens   = 500
)

// ErrMissingAPIKey marks the configuration-error class: sending is blocked
// until a credential is set, and nothing is retried.
var ErrMissingAPIKey = errors.New("API key not set")

// Client calls the OpenRouter chat completions endpoint.
type Client struct {
	// BaseURL may be overridden in tests.
	BaseURL string

	apiKey     string
	referer    string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
}

// NewClient creates a completion client.
func NewClient(apiKey string, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Client {
	return &Client{
		BaseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		referer:    "https://github.com/multichat",
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
		tracer:     tracer,
		meter:      meter,
	}
}

// SetAPIKey replaces the credential.
func (c *Client) SetAPIKey(key string) { c.apiKey = key }

// HasAPIKey reports whether a credential is configured.
func (c *Client) HasAPIKey() bool { return c.apiKey != "" }

// Complete submits the full message sequence and returns the assistant
// reply text.
func (c *Client) Complete(ctx context.Context, model string, messages []ChatMessage) (string, error) {
	return c.call(ctx, "completion_api_call", ChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
		Stream:      false,
	})
}

// Summarize runs a single-message compression request at low temperature.
func (c *Client) Summarize(ctx context.Context, model, prompt string) (string, error) {
	return c.call(ctx, "summarization_api_call", ChatRequest{
		Model:       model,
		Messages:    []ChatMessage{{Role: "user", Content: prompt}},
		Temperature: summaryTemperature,
		MaxTokens:   summaryMaxTokens,
		Stream:      false,
	})
}

func (c *Client) call(ctx context.Context, spanName string, reqBody ChatRequest) (string, error) {
	ctx, span := c.tracer.Start(ctx, spanName)
	defer span.End()

	start := time.Now()

	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", "MultiChat")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("API error: %s - %s", resp.Status, errResp.Error.Message)
		}
		return "", fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	var apiResp ChatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	duration := time.Since(start)
	histogram, err := c.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err == nil {
		histogram.Record(ctx, float64(duration.Milliseconds()))
	}

	c.recordUsage(ctx, apiResp.Usage)

	if len(apiResp.Choices) == 0 || apiResp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty response from OpenRouter")
	}

	return apiResp.Choices[0].Message.Content, nil
}

// recordUsage records OpenTelemetry counters from the response usage map.
func (c *Client) recordUsage(ctx context.Context, usage map[string]interface{}) {
	if usage == nil {
		return
	}

	for key, value := range usage {
		if intVal, ok := value.(float64); ok {
			counter, err := c.meter.Int64Counter(
				fmt.Sprintf("llm.usage.%s", key),
				metric.WithDescription(fmt.Sprintf("LLM usage metric: %s", key)),
			)
			if err != nil {
				c.logger.Warn("failed to create counter", "key", key, "error", err)
				continue
			}
			counter.Add(ctx, int64(intVal))
		}
	}
}
