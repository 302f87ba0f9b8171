package cloud

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clipforge/clipforge-agent/internal/logging"
	"github.com/clipforge/clipforge-agent/internal/project"
)

const (
	defaultBaseURL        = "https://api.anthropic.com/v1/messages"
	defaultHTTPTimeout    = 60 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 1 * time.Second
	defaultMaxTokens      = 4096
	captionMaxTokens      = 1024
)

// APIError represents a non-2xx response from the model endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("scene intelligence request failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx) and rate limiting.
// Other client errors (4xx) are considered permanent.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// HTTPClient talks to an Anthropic-style messages API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger

	retryAttempts  int
	retryBaseDelay time.Duration
	sleeper        func(time.Duration)
}

// Option customizes the client.
type Option func(*HTTPClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetry overrides the retry attempt count and base delay.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(c *HTTPClient) {
		if attempts > 0 {
			c.retryAttempts = attempts
		}
		if baseDelay >= 0 {
			c.retryBaseDelay = baseDelay
		}
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *HTTPClient) {
		if sleeper != nil {
			c.sleeper = sleeper
		}
	}
}

func NewHTTPClient(baseURL, apiKey, model string, logger *slog.Logger, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:        strings.TrimSpace(baseURL),
		apiKey:         strings.TrimSpace(apiKey),
		model:          strings.TrimSpace(model),
		httpClient:     &http.Client{Timeout: defaultHTTPTimeout},
		logger:         logger,
		retryAttempts:  defaultRetryAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		sleeper:        time.Sleep,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) AnalyzeBatch(ctx context.Context, framePaths []string, batchStartOffset float64, intervalSeconds int) ([]project.SceneAnalysis, error) {
	if len(framePaths) == 0 {
		return nil, nil
	}

	content := []contentBlock{{
		Type: "text",
		Text: analyzeBatchPrompt(len(framePaths), intervalSeconds, batchStartOffset),
	}}
	for _, framePath := range framePaths {
		data, err := os.ReadFile(framePath)
		if err != nil {
			return nil, fmt.Errorf("cannot read keyframe %s: %w", logging.SanitizePath(framePath), err)
		}
		content = append(content, contentBlock{
			Type: "image",
			Source: &imageSource{
				Type:      "base64",
				MediaType: mediaTypeFor(framePath),
				Data:      base64.StdEncoding.EncodeToString(data),
			},
		})
	}

	text, err := c.createMessage(ctx, analyzeBatchSystem, content, defaultMaxTokens)
	if err != nil {
		return nil, err
	}

	var scenes []project.SceneAnalysis
	if err := decodeModelJSON(text, &scenes); err != nil {
		// Malformed batch output drops this batch's contribution only.
		if c.logger != nil {
			c.logger.Error("failed to parse scene analysis response",
				"error", err, "response_head", truncate(text, 200))
		}
		return nil, nil
	}
	return scenes, nil
}

func (c *HTTPClient) DetectClips(ctx context.Context, timeline []project.SceneAnalysis, videoDuration float64) ([]ClipSuggestion, error) {
	prompt, err := detectClipsPrompt(timeline, videoDuration)
	if err != nil {
		return nil, err
	}

	text, err := c.createMessage(ctx, detectClipsSystem, []contentBlock{{Type: "text", Text: prompt}}, defaultMaxTokens)
	if err != nil {
		return nil, err
	}

	var suggestions []ClipSuggestion
	if err := decodeModelJSON(text, &suggestions); err != nil {
		if c.logger != nil {
			c.logger.Error("failed to parse clip suggestions", "error", err)
		}
		return nil, nil
	}
	return suggestions, nil
}

func (c *HTTPClient) GenerateCaption(ctx context.Context, clipDescription, productInfo, tone string) (CaptionResult, error) {
	if tone == "" {
		tone = "casual"
	}

	text, err := c.createMessage(ctx, generateCaptionSystem,
		[]contentBlock{{Type: "text", Text: generateCaptionPrompt(clipDescription, productInfo, tone)}},
		captionMaxTokens)
	if err != nil {
		return CaptionResult{}, err
	}

	var result CaptionResult
	if err := decodeModelJSON(text, &result); err != nil {
		if c.logger != nil {
			c.logger.Error("failed to parse caption response", "error", err)
		}
		// Fall back to the raw description so the clip still gets a caption.
		return CaptionResult{
			Caption:  clipDescription,
			Hashtags: []string{"#shopee", "#affiliate", "#tiktok"},
			CTA:      "Link in bio!",
		}, nil
	}
	return result, nil
}

func (c *HTTPClient) MatchProduct(ctx context.Context, title, category string, timeline []project.SceneAnalysis) ([]project.SceneMatch, error) {
	prompt, err := matchProductPrompt(title, category, timeline)
	if err != nil {
		return nil, err
	}

	text, err := c.createMessage(ctx, matchProductSystem, []contentBlock{{Type: "text", Text: prompt}}, captionMaxTokens)
	if err != nil {
		return nil, err
	}

	var matches []project.SceneMatch
	if err := decodeModelJSON(text, &matches); err != nil {
		if c.logger != nil {
			c.logger.Error("failed to parse product match response", "error", err)
		}
		return nil, nil
	}
	return matches, nil
}

// createMessage performs one model invocation with bounded retries on
// retryable failures.
func (c *HTTPClient) createMessage(ctx context.Context, system string, content []contentBlock, maxTokens int) (string, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  []requestMessage{{Role: "user", Content: content}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal model request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		if attempt > 1 {
			c.sleeper(c.retryBaseDelay << (attempt - 2))
		}

		text, err := c.doRequest(ctx, body)
		if err == nil {
			return text, nil
		}
		lastErr = err

		apiErr, ok := err.(*APIError)
		if ok && !apiErr.IsRetryable() {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if c.logger != nil {
			c.logger.Warn("model request failed, retrying",
				"attempt", attempt, "error", err)
		}
	}
	return "", lastErr
}

func (c *HTTPClient) doRequest(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("model request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read model response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode model response envelope: %w", err)
	}
	return parsed.text(), nil
}

// decodeModelJSON strips markdown code fences the model sometimes wraps its
// JSON in, then unmarshals.
func decodeModelJSON(text string, dst any) error {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return fmt.Errorf("empty model response")
	}
	return json.Unmarshal([]byte(cleaned), dst)
}

func mediaTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
