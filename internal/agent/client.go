package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const jsonOnlyInstruction = "You MUST respond with valid JSON only. Your entire response must be a single JSON object with no additional text, markdown, or explanations."

// APIError is a non-2xx provider response. Status carries the HTTP code so
// callers can classify retryability.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Body)
}

// Client calls an Anthropic- or OpenAI-style chat API and reports token
// usage. It is single-shot transport: retry scheduling belongs to the
// caller's retry policy, not here.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	apiType    string // "anthropic" or "openai"
	httpClient *http.Client
	limiter    *TokenLimiter
	logger     *slog.Logger
}

type Option func(*Client)

// WithTimeout bounds each HTTP call.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		transport := c.httpClient.Transport
		c.httpClient = &http.Client{
			Timeout:   timeout,
			Transport: transport,
		}
	}
}

// WithAPIConfig points the client at a provider endpoint and default model.
func WithAPIConfig(baseURL, model string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
		c.model = model
		if strings.Contains(baseURL, "openai") {
			c.apiType = "openai"
		} else {
			c.apiType = "anthropic"
		}
	}
}

// WithTokenLimiter gates every call through the given budget limiter.
func WithTokenLimiter(limiter *TokenLimiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(apiKey string, opts ...Option) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	c := &Client{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com/v1",
		model:   "claude-3-5-sonnet-20241022",
		apiType: "anthropic",
		httpClient: &http.Client{
			Timeout:   120 * time.Second,
			Transport: transport,
		},
		logger: slog.Default().With("component", "ai_client"),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger.Debug("AI client initialized",
		"api_type", c.apiType,
		"base_url", c.baseURL,
		"model", c.model,
		"rate_limited", c.limiter != nil)

	return c
}

// Generate runs one generation call: admit through the rate budget, hit the
// provider, reconcile actual usage.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	requestID := uuid.NewString()
	startTime := time.Now()

	if req.Model == "" {
		req.Model = c.model
	}
	if req.Class == "" {
		req.Class = ClassDefault
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}

	estimate := EstimateTokens(req)
	if c.limiter != nil {
		c.logger.Debug("waiting for rate budget",
			"request_id", requestID,
			"class", string(req.Class),
			"estimated_tokens", estimate)
		if err := c.limiter.RequestPermission(ctx, req.Class, estimate, req.Priority); err != nil {
			return nil, fmt.Errorf("rate budget wait: %w", err)
		}
	}

	c.logger.Debug("sending generation request",
		"request_id", requestID,
		"api_type", c.apiType,
		"model", req.Model,
		"class", string(req.Class),
		"prompt_length", len(req.Prompt),
		"system_length", len(req.System),
		"max_tokens", req.MaxTokens,
		"force_json", req.ForceJSON)

	var result *Result
	var err error
	if c.apiType == "openai" {
		result, err = c.doOpenAIRequest(ctx, requestID, req)
	} else {
		result, err = c.doAnthropicRequest(ctx, requestID, req)
	}

	if err != nil {
		// Failed calls settle at the estimate; refunds only come from
		// provider-reported usage.
		if c.limiter != nil {
			c.limiter.RecordUsage(req.Class, estimate)
		}
		c.logger.Error("generation request failed",
			"request_id", requestID,
			"api_type", c.apiType,
			"model", req.Model,
			"duration_ms", time.Since(startTime).Milliseconds(),
			"error", err)
		return nil, err
	}

	if c.limiter != nil {
		c.limiter.RecordUsage(req.Class, result.Usage.Total())
	}

	c.logger.Info("generation request completed",
		"request_id", requestID,
		"model", req.Model,
		"class", string(req.Class),
		"input_tokens", result.Usage.InputTokens,
		"output_tokens", result.Usage.OutputTokens,
		"response_length", len(result.Text),
		"duration_ms", time.Since(startTime).Milliseconds())

	return result, nil
}

func (c *Client) doAnthropicRequest(ctx context.Context, requestID string, req Request) (*Result, error) {
	system := req.System
	if req.ForceJSON {
		if system != "" {
			system += "\n\n"
		}
		system += jsonOnlyInstruction
	}

	requestBody := map[string]any{
		"model": req.Model,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
		"max_tokens": req.MaxTokens,
	}
	if system != "" {
		requestBody["system"] = system
	}
	if req.Temperature > 0 {
		requestBody["temperature"] = req.Temperature
	}

	respBody, err := c.post(ctx, requestID, "/messages", requestBody, func(h http.Header) {
		h.Set("x-api-key", c.apiKey)
		h.Set("anthropic-version", "2023-06-01")
	})
	if err != nil {
		return nil, err
	}

	var response struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(response.Content) == 0 {
		return nil, fmt.Errorf("no content in response")
	}

	return &Result{
		Text: response.Content[0].Text,
		Usage: TokenUsage{
			InputTokens:  response.Usage.InputTokens,
			OutputTokens: response.Usage.OutputTokens,
		},
	}, nil
}

func (c *Client) doOpenAIRequest(ctx context.Context, requestID string, req Request) (*Result, error) {
	system := req.System
	if req.ForceJSON {
		if system != "" {
			system += "\n\n"
		}
		system += jsonOnlyInstruction
	}

	var messages []map[string]string
	if system != "" {
		messages = append(messages, map[string]string{"role": "system", "content": system})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	requestBody := map[string]any{
		"model":      req.Model,
		"messages":   messages,
		"max_tokens": req.MaxTokens,
	}
	if req.Temperature > 0 {
		requestBody["temperature"] = req.Temperature
	}
	if req.ForceJSON {
		requestBody["response_format"] = map[string]string{"type": "json_object"}
	}

	respBody, err := c.post(ctx, requestID, "/chat/completions", requestBody, func(h http.Header) {
		h.Set("Authorization", "Bearer "+c.apiKey)
	})
	if err != nil {
		return nil, err
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return &Result{
		Text: response.Choices[0].Message.Content,
		Usage: TokenUsage{
			InputTokens:  response.Usage.PromptTokens,
			OutputTokens: response.Usage.CompletionTokens,
		},
	}, nil
}

func (c *Client) post(ctx context.Context, requestID, endpoint string, body any, setHeaders func(http.Header)) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setHeaders(req.Header)

	httpStart := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	c.logger.Debug("HTTP response received",
		"request_id", requestID,
		"endpoint", endpoint,
		"status_code", resp.StatusCode,
		"body_size", len(respBody),
		"duration_ms", time.Since(httpStart).Milliseconds())

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}
