package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerateAnthropic(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s, want /messages", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic-version header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[{"text":"the harbor at dawn"}],"usage":{"input_tokens":12,"output_tokens":34}}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithAPIConfig(srv.URL, "test-model"))
	defer c.httpClient.CloseIdleConnections()

	res, err := c.Generate(context.Background(), Request{
		Prompt:      "write the opening",
		System:      "you are a novelist",
		Temperature: 0.8,
		MaxTokens:   500,
		ForceJSON:   false,
		Class:       ClassWriting,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Text != "the harbor at dawn" {
		t.Errorf("text = %q", res.Text)
	}
	if res.Usage.InputTokens != 12 || res.Usage.OutputTokens != 34 {
		t.Errorf("usage = %+v", res.Usage)
	}
	if gotBody["model"] != "test-model" {
		t.Errorf("model = %v", gotBody["model"])
	}
	if gotBody["system"] != "you are a novelist" {
		t.Errorf("system = %v", gotBody["system"])
	}
	if gotBody["max_tokens"] != float64(500) {
		t.Errorf("max_tokens = %v", gotBody["max_tokens"])
	}
}

func TestGenerateOpenAI(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/openai/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		var body struct {
			Messages       []map[string]string `json:"messages"`
			ResponseFormat map[string]string   `json:"response_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		if len(body.Messages) != 2 || body.Messages[0]["role"] != "system" {
			t.Errorf("messages = %v", body.Messages)
		}
		if body.ResponseFormat["type"] != "json_object" {
			t.Errorf("response_format = %v", body.ResponseFormat)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"ok\":true}"}}],"usage":{"prompt_tokens":7,"completion_tokens":3}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient("test-key", WithAPIConfig(srv.URL+"/openai/v1", "gpt-test"))
	defer c.httpClient.CloseIdleConnections()

	res, err := c.Generate(context.Background(), Request{
		Prompt:    "extract",
		System:    "you extract facts",
		ForceJSON: true,
		Class:     ClassExtraction,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Text != `{"ok":true}` {
		t.Errorf("text = %q", res.Text)
	}
	if res.Usage.InputTokens != 7 || res.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", res.Usage)
	}
}

func TestGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithAPIConfig(srv.URL, "test-model"))
	defer c.httpClient.CloseIdleConnections()

	_, err := c.Generate(context.Background(), Request{Prompt: "anything"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", apiErr.Status)
	}
}

func TestGenerateSettlesLimiterOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	limiter := newTestLimiter(map[ModelClass]ClassBudget{
		ClassDefault: {TokensPerMinute: 60, BurstTokens: 100000},
	})
	c := NewClient("test-key", WithAPIConfig(srv.URL, "test-model"), WithTokenLimiter(limiter))
	defer c.httpClient.CloseIdleConnections()

	if _, err := c.Generate(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Fatal("expected error from 500 response")
	}
	// The failed call's estimate must be settled, not left outstanding.
	cl := limiter.classFor(ClassDefault)
	cl.mu.Lock()
	outstanding := len(cl.estimates)
	cl.mu.Unlock()
	if outstanding != 0 {
		t.Errorf("outstanding estimates = %d, want 0", outstanding)
	}
}
