package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockGenerator returns scripted responses for tests. Rules match on a
// substring of the prompt (or system prompt) in registration order; the
// first match wins.
type MockGenerator struct {
	mu    sync.Mutex
	rules []mockRule
	calls []Request
}

type mockRule struct {
	match string
	fn    func(req Request) (*Result, error)
}

func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// Stub registers a static response for prompts containing match.
func (m *MockGenerator) Stub(match, text string) {
	m.StubFunc(match, func(req Request) (*Result, error) {
		return &Result{
			Text: text,
			Usage: TokenUsage{
				InputTokens:  len(req.Prompt) / 4,
				OutputTokens: len(text) / 4,
			},
		}, nil
	})
}

// StubError registers an error response for prompts containing match.
func (m *MockGenerator) StubError(match string, err error) {
	m.StubFunc(match, func(Request) (*Result, error) {
		return nil, err
	})
}

// StubFunc registers a response function for prompts containing match.
func (m *MockGenerator) StubFunc(match string, fn func(req Request) (*Result, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{match: match, fn: fn})
}

func (m *MockGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, req)
	rules := make([]mockRule, len(m.rules))
	copy(rules, m.rules)
	m.mu.Unlock()

	haystack := req.Prompt + "\n" + req.System
	for _, rule := range rules {
		if strings.Contains(haystack, rule.match) {
			return rule.fn(req)
		}
	}
	return nil, fmt.Errorf("mock generator: no stub matches prompt %q", truncate(req.Prompt, 80))
}

// Calls returns a copy of every request seen so far.
func (m *MockGenerator) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsMatching counts requests whose prompt or system contains match.
func (m *MockGenerator) CallsMatching(match string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, req := range m.calls {
		if strings.Contains(req.Prompt+"\n"+req.System, match) {
			n++
		}
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
