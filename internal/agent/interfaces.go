package agent

import "context"

// ModelClass groups models that share one rate budget. Stages pick the
// class; the limiter only ever sees classes, never model names.
type ModelClass string

const (
	ClassPlanning   ModelClass = "planning"
	ClassWriting    ModelClass = "writing"
	ClassExtraction ModelClass = "extraction"
	ClassReview     ModelClass = "review"
	ClassDefault    ModelClass = "default"
)

// Priority orders admission when a class budget is contended. High bypasses
// the per-class admission gate; low and normal admit in arrival order.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// TokenUsage is what a completed generation actually consumed, as reported
// by the provider.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int { return u.InputTokens + u.OutputTokens }

// Request is a single generation call.
type Request struct {
	Prompt      string
	System      string
	Model       string
	Class       ModelClass
	Temperature float64
	MaxTokens   int
	ForceJSON   bool
	Priority    Priority
}

// Result carries the generated text and its measured cost.
type Result struct {
	Text  string
	Usage TokenUsage
}

// Generator is the narrow seam to the text-generation collaborator. The
// orchestration core never reaches past it.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}
