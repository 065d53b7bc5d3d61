// Package jsonutil decodes JSON out of model responses, which routinely
// arrive wrapped in markdown fences or prose.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeStrict decodes a response that must already be bare, well-formed
// JSON for the target schema. Unknown fields are rejected so schema drift
// surfaces instead of silently dropping data.
func DecodeStrict(response string, target any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(response)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("strict decode: %w", err)
	}
	return nil
}

// Clean strips markdown code fences and surrounding prose, keeping the
// outermost JSON object boundaries.
func Clean(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		response = response[start : end+1]
	}
	return strings.TrimSpace(response)
}

// DecodeLenient cleans the response first and decodes without the
// unknown-field restriction. This is the fallback when strict decoding of
// the raw response fails.
func DecodeLenient(response string, target any) error {
	cleaned := Clean(response)
	if cleaned == "" {
		return fmt.Errorf("lenient decode: no JSON object found")
	}
	if err := json.Unmarshal([]byte(cleaned), target); err != nil {
		return fmt.Errorf("lenient decode: %w", err)
	}
	return nil
}

// Decode tries strict first, then lenient.
func Decode(response string, target any) error {
	if err := DecodeStrict(response, target); err == nil {
		return nil
	}
	return DecodeLenient(response, target)
}
