// Package llmjson recovers a well-formed JSON object from free-form model
// output. Models frequently wrap JSON in prose or markdown code fences even
// when told not to; callers treat recovery as a required resilience property
// rather than a parsing nicety.
package llmjson

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrMalformedOutput indicates that no syntactically valid JSON object could
// be recovered from the model output.
var ErrMalformedOutput = eris.New("llmjson: no JSON object found in model output")

// Extract recovers a JSON object from text. Strategy:
//
//  1. If the text contains a fenced code block (```json or bare ```), parse
//     the fence interior.
//  2. Otherwise take the substring from the first '{' to the last '}'
//     inclusive and parse that.
//
// Each tier falls through to the next on a syntax failure. Extract performs
// no schema validation; that stays with the caller.
func Extract(text string) (json.RawMessage, error) {
	if inner, ok := fenceInterior(text); ok {
		if raw, ok := validObject(inner); ok {
			return raw, nil
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if raw, ok := validObject(text[start : end+1]); ok {
			return raw, nil
		}
	}

	return nil, ErrMalformedOutput
}

// fenceInterior returns the contents of the first fenced code block, if any.
func fenceInterior(text string) (string, bool) {
	open := strings.Index(text, "```")
	if open < 0 {
		return "", false
	}
	rest := text[open+3:]
	rest = strings.TrimPrefix(rest, "json")
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

func validObject(candidate string) (json.RawMessage, bool) {
	candidate = strings.TrimSpace(candidate)
	if !strings.HasPrefix(candidate, "{") || !json.Valid([]byte(candidate)) {
		return nil, false
	}
	return json.RawMessage(candidate), true
}
