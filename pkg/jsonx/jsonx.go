// Package jsonx extracts structured JSON from free-form LLM output.
//
// Model responses rarely arrive as clean JSON: they come wrapped in prose,
// fenced code blocks, or both. ExtractJSON tries progressively looser
// strategies and always returns a map, never an error, so callers can treat
// "no JSON found" as an empty result instead of a failure.
package jsonx

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"
)

var fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON pulls the first JSON object out of text.
//
// It attempts, in order: the whole text as JSON, the first fenced code block,
// and the greedy brace-delimited substring from the first '{' to the last
// '}'. If nothing parses, it returns an empty (non-nil) map.
func ExtractJSON(text string) map[string]any {
	trimmed := strings.TrimSpace(text)

	if result, ok := tryParse(trimmed); ok {
		return result
	}

	if match := fencedBlockPattern.FindStringSubmatch(text); match != nil {
		if result, ok := tryParse(match[1]); ok {
			return result
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if result, ok := tryParse(text[start : end+1]); ok {
			return result
		}
	}

	return map[string]any{}
}

func tryParse(candidate string) (map[string]any, bool) {
	if candidate == "" || candidate[0] != '{' {
		return nil, false
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(candidate), &result); err != nil {
		return nil, false
	}
	if result == nil {
		return nil, false
	}
	return result, true
}

// DecodeInto maps a parsed JSON object onto a tagged struct.
//
// Field names follow the struct's json tags. Numeric coercion is lax
// (JSON numbers arrive as float64 and are narrowed to integer fields),
// matching the tolerance of the agents' own output contract; structural
// mismatches, such as an object where a list is required, still fail.
func DecodeInto(data map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(data)
}
