package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractObject locates the first '{' through the last '}' in raw model
// output and returns that substring. Model output is not a trusted
// grammar, so this is a guarded parsing boundary: failure to find an
// object is a validation error, never a panic.
func extractObject(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("pipeline: no JSON object in model output")
	}
	return raw[start : end+1], nil
}

// decodeObject extracts and strictly parses one JSON object from raw
// into v, returning the exact source substring that parsed.
func decodeObject(raw string, v any) (string, error) {
	obj, err := extractObject(raw)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return "", fmt.Errorf("pipeline: malformed JSON in model output: %w", err)
	}
	return obj, nil
}
