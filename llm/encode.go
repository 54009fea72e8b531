package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	errorskg "github.com/sweetpotato0/crag/errors"
)

// DecodeJSON unmarshals raw model output into T after stripping code fences
// and any prose around the outermost JSON object.
func DecodeJSON[T any](raw string) (*T, error) {
	clean := SanitizeJSON(raw)
	if clean == "" {
		return nil, errorskg.New(errorskg.KindParsing, "decode", "empty model output")
	}
	var out T
	if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return nil, errorskg.Wrap(errorskg.KindParsing, "decode", fmt.Errorf("decode JSON: %w", err))
	}
	return &out, nil
}

// SanitizeJSON strips markdown fences and leading/trailing chatter.
func SanitizeJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = trimmed[3:]
		trimmed = strings.TrimPrefix(trimmed, "json")
		trimmed = strings.TrimPrefix(trimmed, "JSON")
		if idx := strings.Index(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return trimmed
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}
	return trimmed
}

// Clamp01 bounds a model-reported score to [0,1].
func Clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
