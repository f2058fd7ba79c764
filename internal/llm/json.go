package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// DecodeJSON decodes a JSON payload from an LLM response into target,
// tolerating markdown code fences and leading prose around the object.
func DecodeJSON(text string, target any) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return errors.New("empty response")
	}

	if err := json.Unmarshal([]byte(trimmed), target); err == nil {
		return nil
	}

	sanitized := sanitizePayload(trimmed)
	if sanitized == "" {
		return errors.New("no JSON payload in response")
	}
	return json.Unmarshal([]byte(sanitized), target)
}

// ParseJSONResponse parses an LLM response into a generic map, returning
// nil when no JSON object can be recovered.
func ParseJSONResponse(text string) map[string]any {
	var result map[string]any
	if err := DecodeJSON(text, &result); err != nil {
		return nil
	}
	return result
}

// sanitizePayload strips code fences and extracts the outermost JSON
// object or array from surrounding prose.
func sanitizePayload(text string) string {
	text = stripCodeFence(text)
	if text == "" {
		return ""
	}
	if text[0] == '{' || text[0] == '[' {
		return text
	}
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			return strings.TrimSpace(text[start : end+1])
		}
	}
	if start := strings.Index(text, "["); start >= 0 {
		if end := strings.LastIndex(text, "]"); end > start {
			return strings.TrimSpace(text[start : end+1])
		}
	}
	return ""
}

func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}
