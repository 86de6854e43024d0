package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON indicates the model response contained nothing parseable.
var ErrNoJSON = errors.New("no JSON object found in response")

// ExtractJSON pulls a JSON document out of a model response. Models sometimes
// wrap output in markdown fences or prepend commentary even when asked for
// pure JSON, so parsing is tolerant: first the whole trimmed text, then the
// fenced block, then the outermost balanced object.
func ExtractJSON(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrNoJSON
	}

	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}

	if fenced := stripFence(trimmed); fenced != "" && json.Valid([]byte(fenced)) {
		return json.RawMessage(fenced), nil
	}

	if obj := outermostObject(trimmed); obj != "" && json.Valid([]byte(obj)) {
		return json.RawMessage(obj), nil
	}

	return nil, fmt.Errorf("%w (response length %d)", ErrNoJSON, len(text))
}

// ParseObject extracts and unmarshals a JSON object into a generic map.
func ParseObject(text string) (map[string]any, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	return out, nil
}

// ParseInto extracts a JSON document and unmarshals it into dst.
func ParseInto(text string, dst any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("response did not match expected shape: %w", err)
	}
	return nil
}

// stripFence removes a ```json ... ``` (or plain ```) wrapper.
func stripFence(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return ""
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the language tag line (e.g. "json").
		rest = rest[nl+1:]
	}
	end := strings.LastIndex(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

// outermostObject returns the first balanced {...} span, respecting strings
// and escapes. Arrays are handled the same way with brackets.
func outermostObject(s string) string {
	open := strings.IndexAny(s, "{[")
	if open < 0 {
		return ""
	}
	openCh := s[open]
	closeCh := byte('}')
	if openCh == '[' {
		closeCh = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == openCh:
			depth++
		case c == closeCh:
			depth--
			if depth == 0 {
				return s[open : i+1]
			}
		}
	}
	return ""
}
