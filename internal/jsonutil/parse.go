// Package jsonutil extracts and decodes JSON from model responses that may
// be wrapped in markdown code fences or preceded by commentary.
package jsonutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a response contains no well-formed JSON block.
var ErrNoJSON = errors.New("no JSON content found")

// StripMarkdownFences removes ```json ... ``` or ``` ... ``` wrapping from text.
// Returns the content between the fences, or the trimmed text if there are none.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}

	end := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	return strings.Join(lines[1:end], "\n")
}

// FirstBlock returns the first balanced JSON object or array in text that is
// also valid JSON. Candidates that balance but fail validation are skipped,
// so a stray "{see below}" in leading commentary does not mask the payload.
func FirstBlock(text string) (string, error) {
	for start := 0; start < len(text); start++ {
		c := text[start]
		if c != '{' && c != '[' {
			continue
		}
		end := matchClose(text, start)
		if end < 0 {
			continue
		}
		candidate := text[start : end+1]
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}
	return "", ErrNoJSON
}

// matchClose returns the index of the bracket closing the one at start,
// honoring string literals and escapes, or -1 if it never closes.
func matchClose(text string, start int) int {
	var stack []byte
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

// ParseJSON strips fences from a raw model response, extracts the first JSON
// block, and unmarshals it into T.
func ParseJSON[T any](raw string) (T, error) {
	var zero T

	block, err := FirstBlock(StripMarkdownFences(raw))
	if err != nil {
		return zero, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}

	var result T
	if err := json.Unmarshal([]byte(block), &result); err != nil {
		preview := block
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return zero, fmt.Errorf("invalid JSON: %w (text: %s)", err, preview)
	}
	return result, nil
}
