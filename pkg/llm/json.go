package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// thinkBlockPattern matches a leading <think>...</think> block that local
// reasoning models prepend to their output.
var thinkBlockPattern = regexp.MustCompile(`(?s)^\s*<think>.*?</think>\s*`)

// StripThinking removes a leading chain-of-thought block from a completion.
func StripThinking(response string) string {
	return thinkBlockPattern.ReplaceAllString(response, "")
}

// ExtractJSON pulls the first valid JSON object or array out of a completion
// that may be wrapped in thinking blocks, markdown fences, or prose.
// Returns a parse-class error when no valid JSON is present.
func ExtractJSON(response string) (string, error) {
	cleaned := StripThinking(response)

	objStart := strings.IndexByte(cleaned, '{')
	arrStart := strings.IndexByte(cleaned, '[')

	if objStart >= 0 && (arrStart < 0 || objStart < arrStart) {
		if candidate, ok := balancedSpan(cleaned, '{', '}'); ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}
	if arrStart >= 0 {
		if candidate, ok := balancedSpan(cleaned, '[', ']'); ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	trimmed := strings.TrimSpace(cleaned)
	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}

	return "", NewError(ErrorTypeParse, "no valid JSON found in completion", false, nil)
}

// balancedSpan returns the first balanced bracket span starting at open,
// tracking string literals and escapes so braces inside strings don't count.
func balancedSpan(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	return "", false
}
