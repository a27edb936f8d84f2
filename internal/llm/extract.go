package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON returns the JSON payload embedded in an assistant reply. Models
// answer with a fenced code block, a bare JSON body, or JSON surrounded by
// prose; all three are accepted.
func ExtractJSON(text string) ([]byte, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("empty response, expected JSON")
	}

	if fenced, found := extractFencedBlock(trimmed); found {
		candidate := []byte(strings.TrimSpace(fenced))
		if json.Valid(candidate) {
			return candidate, nil
		}
	}

	if json.Valid([]byte(trimmed)) {
		return []byte(trimmed), nil
	}

	if embedded, found := extractEmbeddedBody(trimmed); found {
		return embedded, nil
	}

	return nil, fmt.Errorf("no JSON body found in response: %s", truncateForLog(trimmed, 240))
}

// extractFencedBlock returns the content of the first ``` fence, tolerating a
// language tag on the opening line.
func extractFencedBlock(text string) (string, bool) {
	opening := strings.Index(text, "```")
	if opening < 0 {
		return "", false
	}
	rest := text[opening+3:]
	if newline := strings.IndexByte(rest, '\n'); newline >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		tag := strings.TrimSpace(rest[:newline])
		if tag == "" || len(tag) <= 10 && !strings.ContainsAny(tag, "{}[]") {
			rest = rest[newline+1:]
		}
	}
	closing := strings.Index(rest, "```")
	if closing < 0 {
		return rest, true
	}
	return rest[:closing], true
}

// extractEmbeddedBody slices the outermost object or array out of prose.
func extractEmbeddedBody(text string) ([]byte, bool) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return nil, false
	}
	var closingByte byte
	if text[start] == '{' {
		closingByte = '}'
	} else {
		closingByte = ']'
	}
	end := strings.LastIndexByte(text, closingByte)
	for end > start {
		candidate := []byte(text[start : end+1])
		if json.Valid(candidate) {
			return candidate, true
		}
		end = strings.LastIndexByte(text[:end], closingByte)
	}
	return nil, false
}
