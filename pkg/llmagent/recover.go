package llmagent

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSONFound is returned by ExtractJSON when none of the recovery
// strategies locate a plausible JSON payload.
var ErrNoJSONFound = errors.New("no JSON payload found in LLM output")

// ExtractJSON recovers a JSON payload from raw LLM text using, in order:
//  1. the text as-is, if it already parses;
//  2. the contents of a fenced code block (```json ... ``` or ``` ... ```);
//  3. text after a "json:" (or "JSON:") prefix;
//  4. the first balanced {...} or [...] substring.
//
// It returns the extracted (but not yet decoded) JSON text.
func ExtractJSON(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrNoJSONFound
	}

	if isParseable(trimmed) {
		return trimmed, nil
	}

	if fenced, ok := extractFenced(trimmed); ok && isParseable(fenced) {
		return fenced, nil
	}

	if prefixed, ok := extractPrefixed(trimmed); ok && isParseable(prefixed) {
		return prefixed, nil
	}

	if balanced, ok := extractBalanced(trimmed); ok {
		return balanced, nil
	}

	return "", ErrNoJSONFound
}

// Decode extracts and unmarshals a JSON payload from raw LLM text into out.
func Decode(raw string, out any) error {
	payload, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(payload), out)
}

func isParseable(s string) bool {
	return json.Valid([]byte(s))
}

// extractFenced pulls the body out of the first Markdown fenced code block,
// tolerating an optional language tag on the opening fence (```json).
func extractFenced(s string) (string, bool) {
	const fence = "```"
	start := strings.Index(s, fence)
	if start == -1 {
		return "", false
	}
	afterOpen := start + len(fence)
	// Skip an optional language tag up to the first newline.
	if nl := strings.IndexByte(s[afterOpen:], '\n'); nl != -1 {
		tag := strings.TrimSpace(s[afterOpen : afterOpen+nl])
		if tag != "" && !strings.ContainsAny(tag, "{}[]\"") {
			afterOpen += nl + 1
		}
	}
	end := strings.Index(s[afterOpen:], fence)
	if end == -1 {
		return "", false
	}
	body := strings.TrimSpace(s[afterOpen : afterOpen+end])
	return body, body != ""
}

// extractPrefixed strips a leading "json:" or "JSON:" label some models
// emit before an otherwise-valid payload.
func extractPrefixed(s string) (string, bool) {
	lower := strings.ToLower(s)
	const label = "json:"
	idx := strings.Index(lower, label)
	if idx == -1 {
		return "", false
	}
	rest := strings.TrimSpace(s[idx+len(label):])
	return rest, rest != ""
}

// extractBalanced scans for the first top-level balanced {...} or [...]
// substring, respecting string literals and escapes so braces inside JSON
// string values don't throw off the bracket count.
func extractBalanced(s string) (string, bool) {
	openers := map[byte]byte{'{': '}', '[': ']'}
	for i := 0; i < len(s); i++ {
		closer, ok := openers[s[i]]
		if !ok {
			continue
		}
		if end, ok := scanBalanced(s, i, s[i], closer); ok {
			candidate := s[i : end+1]
			if isParseable(candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}

// scanBalanced returns the index of the matching closer for the opener at
// start, or (0, false) if the brackets never balance before the string ends.
func scanBalanced(s string, start int, opener, closer byte) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// inside a string literal, brackets don't count
		case c == opener:
			depth++
		case c == closer:
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
