// Package jsonutil extracts JSON values from unstructured LLM output.
//
// Model responses wrap JSON in prose, markdown fences, or ANSI noise.
// Extract tries progressively looser strategies until one yields a value
// that parses.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// maxInputBytes bounds the input we will scan. Larger responses are rejected
// rather than risking pathological scans.
const maxInputBytes = 10 * 1024 * 1024

var (
	reANSI = regexp.MustCompile(`\x1b\[[0-9;]*[mGKHF]`)

	// reJSONFence captures the body of a fence explicitly tagged "json".
	reJSONFence = regexp.MustCompile("(?s)```json[ \\t]*\n(.*?)\n```")

	// reAnyFence captures the body of any code fence, tagged or not.
	reAnyFence = regexp.MustCompile("(?s)```[a-zA-Z]*[ \\t]*\n(.*?)\n```")
)

// Extract returns the first JSON value found in text, trying in order:
//
//  1. a code fence tagged "json"
//  2. any code fence
//  3. the wider of the widest balanced {...} pair and the widest [...] pair
//  4. the whole string
//
// Each candidate must parse as JSON to be accepted. When every strategy
// fails a single diagnostic error is returned.
func Extract(text string) (json.RawMessage, error) {
	cleaned, err := sanitize(text)
	if err != nil {
		return nil, err
	}

	strategies := []func(string) (json.RawMessage, bool){
		fromJSONFence,
		fromAnyFence,
		fromDelimiters,
		fromWholeString,
	}

	for _, strategy := range strategies {
		if raw, ok := strategy(cleaned); ok {
			return raw, nil
		}
	}

	preview := cleaned
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	return nil, fmt.Errorf("jsonutil: no valid JSON found in response (length %d): %q", len(cleaned), preview)
}

// ExtractInto extracts the first JSON value from text and unmarshals it
// into target.
func ExtractInto(text string, target any) error {
	raw, err := Extract(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("jsonutil: unmarshal: %w", err)
	}
	return nil
}

// sanitize strips ANSI escapes and a leading BOM, and enforces the size cap.
func sanitize(text string) (string, error) {
	if len(text) > maxInputBytes {
		return "", fmt.Errorf("jsonutil: input exceeds %d bytes", maxInputBytes)
	}
	text = strings.TrimPrefix(text, "\xef\xbb\xbf")
	text = reANSI.ReplaceAllString(text, "")
	return text, nil
}

func fromJSONFence(text string) (json.RawMessage, bool) {
	return fromFences(reJSONFence, text)
}

func fromAnyFence(text string) (json.RawMessage, bool) {
	return fromFences(reAnyFence, text)
}

func fromFences(re *regexp.Regexp, text string) (json.RawMessage, bool) {
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		inner := strings.TrimSpace(m[1])
		if inner == "" {
			continue
		}
		if json.Valid([]byte(inner)) {
			return json.RawMessage(inner), true
		}
	}
	return nil, false
}

// fromDelimiters finds the widest balanced brace pair and the widest
// balanced bracket pair that parse, and returns the wider of the two; an
// object wins a tie. Widest-first means a JSON value embedded in prose wins
// over any smaller value nested inside it, so an array of objects comes back
// whole rather than as its first element.
func fromDelimiters(text string) (json.RawMessage, bool) {
	obj, okObj := widestBalanced(text, '{')
	arr, okArr := widestBalanced(text, '[')
	if okArr && (!okObj || len(arr) > len(obj)) {
		return arr, true
	}
	return obj, okObj
}

func widestBalanced(text string, open byte) (json.RawMessage, bool) {
	var best json.RawMessage
	for i := 0; i < len(text); i++ {
		if text[i] != open {
			continue
		}
		end := matchingDelimiter(text, i)
		if end < 0 {
			continue
		}
		candidate := text[i : end+1]
		if len(candidate) <= len(best) {
			continue
		}
		if json.Valid([]byte(candidate)) {
			best = json.RawMessage(candidate)
		}
	}
	return best, best != nil
}

func fromWholeString(text string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return nil, false
	}
	return json.RawMessage(trimmed), true
}

// matchingDelimiter returns the index of the delimiter closing the one at
// start, honoring nesting and double-quoted strings (so braces inside string
// values are ignored). Returns -1 when unbalanced.
func matchingDelimiter(text string, start int) int {
	openCh := text[start]
	var closeCh byte
	switch openCh {
	case '{':
		closeCh = '}'
	case '[':
		closeCh = ']'
	default:
		return -1
	}

	depth := 0
	inString := false

	for i := start; i < len(text); i++ {
		ch := text[i]

		if inString {
			switch ch {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case openCh:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return i
			}
		}
	}

	return -1
}
