// Package jsonrepair turns raw model output into a parsed JSON value.
//
// Models wrap JSON in markdown fences, prefix it with prose, and stop at a
// token limit in the middle of a structure. Extract tries, in order:
//
//  1. direct parse of the full text
//  2. StripFence: the contents of a ``` or ```json block (an unclosed
//     fence runs to the end of the text)
//  3. TrimProse: drop anything before the first '{' or '['
//  4. direct parse, then the first complete value followed by junk
//  5. Repair: trailing commas, dangling string, missing closers, and
//     finally cutting back to earlier structural boundaries
//  6. provider envelopes (candidates[0].content.parts[*].text,
//     choices[0].message.content): recurse on the inner text
//
// and fails with *ExtractionError when nothing works.
package jsonrepair

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const maxEnvelopeDepth = 3

// ErrEmpty is wrapped by ExtractionError when the input holds no JSON at all.
var ErrEmpty = errors.New("no JSON content")

// ExtractionError reports that every strategy failed. Raw is kept for diagnostics.
type ExtractionError struct {
	Raw string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("json extraction failed (%d bytes): %v", len(e.Raw), e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extract returns the best-effort parsed value of raw.
// Valid JSON is returned exactly as encoding/json decodes it.
func Extract(raw string) (any, error) {
	return extract(raw, 0)
}

// ExtractInto extracts raw and decodes the result into target.
func ExtractInto(raw string, target any) error {
	v, err := Extract(raw)
	if err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return &ExtractionError{Raw: raw, Err: err}
	}
	if err := json.Unmarshal(b, target); err != nil {
		return &ExtractionError{Raw: raw, Err: err}
	}
	return nil
}

func extract(raw string, depth int) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &ExtractionError{Raw: raw, Err: ErrEmpty}
	}

	v, err := parse(raw)
	if err == nil {
		return v, nil
	}

	candidate := TrimProse(StripFence(raw))
	if candidate == "" {
		return nil, &ExtractionError{Raw: raw, Err: ErrEmpty}
	}
	if v, err = parse(candidate); err == nil {
		return v, nil
	}
	if v, ok := decodeLeading(candidate); ok {
		return v, nil
	}

	if v, rerr := Repair(candidate); rerr == nil {
		if inner, ok := envelopeText(v); ok && depth < maxEnvelopeDepth {
			if iv, ierr := extract(inner, depth+1); ierr == nil {
				return iv, nil
			}
		}
		return v, nil
	}

	if depth < maxEnvelopeDepth && strings.Contains(raw, `"candidates"`) {
		if inner, ok := scanFirstText(raw); ok {
			if iv, ierr := extract(inner, depth+1); ierr == nil {
				return iv, nil
			}
		}
	}

	return nil, &ExtractionError{Raw: raw, Err: err}
}

func parse(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// decodeLeading decodes the first complete value and ignores what follows
// ("{...} Hope this helps!").
func decodeLeading(s string) (any, bool) {
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return nil, false
	}
	var v any
	if err := json.NewDecoder(strings.NewReader(s)).Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// StripFence returns the contents of the first fenced code block, or the
// trimmed text if there is none. A missing closing fence keeps the rest.
func StripFence(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return strings.TrimSpace(s)
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && isFenceTag(rest[:nl]) {
		rest = rest[nl+1:]
	} else if strings.HasPrefix(rest, "json") {
		rest = rest[len("json"):]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func isFenceTag(s string) bool {
	s = strings.TrimSpace(s)
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

// TrimProse drops leading text before the first object or array.
func TrimProse(s string) string {
	i := strings.IndexAny(s, "{[")
	if i <= 0 {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(s[i:])
}

// envelopeText returns the generated text inside a provider response body.
func envelopeText(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	if cands, ok := m["candidates"].([]any); ok && len(cands) > 0 {
		c0, _ := cands[0].(map[string]any)
		content, _ := c0["content"].(map[string]any)
		parts, _ := content["parts"].([]any)
		var sb strings.Builder
		for _, p := range parts {
			pm, _ := p.(map[string]any)
			if t, ok := pm["text"].(string); ok {
				sb.WriteString(t)
			}
		}
		if sb.Len() > 0 {
			return sb.String(), true
		}
	}
	if choices, ok := m["choices"].([]any); ok && len(choices) > 0 {
		c0, _ := choices[0].(map[string]any)
		msg, _ := c0["message"].(map[string]any)
		if t, ok := msg["content"].(string); ok && t != "" {
			return t, true
		}
	}
	return "", false
}

// scanFirstText pulls the first "text" string literal out of an envelope
// too broken to repair. An unterminated literal is closed.
func scanFirstText(raw string) (string, bool) {
	i := strings.Index(raw, `"text"`)
	if i < 0 {
		return "", false
	}
	rest := strings.TrimLeft(raw[i+len(`"text"`):], " \t\r\n")
	if !strings.HasPrefix(rest, ":") {
		return "", false
	}
	rest = strings.TrimLeft(rest[1:], " \t\r\n")
	if !strings.HasPrefix(rest, `"`) {
		return "", false
	}

	end := -1
	escaped := false
	for j := 1; j < len(rest); j++ {
		c := rest[j]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			end = j
		}
		if end >= 0 {
			break
		}
	}
	lit := rest
	if end >= 0 {
		lit = rest[:end+1]
	} else {
		if escaped {
			lit = lit[:len(lit)-1]
		}
		lit += `"`
	}

	var s string
	if err := json.Unmarshal([]byte(lit), &s); err != nil {
		return "", false
	}
	return s, s != ""
}
