// Package content coerces extracted model output into the typed course model.
// Every normalizer accepts any value and never panics; missing or malformed
// fields become defaults.
package content

import (
	"strconv"
	"strings"
)

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// field returns the first present key.
func field(m map[string]any, keys ...string) (any, bool) {
	if m == nil {
		return nil, false
	}
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// str returns the first key holding a string or a number.
func str(m map[string]any, keys ...string) string {
	if m == nil {
		return ""
	}
	for _, k := range keys {
		if s := scalarString(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}

// list returns the first key holding an array. A bare array is returned as is.
func list(v any, keys ...string) []any {
	if arr, ok := v.([]any); ok {
		return arr
	}
	m := asMap(v)
	for _, k := range keys {
		if arr, ok := m[k].([]any); ok {
			return arr
		}
	}
	return nil
}

func strList(v any, keys ...string) []string {
	out := []string{}
	for _, item := range list(v, keys...) {
		s := scalarString(item)
		if s == "" {
			s = str(asMap(item), "text", "title", "value", "description")
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func intValue(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		return int(x), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		return i, err == nil
	}
	return 0, false
}

// unwrap descends into a single wrapper object such as {"quiz": {...}}.
func unwrap(v any, keys ...string) any {
	m := asMap(v)
	if m == nil {
		return v
	}
	for _, k := range keys {
		if inner, ok := m[k]; ok {
			if _, isMap := inner.(map[string]any); isMap {
				return inner
			}
		}
	}
	return v
}
