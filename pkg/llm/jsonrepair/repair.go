package jsonrepair

import (
	"errors"
	"sort"
	"strings"
)

// maxCutbacks bounds how many structural boundaries Repair backs up over.
const maxCutbacks = 200

var errUnrepairable = errors.New("unrepairable JSON")

// Repair fixes a truncated or sloppy JSON document, re-parsing after each
// step:
//
//  1. StripTrailingCommas
//  2. CloseOpen: close a dangling string, complete a dangling key, append
//     the missing closers
//  3. cut back to each earlier ',' or opener outside strings (latest first)
//     and close again
func Repair(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errUnrepairable
	}

	s = StripTrailingCommas(s)
	if v, err := parse(s); err == nil {
		return v, nil
	}

	if v, err := parse(StripTrailingCommas(CloseOpen(s))); err == nil {
		return v, nil
	}

	cuts := cutPoints(s)
	for i, p := range cuts {
		if i >= maxCutbacks {
			break
		}
		if v, err := parse(StripTrailingCommas(CloseOpen(s[:p]))); err == nil {
			return v, nil
		}
	}
	return nil, errUnrepairable
}

// StripTrailingCommas removes commas that directly precede (ignoring
// whitespace) a closing bracket or brace, or the end of the text.
func StripTrailingCommas(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			sb.WriteByte(c)
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
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j == len(s) || s[j] == '}' || s[j] == ']' {
				continue
			}
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// CloseOpen completes a document cut off mid-structure: an open string is
// terminated (dropping a dangling backslash), a trailing ':' gets a null
// value, a trailing ',' is dropped, and the open containers are closed in
// reverse order of opening.
func CloseOpen(s string) string {
	st := scan(s)
	if st.inString {
		if st.escaped {
			s = s[:len(s)-1]
		}
		s += `"`
	}
	s = strings.TrimRightFunc(s, func(r rune) bool { return r < 128 && isSpace(byte(r)) })
	switch {
	case strings.HasSuffix(s, ":"):
		s += "null"
	case strings.HasSuffix(s, ","):
		s = s[:len(s)-1]
	}

	var sb strings.Builder
	sb.WriteString(s)
	for i := len(st.stack) - 1; i >= 0; i-- {
		if st.stack[i] == '{' {
			sb.WriteByte('}')
		} else {
			sb.WriteByte(']')
		}
	}
	return sb.String()
}

type scanState struct {
	stack    []byte
	inString bool
	escaped  bool
}

func scan(s string) scanState {
	var st scanState
	for i := 0; i < len(s); i++ {
		c := s[i]
		if st.inString {
			switch {
			case st.escaped:
				st.escaped = false
			case c == '\\':
				st.escaped = true
			case c == '"':
				st.inString = false
			}
			continue
		}
		switch c {
		case '"':
			st.inString = true
		case '{', '[':
			st.stack = append(st.stack, c)
		case '}', ']':
			if n := len(st.stack); n > 0 && matches(st.stack[n-1], c) {
				st.stack = st.stack[:n-1]
			}
		}
	}
	return st
}

// cutPoints lists prefix lengths ending just before a ',' or just after an
// opener, outside strings, latest first.
func cutPoints(s string) []int {
	var cuts []int
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
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
		case ',':
			cuts = append(cuts, i)
		case '{', '[':
			cuts = append(cuts, i+1)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(cuts)))
	return cuts
}

func matches(open, closer byte) bool {
	return open == '{' && closer == '}' || open == '[' && closer == ']'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
