// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package llm

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// RawResponse is the extractor's view of a provider answer. Structured-output
// support is not uniformly reliable across providers and models: a provider
// may honor the tool schema (ToolInput), echo JSON inside prose (Text), or
// wrap the payload in an envelope (Data).
type RawResponse struct {
	ToolName  string
	ToolInput json.RawMessage
	Text      string
	Data      json.RawMessage
}

// ExtractionError reports that no strategy produced a value. It is always
// returned as a value, never panicked, and the target is left untouched.
type ExtractionError struct {
	Attempted []string
	Received  string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed after strategies [%s]; received %s",
		strings.Join(e.Attempted, ", "), e.Received)
}

// extractStrategy is one (predicate, decoder) pair in the chain.
type extractStrategy struct {
	name    string
	applies func(*RawResponse) bool
	decode  func(*RawResponse, any) error
}

// extractStrategies is evaluated in order; the first decoder to succeed wins.
// Keeping the chain as data makes the fallback order inspectable and lets
// each strategy be tested in isolation.
var extractStrategies = []extractStrategy{
	{
		name:    "tool_input",
		applies: func(r *RawResponse) bool { return len(r.ToolInput) > 0 },
		decode: func(r *RawResponse, target any) error {
			return decodeInto(r.ToolInput, target)
		},
	},
	{
		name:    "text_json_span",
		applies: func(r *RawResponse) bool { return strings.Contains(r.Text, "{") },
		decode: func(r *RawResponse, target any) error {
			span, ok := jsonSpan(r.Text)
			if !ok {
				return fmt.Errorf("no parseable JSON object in text")
			}
			return decodeInto(span, target)
		},
	},
	{
		name:    "data_field",
		applies: func(r *RawResponse) bool { return len(r.Data) > 0 },
		decode: func(r *RawResponse, target any) error {
			return decodeInto(r.Data, target)
		},
	},
	{
		name: "raw_text",
		applies: func(r *RawResponse) bool {
			return strings.TrimSpace(r.Text) != ""
		},
		decode: func(r *RawResponse, target any) error {
			return decodeInto([]byte(strings.TrimSpace(r.Text)), target)
		},
	},
}

// Extract coerces a raw provider response into target, which must be a
// non-nil pointer. The strategy chain is tried in order; if every strategy
// fails and the payload is effectively empty, slice and map targets are set
// to their canonical empty collection ("no items" is a legitimate tool-call
// outcome and must be distinguishable from a parse error).
func Extract(resp *RawResponse, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return &ExtractionError{Received: "non-pointer extraction target"}
	}
	if resp == nil {
		resp = &RawResponse{}
	}

	var attempted []string
	for _, s := range extractStrategies {
		if !s.applies(resp) {
			continue
		}
		attempted = append(attempted, s.name)
		if err := s.decode(resp, target); err == nil {
			return nil
		}
	}

	if isEmptyPayload(resp) && setEmptyCollection(rv) {
		return nil
	}

	return &ExtractionError{
		Attempted: attempted,
		Received:  describeShape(resp),
	}
}

// decodeInto unmarshals raw into a fresh value and copies it over only on
// success, so a failed strategy never leaves target half-populated.
func decodeInto(raw []byte, target any) error {
	rv := reflect.ValueOf(target)
	tmp := reflect.New(rv.Type().Elem())
	if err := json.Unmarshal(raw, tmp.Interface()); err != nil {
		return err
	}
	rv.Elem().Set(tmp.Elem())
	return nil
}

// jsonSpan locates a JSON object inside free text. The greedy span from the
// first '{' to the last '}' is tried first; when the text contains several
// objects ("{...} and more {...}") that span is not valid JSON, so a second
// pass returns the first balanced top-level object instead.
func jsonSpan(text string) ([]byte, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, false
	}

	greedy := []byte(text[start : end+1])
	if json.Valid(greedy) {
		return greedy, true
	}

	return firstBalancedObject(text[start:])
}

// firstBalancedObject scans from the leading '{' counting brace depth,
// skipping braces inside JSON strings and escape sequences.
func firstBalancedObject(s string) ([]byte, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				candidate := []byte(s[:i+1])
				if json.Valid(candidate) {
					return candidate, true
				}
				return nil, false
			}
		}
	}
	return nil, false
}

// isEmptyPayload reports whether the response carries nothing decodable at
// all: no tool input, no data envelope, and text without JSON content.
func isEmptyPayload(r *RawResponse) bool {
	if len(r.ToolInput) > 0 || len(r.Data) > 0 {
		blank := func(raw json.RawMessage) bool {
			t := strings.TrimSpace(string(raw))
			return t == "" || t == "null" || t == "{}" || t == "[]"
		}
		return blank(r.ToolInput) && blank(r.Data) && !strings.Contains(r.Text, "{")
	}
	return !strings.Contains(r.Text, "{") && !strings.Contains(r.Text, "[")
}

// setEmptyCollection assigns a canonical empty slice or map to the target
// when its element type is a collection. Returns false for other targets.
func setEmptyCollection(rv reflect.Value) bool {
	elem := rv.Elem()
	switch elem.Kind() {
	case reflect.Slice:
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return true
	case reflect.Map:
		elem.Set(reflect.MakeMap(elem.Type()))
		return true
	default:
		return false
	}
}

func describeShape(r *RawResponse) string {
	var parts []string
	if len(r.ToolInput) > 0 {
		parts = append(parts, fmt.Sprintf("tool input (%d bytes)", len(r.ToolInput)))
	}
	if r.Text != "" {
		parts = append(parts, fmt.Sprintf("text (%d chars)", len(r.Text)))
	}
	if len(r.Data) > 0 {
		parts = append(parts, fmt.Sprintf("data field (%d bytes)", len(r.Data)))
	}
	if len(parts) == 0 {
		return "empty response"
	}
	return strings.Join(parts, ", ")
}
