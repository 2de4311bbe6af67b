package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

type field struct {
	key   string
	value any
}

// ArgumentsToMarkdown renders a tool's final JSON arguments as markdown.
// Text that is not a JSON object is returned unchanged.
func ArgumentsToMarkdown(raw string) string {
	fields, ok := decodeObject(raw)
	if !ok {
		return raw
	}
	return fieldsToMarkdown(fields)
}

func fieldsToMarkdown(fields []field) string {
	var lines []string
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		if arr, ok := f.value.([]any); ok && len(arr) == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("**%s:**\n%s\n", titleCase(f.key), formatField(f.value)))
	}
	return strings.Join(lines, "\n")
}

func formatField(v any) string {
	if arr, ok := v.([]any); ok {
		items := make([]string, len(arr))
		for i, item := range arr {
			items[i] = "  - " + scalarString(item)
		}
		return strings.Join(items, "\n")
	}
	return scalarString(v)
}

func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case map[string]any, []any:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// titleCase turns snake_case and camelCase keys into a spaced heading with an
// upper-case first letter ("study_title" -> "Study title", "studyTitle" -> "Study Title").
func titleCase(key string) string {
	var sb strings.Builder
	for _, r := range key {
		switch {
		case r == '_':
			sb.WriteRune(' ')
		case unicode.IsUpper(r):
			sb.WriteRune(' ')
			sb.WriteRune(r)
		default:
			sb.WriteRune(r)
		}
	}
	out := []rune(sb.String())
	if len(out) > 0 {
		out[0] = unicode.ToUpper(out[0])
	}
	return string(out)
}

// decodeObject parses a JSON object keeping its key order.
func decodeObject(raw string) ([]field, bool) {
	dec := json.NewDecoder(bytes.NewReader([]byte(strings.TrimSpace(raw))))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, false
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, false
	}
	var fields []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		key, ok := tok.(string)
		if !ok {
			return nil, false
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, false
		}
		fields = append(fields, field{key: key, value: v})
	}
	if _, err := dec.Token(); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return fields, true
}
