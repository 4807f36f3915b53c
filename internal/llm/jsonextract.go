package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when no tier could decode a payload.
var ErrNoJSON = errors.New("no JSON payload found")

var (
	fenceRe  = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	arrayRe  = regexp.MustCompile(`(?s)\[.*\]`)
	objectRe = regexp.MustCompile(`(?s)\{.*\}`)
)

// ExtractJSONArray decodes a JSON array from free text. It tries, in order:
// the whole text, the contents of each fenced code block, and the span from
// the first '[' to the last ']'. If every tier fails it returns an empty slice.
func ExtractJSONArray[T any](text string) []T {
	var out []T
	if err := decodeTiered(text, arrayRe, &out); err != nil {
		return []T{}
	}
	if out == nil {
		return []T{}
	}
	return out
}

// DecodeObject decodes a JSON object from text with the same tiers as
// ExtractJSONArray, bracketing on '{' and '}' instead.
func DecodeObject(text string, v any) error {
	return decodeTiered(text, objectRe, v)
}

func decodeTiered(text string, span *regexp.Regexp, v any) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrNoJSON
	}
	if json.Unmarshal([]byte(text), v) == nil {
		return nil
	}
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		if json.Unmarshal([]byte(strings.TrimSpace(m[1])), v) == nil {
			return nil
		}
	}
	if m := span.FindString(text); m != "" {
		if json.Unmarshal([]byte(m), v) == nil {
			return nil
		}
	}
	return ErrNoJSON
}
