// Package normalize repairs the near-JSON that generation models return into a
// flat field map. It handles the noise models actually produce (code fences,
// reasoning preambles, chatter around the object, a doubled closing brace,
// trailing commas, single-quoted strings) and nothing more.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnrepairable is returned when the response cannot be parsed even after repair.
var ErrUnrepairable = errors.New("unrepairable response")

// Fields is the parsed key/value map of a model response.
type Fields map[string]any

var (
	thinkBlock    = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeFence     = regexp.MustCompile("```(?:json|JSON)?")
	doubledBrace  = regexp.MustCompile(`}\s*}$`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// Normalize extracts the structured object from raw model output.
func Normalize(raw string) (Fields, error) {
	s := thinkBlock.ReplaceAllString(raw, "")
	s = strings.TrimSpace(codeFence.ReplaceAllString(s, ""))

	if start := strings.Index(s, "{"); start != -1 {
		s = s[start:]
	}
	if end := strings.LastIndex(s, "}"); end != -1 {
		s = s[:end+1]
	}

	fields, err := parse(s)
	if err == nil {
		return fields, nil
	}

	// Only collapse when the braces are unbalanced; a nested object legitimately ends in "}}".
	if strings.Count(s, "}") > strings.Count(s, "{") {
		s = doubledBrace.ReplaceAllString(s, "}")
	}
	s = trailingComma.ReplaceAllString(s, "$1")

	if fields, err = parse(s); err == nil {
		return fields, nil
	}
	// Single quotes are rewritten only when the text is not already valid, so
	// apostrophes inside double-quoted values survive.
	if fields, qerr := parse(strings.ReplaceAll(s, "'", `"`)); qerr == nil {
		return fields, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnrepairable, err)
}

func parse(s string) (Fields, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var fields Fields
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after object")
	}
	if fields == nil {
		return nil, errors.New("response is not an object")
	}
	return fields, nil
}

// Encode serializes fields back to compact JSON with sorted keys.
func Encode(f Fields) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(f)); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
