package payload

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// Markers the extractor prompt asks the model to wrap its JSON in.
const (
	StartMarker = "<<<JSON_START>>>"
	EndMarker   = "<<<JSON_END>>>"
)

// ErrNoJSON is returned by Parse when no JSON object could be recovered.
var ErrNoJSON = errors.New("no JSON object in response")

var (
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	fencedBlock   = regexp.MustCompile("```(?:json|JSON)?\\s*([\\s\\S]*?)```")
)

// ExtractJSON recovers a JSON object from free-form model output. It tries
// the marker-delimited fragment, then fenced code blocks, then the span
// from the first { to the last }. Each attempt also retries with trailing
// commas removed. It returns nil when nothing parses to an object.
func ExtractJSON(text string) map[string]any {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil
	}

	if i := strings.Index(s, StartMarker); i >= 0 {
		rest := s[i+len(StartMarker):]
		if j := strings.Index(rest, EndMarker); j >= 0 {
			if obj := parseRelaxed(rest[:j]); obj != nil {
				return obj
			}
		}
	}

	for _, m := range fencedBlock.FindAllStringSubmatch(s, -1) {
		block := strings.TrimSpace(m[1])
		variants := []string{block}
		lines := strings.Split(block, "\n")
		if len(lines) >= 2 {
			variants = append(variants, strings.TrimSpace(strings.Join(lines[1:], "\n")))
		}
		if len(lines) >= 3 {
			variants = append(variants, strings.TrimSpace(strings.Join(lines[2:], "\n")))
		}
		for _, v := range variants {
			if obj := parseRelaxed(v); obj != nil {
				return obj
			}
			if obj := parseRelaxed(outerBraces(v)); obj != nil {
				return obj
			}
		}
	}

	return parseRelaxed(outerBraces(s))
}

func outerBraces(s string) string {
	i, j := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if i < 0 || j <= i {
		return ""
	}
	return s[i : j+1]
}

func parseRelaxed(src string) map[string]any {
	if strings.TrimSpace(src) == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(src), &obj); err == nil && obj != nil {
		return obj
	}
	obj = nil
	if err := json.Unmarshal([]byte(trailingComma.ReplaceAllString(src, "$1")), &obj); err == nil && obj != nil {
		return obj
	}
	return nil
}

// Parse recovers and validates a payload from model output. The returned
// notes list what validation dropped or coerced.
func Parse(text string) (*Payload, []string, error) {
	obj := ExtractJSON(text)
	if obj == nil {
		return nil, nil, ErrNoJSON
	}
	p, notes := Decode(obj)
	return p, notes, nil
}
