package extract

import (
	"encoding/json"
	"strconv"
	"strings"
)

// jsonLDObjects decodes every ld+json block leniently and flattens arrays
// and @graph containers into a list of objects.
func jsonLDObjects(blocks []string) []map[string]any {
	var objs []map[string]any
	var flatten func(v any)
	flatten = func(v any) {
		switch x := v.(type) {
		case []any:
			for _, it := range x {
				flatten(it)
			}
		case map[string]any:
			if g, ok := x["@graph"].([]any); ok {
				for _, it := range g {
					flatten(it)
				}
				return
			}
			objs = append(objs, x)
		}
	}
	for _, b := range blocks {
		txt := strings.TrimSpace(b)
		var data any
		if err := json.Unmarshal([]byte(txt), &data); err != nil {
			i, j := strings.Index(txt, "{"), strings.LastIndex(txt, "}")
			if i < 0 || j <= i {
				continue
			}
			if err := json.Unmarshal([]byte(txt[i:j+1]), &data); err != nil {
				continue
			}
		}
		flatten(data)
	}
	return objs
}

func hasType(obj map[string]any, want string) bool {
	switch t := obj["@type"].(type) {
	case string:
		return t == want
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

// stringField returns obj[key] as trimmed text for string and number values.
func stringField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// peopleNames collects names from a person-ish field that may be a string,
// an object or a list of either.
func peopleNames(v any) []string {
	var items []any
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		items = x
	default:
		items = []any{x}
	}
	var out []string
	for _, it := range items {
		var nm string
		switch y := it.(type) {
		case map[string]any:
			nm = stringField(y, "name")
			if nm == "" {
				nm = stringField(y, "title")
			}
		case string:
			nm = strings.TrimSpace(y)
		}
		if nm != "" {
			out = append(out, nm)
		}
	}
	return out
}
