// Package template implements ${var} placeholder extraction and substitution
// for message templates.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

// Placeholder delimiters as they appear in raw template content
const (
	PlaceholderPrefix = "${"
	PlaceholderSuffix = "}"
)

var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)}`)

// Variables returns the distinct placeholder identifiers found in content, in
// sorted order. Identifiers are opaque strings matched case-sensitively.
func Variables(content string) []string {
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(content, -1) {
		seen[m[1]] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Replace substitutes every ${key} whose key appears in values. Placeholders
// without a matching key are left verbatim; there is no default substitution.
func Replace(content string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(content, func(match string) string {
		key := match[len(PlaceholderPrefix) : len(match)-len(PlaceholderSuffix)]
		if v, ok := values[key]; ok {
			return v
		}
		return match
	})
}

// ParseValues decodes a single JSON object of placeholder values into a
// string map. Non-string values are stringified the way they would print.
func ParseValues(raw string) (map[string]string, error) {
	if raw == "" {
		return map[string]string{}, nil
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("parse placeholder values: %w", err)
	}
	values := make(map[string]string, len(decoded))
	for k, v := range decoded {
		switch s := v.(type) {
		case string:
			values[k] = s
		case float64:
			// keep integers free of a trailing .0
			if s == float64(int64(s)) {
				values[k] = fmt.Sprintf("%d", int64(s))
			} else {
				values[k] = fmt.Sprintf("%v", s)
			}
		default:
			values[k] = fmt.Sprintf("%v", v)
		}
	}
	return values, nil
}
