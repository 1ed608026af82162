// Package pathutil provides dotted-path value access and {{path}}
// template expansion shared by the Condition Evaluator, Action
// Executor, and Temporal Matcher — anywhere a binding context's nested
// map[string]any needs addressing by a flat string key.
package pathutil

import (
	"fmt"
	"strconv"
	"strings"
)

// Get resolves a dotted path ("event.orderId", "data.items.0.sku")
// against root. Numeric segments index into a []any. Returns
// (nil, false) if any segment along the path is missing or the wrong
// shape — this is the "absent" outcome the condition evaluator treats
// specially, not an error.
func Get(root any, path string) (any, bool) {
	if path == "" {
		return root, true
	}
	cur := root
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Expand replaces every {{path}} occurrence in s with the stringified
// value Get resolves against root. A path that resolves to absent is
// left as an empty string. Whitespace inside the braces is trimmed
// ("{{ event.orderId }}" is accepted).
func Expand(s string, root any) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			b.WriteString(rest)
			break
		}
		end += start
		b.WriteString(rest[:start])
		path := strings.TrimSpace(rest[start+2 : end])
		if v, ok := Get(root, path); ok {
			b.WriteString(Stringify(v))
		}
		rest = rest[end+2:]
	}
	return b.String()
}

// Stringify renders v for template substitution: strings pass through
// unquoted, numbers/bools use their natural representation, and
// composite values fall back to fmt's default formatting.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
