package interpret

import (
	"strings"
)

// Document accessors. The shared document starts as the merged table payload
// (visits / activities / instances / footnotes) and accumulates structures
// as stages run. All helpers tolerate missing or mistyped sections.

func objects(doc map[string]any, key string) []map[string]any {
	arr, _ := doc[key].([]any)
	out := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

func setObjects(doc map[string]any, key string, items []map[string]any) {
	arr := make([]any, len(items))
	for i, obj := range items {
		arr[i] = obj
	}
	doc[key] = arr
}

func str(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func strList(obj map[string]any, key string) []string {
	arr, _ := obj[key].([]any)
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func num(obj map[string]any, key string) (float64, bool) {
	switch v := obj[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// markReview flags an object for human review. Stage 10 collects every
// flagged item into the review package.
func markReview(obj map[string]any, reason string) {
	obj["_review"] = true
	obj["_reviewReason"] = reason
}

func isMarkedReview(obj map[string]any) bool {
	b, _ := obj["_review"].(bool)
	return b
}

func normalizeTerm(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// cloneObject deep-copies a JSON-shaped object so expansions never alias
// their source.
func cloneObject(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch node := v.(type) {
	case map[string]any:
		return cloneObject(node)
	case []any:
		out := make([]any, len(node))
		for i, item := range node {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
