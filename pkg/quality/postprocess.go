package quality

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/terminology"
)

// PostProcess applies the deterministic auto-corrections in a fixed order
// before evaluation. Every fix is idempotent, so running the processor over
// already-processed output (the pass-2 skip path does this) is a no-op.
// The document is modified in place and returned.
func PostProcess(doc map[string]any, schemaDoc map[string]any) map[string]any {
	truncateSnippets(doc)
	autoCorrectCodes(doc)
	injectCodeSystemDefaults(doc)
	canonicalizeEnums(doc)
	stripDisallowedKeys(doc)
	coerceScalarsToArrays(doc, schemaDoc)
	synthesizeIDs(doc)
	return doc
}

// truncateSnippets cuts over-long provenance snippets at the last sentence
// boundary before the limit, falling back to the last word boundary.
func truncateSnippets(v any) {
	walkObjects(v, func(obj map[string]any) {
		s, ok := obj["textSnippet"].(string)
		if !ok || len(s) <= models.SnippetMaxLen {
			return
		}
		obj["textSnippet"] = truncateAt(s, models.SnippetMaxLen)
	})
}

func truncateAt(s string, limit int) string {
	cut := s[:limit]
	if i := strings.LastIndex(cut, ". "); i >= models.SnippetMinLen {
		return cut[:i+1]
	}
	if i := strings.LastIndexByte(cut, ' '); i >= models.SnippetMinLen {
		return cut[:i]
	}
	// No boundary at all; back the cut off to a rune start so it never
	// splits a multi-byte character.
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// autoCorrectCodes fixes the code when the decode uniquely identifies an
// entry of the governing codelist.
func autoCorrectCodes(doc any) {
	lists, err := terminology.Lists()
	if err != nil {
		return
	}
	root, ok := doc.(map[string]any)
	if !ok {
		return
	}
	for _, pair := range terminology.FindCodePairs(root) {
		if pair.Codelist == "" {
			continue
		}
		list, ok := lists[pair.Codelist]
		if !ok || list.ByCode(pair.Code) != nil {
			continue
		}
		entry := list.ByDecode(pair.Decode)
		if entry == nil {
			continue
		}
		if obj := objectAt(root, pair.Path); obj != nil {
			obj["code"] = entry.Code
			obj["decode"] = entry.Decode
		}
	}
}

const (
	defaultCodeSystem        = "http://www.cdisc.org"
	defaultCodeSystemVersion = "2024-09-27"
)

// injectCodeSystemDefaults fills codeSystem/codeSystemVersion on code objects
// that lack them.
func injectCodeSystemDefaults(v any) {
	walkObjects(v, func(obj map[string]any) {
		if _, hasCode := obj["code"].(string); !hasCode {
			return
		}
		if _, hasDecode := obj["decode"].(string); !hasDecode {
			return
		}
		if s, ok := obj["codeSystem"].(string); !ok || s == "" {
			obj["codeSystem"] = defaultCodeSystem
		}
		if s, ok := obj["codeSystemVersion"].(string); !ok || s == "" {
			obj["codeSystemVersion"] = defaultCodeSystemVersion
		}
	})
}

// lowercaseEnumFields are free-text enums the schemas declare in lowercase.
var lowercaseEnumFields = map[string]bool{
	"confidence": true,
}

// legacyEnumValues maps older model vocabulary onto the canonical values.
var legacyEnumValues = map[string]map[string]string{
	"confidence": {
		"certain":  "high",
		"probable": "medium",
		"possible": "low",
	},
}

func canonicalizeEnums(v any) {
	walkObjects(v, func(obj map[string]any) {
		for key := range lowercaseEnumFields {
			if s, ok := obj[key].(string); ok {
				obj[key] = strings.ToLower(strings.TrimSpace(s))
			}
		}
		for key, mapping := range legacyEnumValues {
			if s, ok := obj[key].(string); ok {
				if canonical, found := mapping[strings.ToLower(s)]; found {
					obj[key] = canonical
				}
			}
		}
	})
}

// codeObjectKeys are the only keys allowed on a code object.
var codeObjectKeys = map[string]bool{
	"id": true, "code": true, "decode": true,
	"codeSystem": true, "codeSystemVersion": true, "instanceType": true,
}

// stripDisallowedKeys removes stray keys the model invented on code objects.
func stripDisallowedKeys(v any) {
	walkObjects(v, func(obj map[string]any) {
		_, hasCode := obj["code"].(string)
		_, hasDecode := obj["decode"].(string)
		if !hasCode || !hasDecode {
			return
		}
		for key := range obj {
			if !codeObjectKeys[key] {
				delete(obj, key)
			}
		}
	})
}

// coerceScalarsToArrays wraps singleton values in arrays where the schema
// declares an array type. Only schema-known properties are touched.
func coerceScalarsToArrays(doc map[string]any, schemaDoc map[string]any) {
	if schemaDoc == nil {
		return
	}
	props, ok := schemaDoc["properties"].(map[string]any)
	if !ok {
		return
	}
	for field, rawSpec := range props {
		spec, ok := rawSpec.(map[string]any)
		if !ok {
			continue
		}
		value, present := doc[field]
		if !present || value == nil {
			continue
		}
		if schemaType(spec) == "array" {
			if _, isArray := value.([]any); !isArray {
				doc[field] = []any{value}
			}
			if items, ok := spec["items"].(map[string]any); ok {
				for _, item := range doc[field].([]any) {
					if m, ok := item.(map[string]any); ok {
						coerceScalarsToArrays(m, items)
					}
				}
			}
			continue
		}
		if child, ok := value.(map[string]any); ok {
			coerceScalarsToArrays(child, spec)
		}
	}
}

func schemaType(spec map[string]any) string {
	switch t := spec["type"].(type) {
	case string:
		return t
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s != "null" {
				return s
			}
		}
	}
	return ""
}

// synthesizeIDs fills empty required ids on typed objects with deterministic
// prefixed counters (SPEC-001, PROC-001, ...). Traversal is key-sorted so the
// numbering is stable across runs.
func synthesizeIDs(v any) {
	counters := map[string]int{}
	synthesizeIn(v, counters)
}

func synthesizeIn(v any, counters map[string]int) {
	switch node := v.(type) {
	case map[string]any:
		instanceType, _ := node["instanceType"].(string)
		if instanceType != "" {
			if id, _ := node["id"].(string); id == "" {
				prefix := idPrefix(instanceType)
				counters[prefix]++
				node["id"] = fmt.Sprintf("%s-%03d", prefix, counters[prefix])
			}
		}
		for _, key := range sortedKeys(node) {
			synthesizeIn(node[key], counters)
		}
	case []any:
		for _, item := range node {
			synthesizeIn(item, counters)
		}
	}
}

func idPrefix(instanceType string) string {
	upper := strings.ToUpper(instanceType)
	if len(upper) > 4 {
		upper = upper[:4]
	}
	return upper
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// walkObjects visits every map in the tree, sorted by key for determinism.
func walkObjects(v any, visit func(obj map[string]any)) {
	switch node := v.(type) {
	case map[string]any:
		visit(node)
		for _, key := range sortedKeys(node) {
			walkObjects(node[key], visit)
		}
	case []any:
		for _, item := range node {
			walkObjects(item, visit)
		}
	}
}

// objectAt resolves a dotted path with [i] indices to the map it names.
func objectAt(root map[string]any, path string) map[string]any {
	if path == "" {
		return root
	}
	var current any = root
	for _, seg := range strings.Split(path, ".") {
		key := seg
		var indices []int
		for {
			open := strings.IndexByte(key, '[')
			if open < 0 {
				break
			}
			closeIdx := strings.IndexByte(key, ']')
			if closeIdx < open {
				return nil
			}
			var idx int
			if _, err := fmt.Sscanf(key[open+1:closeIdx], "%d", &idx); err != nil {
				return nil
			}
			indices = append(indices, idx)
			key = key[:open] + key[closeIdx+1:]
		}

		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = obj[key]
		for _, idx := range indices {
			arr, ok := current.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil
			}
			current = arr[idx]
		}
	}
	obj, _ := current.(map[string]any)
	return obj
}
