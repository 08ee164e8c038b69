package sseagent

import "sort"

// constructMessageBody builds the JSON body for a prompt POST. When
// provider/modelID are both set, the originally-reported model id is
// passed through untouched rather than normalized, since backends are
// strict about recognizing their own ids.
func constructMessageBody(message, provider, modelID string) map[string]any {
	body := map[string]any{
		"parts": []map[string]any{
			{"type": "text", "text": message},
		},
	}
	if provider != "" && modelID != "" {
		body["model"] = map[string]any{
			"providerID": provider,
			"modelID":    modelID,
		}
	}
	return body
}

// findErrorMessage recursively searches a decoded JSON value for a
// human-readable error string, preferring the "message", "error", "data",
// then "name" keys before falling back to scanning whatever fields remain,
// in key order.
func findErrorMessage(val any) (string, bool) {
	if s, ok := val.(string); ok {
		return s, true
	}

	if obj, ok := val.(map[string]any); ok {
		for _, key := range []string{"message", "error", "data", "name"} {
			if child, ok := obj[key]; ok {
				if found, ok := findErrorMessage(child); ok {
					return found, true
				}
			}
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == "message" || k == "error" || k == "data" {
				continue
			}
			if found, ok := findErrorMessage(obj[k]); ok {
				return found, true
			}
		}
		return "", false
	}

	if arr, ok := val.([]any); ok {
		for _, child := range arr {
			if found, ok := findErrorMessage(child); ok {
				return found, true
			}
		}
	}

	return "", false
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asArray(v any) []any {
	a, _ := v.([]any)
	return a
}

// firstNonEmpty returns the first non-empty string among candidates.
func firstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}

// pathString walks a chain of map keys, returning the string at the end of
// the chain or "" if any hop is missing or not a string.
func pathString(root map[string]any, keys ...string) string {
	cur := any(root)
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[k]
	}
	s, _ := cur.(string)
	return s
}
