package llm

import "strings"

// fencePrefixes in match order: longer tags first so "```json" does not
// partially strip a "```jsonata" fence.
var fencePrefixes = []string{"```jsonata", "```json", "```"}

// StripFences removes markdown code fence markers that models wrap
// around expressions and JSON despite instructions not to.
func StripFences(s string) string {
	t := strings.TrimSpace(s)
	for _, prefix := range fencePrefixes {
		if strings.HasPrefix(t, prefix) {
			t = strings.TrimSpace(strings.TrimPrefix(t, prefix))
			break
		}
	}
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

// ExtractJSONObject returns the largest '{...}' span in a response,
// tolerating prose before and after the JSON. The second return is
// false when no object-shaped span exists.
func ExtractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
