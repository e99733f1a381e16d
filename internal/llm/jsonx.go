package llm

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractJSON pulls the JSON document out of a model reply. It tolerates
// ```json fences and prose before or after the payload. The second return
// value is false when no valid JSON could be found.
func ExtractJSON(text string) (string, bool) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}
	if gjson.Valid(s) && (strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")) {
		return s, true
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return "", false
	}
	candidate := s[start : end+1]
	if !gjson.Valid(candidate) {
		return "", false
	}
	return candidate, true
}

// hasKeys reports whether every path exists in the JSON document.
func hasKeys(doc string, paths ...string) bool {
	for _, p := range paths {
		if !gjson.Get(doc, p).Exists() {
			return false
		}
	}
	return true
}
