package completion

import (
	"strings"
)

const fence = "```"

// Cleanup removes the markdown wrapping some models put around JSON answers:
// a leading ``` or ```json marker, a trailing ```, stray backticks at the
// edges and surrounding whitespace. Only the edges are touched.
//
// Cleanup is idempotent: Cleanup(Cleanup(s)) == Cleanup(s).
func Cleanup(s string) string {
	for {
		next := cleanupPass(s)
		if next == s {
			return next
		}
		s = next
	}
}

// cleanupPass never makes the string longer, so Cleanup terminates.
func cleanupPass(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, fence) {
		s = s[len(fence):]
		// Drop a language tag ("json", "JSON") that sits alone on the fence line.
		i := 0
		for i < len(s) && isTagByte(s[i]) {
			i++
		}
		if i == len(s) || s[i] == '\n' || s[i] == '\r' {
			s = s[i:]
		}
	}
	s = strings.TrimSuffix(s, fence)
	s = strings.Trim(s, "`")

	return strings.TrimSpace(s)
}

func isTagByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '-' || b == '_'
}

// ExtractJSONObject returns the outermost {...} span of s, for answers where
// the model wrapped the object in prose. ok is false if no span exists.
func ExtractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
