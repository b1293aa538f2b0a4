package approval

import "strings"

// matchGlobPattern matches a slash-separated path against a glob pattern
// where ** spans any number of segments.
func matchGlobPattern(path, pattern string) bool {
	return matchParts(strings.Split(path, "/"), strings.Split(pattern, "/"))
}

func matchParts(path, pattern []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}
	head, rest := pattern[0], pattern[1:]
	if head == "**" {
		if len(rest) == 0 {
			return true
		}
		for i := 0; i <= len(path); i++ {
			if matchParts(path[i:], rest) {
				return true
			}
		}
		return false
	}
	if len(path) == 0 || !matchSegment(path[0], head) {
		return false
	}
	return matchParts(path[1:], rest)
}

func matchSegment(segment, pattern string) bool {
	switch {
	case pattern == "*", pattern == segment:
		return true
	case strings.Contains(pattern, "*"):
		return matchWildcard(segment, pattern)
	}
	return false
}

// matchWildcard matches one segment against a pattern containing *.
func matchWildcard(s, pattern string) bool {
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}
	return strings.HasSuffix(s, last)
}
