package stream

import "strings"

// SubjectMatches reports whether a concrete subject matches a NATS-style
// pattern. `*` matches exactly one token and `>` matches one or more
// trailing tokens.
func SubjectMatches(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	patternTokens := strings.Split(pattern, ".")
	subjectTokens := strings.Split(subject, ".")

	for i, p := range patternTokens {
		if p == ">" {
			return i < len(subjectTokens)
		}
		if i >= len(subjectTokens) {
			return false
		}
		if p != "*" && p != subjectTokens[i] {
			return false
		}
	}

	return len(patternTokens) == len(subjectTokens)
}
