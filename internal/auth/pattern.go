// ABOUTME: Subject pattern matching with single-segment and trailing multi-segment wildcards
// ABOUTME: Also provides the namespace-prefix test used when validating token permissions

package auth

import "strings"

// MatchSubject reports whether subject matches pattern.
//
// A pattern ending in ".>" matches any subject that shares its prefix up to and
// including the final dot. A pattern containing "*" tokens matches subjects with
// the same number of segments where each "*" matches exactly one segment and
// every other segment matches literally. Any other pattern requires equality.
func MatchSubject(subject, pattern string) bool {
	if strings.HasSuffix(pattern, ".>") {
		return strings.HasPrefix(subject, pattern[:len(pattern)-1])
	}

	if strings.Contains(pattern, "*") {
		pp := strings.Split(pattern, ".")
		sp := strings.Split(subject, ".")
		if len(pp) != len(sp) {
			return false
		}
		for i := range pp {
			if pp[i] != "*" && pp[i] != sp[i] {
				return false
			}
		}
		return true
	}

	return subject == pattern
}

// MatchAny reports whether subject matches at least one pattern.
func MatchAny(subject string, patterns []string) bool {
	for _, p := range patterns {
		if MatchSubject(subject, p) {
			return true
		}
	}
	return false
}

// InNamespace reports whether subject equals namespace, starts with
// "{namespace}.", or equals "{namespace}.>".
func InNamespace(subject, namespace string) bool {
	if namespace == "" {
		return false
	}
	return subject == namespace ||
		strings.HasPrefix(subject, namespace+".") ||
		subject == namespace+".>"
}
