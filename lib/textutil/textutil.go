package textutil

import "strings"

// NormalizeName folds case and drops every whitespace character, so
// "Van Der Berg" and "vanderberg" compare equal.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), ""))
}

// ContainsAll reports whether `s` contains each of `substrs`, an empty
// list never matches.
func ContainsAll(s string, substrs []string, fold bool) bool {
	if len(substrs) == 0 {
		return false
	}
	if fold {
		s = strings.ToLower(s)
	}
	for _, sub := range substrs {
		if fold {
			sub = strings.ToLower(sub)
		}
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

var unsafeFilename = strings.NewReplacer("/", "-", "\\", "-", "\x00", "")

// SafeFilename makes `s` usable as a single path element.
func SafeFilename(s string) string {
	return strings.Join(strings.Fields(unsafeFilename.Replace(s)), " ")
}
