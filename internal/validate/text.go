package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Common identifier patterns
var (
	// NamePattern matches extension names, theme names and component ids
	NamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

	// GovernorPattern matches CPU governor names
	GovernorPattern = regexp.MustCompile(`^[a-z]{1,32}$`)

	filenamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// MaxFilenameLength bounds Filename input
const MaxFilenameLength = 255

// Identifier returns value unchanged when pattern matches all of it
func Identifier(value string, pattern *regexp.Regexp) (string, error) {
	if pattern == nil {
		return "", newError(InvalidFormat, value, "no pattern")
	}
	loc := pattern.FindStringIndex(value)
	if loc == nil || loc[0] != 0 || loc[1] != len(value) {
		return "", newError(InvalidFormat, value, fmt.Sprintf("does not match %s", pattern.String()))
	}
	return value, nil
}

// SanitizeText removes NUL and non-printable control characters, keeping
// tab and newline. Invalid UTF-8 sequences are dropped. The result must fit
// in maxBytes.
func SanitizeText(value string, maxBytes int) (string, error) {
	value = strings.ToValidUTF8(value, "")

	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if r == '\t' || r == '\n' {
			b.WriteRune(r)
			continue
		}
		if r == 0 || unicode.IsControl(r) || (!unicode.IsPrint(r) && !unicode.IsSpace(r)) {
			continue
		}
		b.WriteRune(r)
	}

	out := b.String()
	if maxBytes >= 0 && len(out) > maxBytes {
		return "", newError(TooLarge, truncate(value, 32), fmt.Sprintf("%d bytes exceeds limit of %d", len(out), maxBytes))
	}
	return out, nil
}

// Filename accepts a single path component made of letters, digits, dot,
// dash and underscore.
func Filename(name string) (string, error) {
	if len(name) > MaxFilenameLength {
		return "", newError(TooLarge, truncate(name, 32), "filename too long")
	}
	if name == "." || name == ".." || strings.Contains(name, "..") {
		return "", newError(PathTraversal, name, "filename contains '..'")
	}
	if !filenamePattern.MatchString(name) {
		return "", newError(InvalidFormat, name, "filename contains unsafe characters")
	}
	return name, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
