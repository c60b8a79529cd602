package utils

import (
	"crypto/md5"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	nonWord       = regexp.MustCompile(`[^\w\s]`)
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// NormalizeText lower-cases s, collapses whitespace and drops punctuation.
// It is the canonical form used for cache keys and duplicate signatures.
func NormalizeText(s string) string {
	t := strings.ToLower(s)
	t = whitespaceRun.ReplaceAllString(t, " ")
	t = nonWord.ReplaceAllString(t, "")
	return strings.TrimSpace(t)
}

// CollapseSpaces replaces every whitespace run with a single space.
func CollapseSpaces(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// Truncate cuts s to at most n runes, appending an ellipsis when something was removed.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
