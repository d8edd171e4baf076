package domain

import (
	"html"
	"regexp"
	"strings"
)

var badChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]`)

// SanitizeFileName turns a page title or header value into a safe file name.
func SanitizeFileName(subject string) string {
	res := html.UnescapeString(subject)

	// Windows/Linux/macOS safety
	res = badChars.ReplaceAllString(res, "_")
	res = strings.Trim(strings.TrimSpace(res), ".")

	return strings.TrimSpace(res)
}
