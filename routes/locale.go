package routes

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// CanonicalLocale validates tag as a BCP 47 language tag and returns its
// canonical form, e.g. "EN" becomes "en" and "pt-br" becomes "pt-BR".
func CanonicalLocale(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", fmt.Errorf("empty locale tag")
	}
	t, err := language.Parse(tag)
	if err != nil {
		return "", fmt.Errorf("invalid locale %q: %w", tag, err)
	}
	return t.String(), nil
}

// WithLocale prefixes path with a locale segment. An empty locale returns
// the path unchanged.
func WithLocale(path, locale string) string {
	if locale == "" {
		return path
	}
	if path == "" || path == "/" {
		return "/" + locale
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "/" + locale + path
}

// StripLocale removes a leading locale segment matching locale. Paths that
// do not start with it are returned unchanged.
func StripLocale(path, locale string) string {
	if locale == "" {
		return path
	}
	prefix := "/" + locale
	switch {
	case strings.EqualFold(path, prefix):
		return "/"
	case len(path) > len(prefix) && strings.EqualFold(path[:len(prefix)], prefix) && path[len(prefix)] == '/':
		return path[len(prefix):]
	}
	return path
}

// firstSegment returns the first path segment without slashes.
func firstSegment(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[:i]
	}
	return trimmed
}
