package auth

import (
	"net/url"
	"strings"
)

// RedirectParam is the query parameter carrying the post login destination.
const RedirectParam = "redirect"

// SafeRedirect returns target when it is a same origin path and false
// otherwise. Absolute URLs, protocol relative URLs, scheme prefixes such as
// javascript: and backslash or control character tricks are all rejected.
func SafeRedirect(target string) (string, bool) {
	if target == "" || len(target) > 2048 {
		return "", false
	}

	if target[0] != '/' {
		return "", false
	}

	// "//host" and "/\host" are treated as network paths by browsers
	if len(target) > 1 && (target[1] == '/' || target[1] == '\\') {
		return "", false
	}

	for _, r := range target {
		if r < 0x20 || r == 0x7f || r == '\\' {
			return "", false
		}
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", false
	}

	if u.Scheme != "" || u.Host != "" || u.User != nil || u.Opaque != "" {
		return "", false
	}

	if !strings.HasPrefix(u.Path, "/") {
		return "", false
	}

	return target, true
}

// RedirectOrDefault returns target when safe and fallback otherwise.
func RedirectOrDefault(target, fallback string) string {
	if safe, ok := SafeRedirect(target); ok {
		return safe
	}
	return fallback
}

// loginURL builds the login location carrying the original destination.
func loginURL(loginPath, destination string) string {
	if destination == "" {
		return loginPath
	}
	if _, ok := SafeRedirect(destination); !ok {
		return loginPath
	}
	q := url.Values{}
	q.Set(RedirectParam, destination)
	return loginPath + "?" + q.Encode()
}
