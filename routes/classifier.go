package routes

import (
	"path"
	"strings"
)

// Class tells whether a logical path needs a session.
type Class int

const (
	Protected Class = iota
	Public
)

func (c Class) String() string {
	if c == Public {
		return "public"
	}
	return "protected"
}

// Policy is the route table: public paths, ordered role zones and role
// home pages. It is immutable once built and safe for concurrent use.
type Policy struct {
	locales        []string
	publicExact    map[string]struct{}
	publicPrefixes []string
	authPages      map[string]struct{}
	zones          []Zone
	homes          map[string]string
	loginPath      string
	forbidden      string
	defaultHome    string
	roles          []RoleSpec
}

// Resolution is the result of classifying a request path.
type Resolution struct {
	Locale  string
	Logical string
	Class   Class
}

// Resolve splits off the locale and classifies the logical path.
func (p *Policy) Resolve(rawPath string) Resolution {
	locale, logical := p.ResolveLocale(rawPath)
	return Resolution{
		Locale:  locale,
		Logical: logical,
		Class:   p.Classify(logical),
	}
}

// ResolveLocale treats the first path segment as an optional locale. It
// returns the configured locale spelling and the cleaned logical path.
func (p *Policy) ResolveLocale(rawPath string) (string, string) {
	cleaned := cleanPath(rawPath)
	segment := firstSegment(cleaned)
	if segment == "" {
		return "", cleaned
	}
	for _, locale := range p.locales {
		if strings.EqualFold(segment, locale) {
			return locale, StripLocale(cleaned, segment)
		}
	}
	return "", cleaned
}

// Classify reports whether logical is public. Anything not listed is
// protected.
func (p *Policy) Classify(logical string) Class {
	logical = cleanPath(logical)
	if _, ok := p.publicExact[logical]; ok {
		return Public
	}
	for _, prefix := range p.publicPrefixes {
		if matchPrefix(logical, prefix) {
			return Public
		}
	}
	return Protected
}

// IsAuthPage reports whether logical is a sign in style page that a signed
// in user should be bounced away from.
func (p *Policy) IsAuthPage(logical string) bool {
	_, ok := p.authPages[cleanPath(logical)]
	return ok
}

// Authorize finds the first zone whose prefix matches logical. When no zone
// matches, any authenticated role is allowed and matched is false.
func (p *Policy) Authorize(logical, role string) (zone Zone, matched bool, allowed bool) {
	logical = cleanPath(logical)
	for _, z := range p.zones {
		if matchPrefix(logical, z.Prefix) {
			return z, true, z.Allows(role)
		}
	}
	return Zone{}, false, strings.TrimSpace(role) != ""
}

// HomeFor returns the landing page for role.
func (p *Policy) HomeFor(role string) string {
	if home, ok := p.homes[strings.ToLower(strings.TrimSpace(role))]; ok {
		return home
	}
	return p.defaultHome
}

// Zones returns a copy of the ordered zone table.
func (p *Policy) Zones() []Zone {
	out := make([]Zone, len(p.zones))
	copy(out, p.zones)
	return out
}

// Locales returns the configured locale tags.
func (p *Policy) Locales() []string {
	return append([]string(nil), p.locales...)
}

// Roles returns the role entries of the policy file.
func (p *Policy) Roles() []RoleSpec {
	return append([]RoleSpec(nil), p.roles...)
}

// LoginPath is the logical login page.
func (p *Policy) LoginPath() string { return p.loginPath }

// ForbiddenPath is the logical page shown on a role denial.
func (p *Policy) ForbiddenPath() string { return p.forbidden }

// DefaultHome is the landing page for roles without a home entry.
func (p *Policy) DefaultHome() string { return p.defaultHome }

// cleanPath normalizes dot segments and duplicate slashes so "/a/../admin"
// is classified as "/admin".
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// matchPrefix is segment aware: "/admin" matches "/admin" and
// "/admin/users" but not "/administrator".
func matchPrefix(p, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}
