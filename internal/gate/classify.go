package gate

import (
	"path"
	"strings"
)

// Class is the static classification of a URL path.
type Class int

const (
	// Public paths are served whatever the caller identity.
	Public Class = iota
	// Protected paths require an authenticated caller.
	Protected
	// AuthOnly paths (login, registration) are pointless once signed in.
	AuthOnly
)

func (c Class) String() string {
	switch c {
	case Protected:
		return "protected"
	case AuthOnly:
		return "auth_only"
	default:
		return "public"
	}
}

// Classifier partitions the path space. It is a pure function of the path.
type Classifier struct {
	protected []string
	authOnly  []string
}

// NewClassifier creates a classifier from protected and auth-only prefixes.
// A path matching both lists is Protected.
func NewClassifier(protected, authOnly []string) *Classifier {
	return &Classifier{
		protected: normalizePrefixes(protected),
		authOnly:  normalizePrefixes(authOnly),
	}
}

// Classify returns the class of p. Dot segments and repeated slashes are
// resolved before matching.
func (c *Classifier) Classify(p string) Class {
	p = CleanPath(p)
	if matchAny(p, c.protected) {
		return Protected
	}
	if matchAny(p, c.authOnly) {
		return AuthOnly
	}
	return Public
}

// CleanPath returns the canonical form of a URL path: rooted, with dot
// segments and repeated slashes removed. A trailing slash is kept.
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	np := path.Clean(p)
	if p[len(p)-1] == '/' && np != "/" {
		np += "/"
	}
	return np
}

func normalizePrefixes(prefixes []string) []string {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func matchAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if matchPrefix(path, p) {
			return true
		}
	}
	return false
}

// matchPrefix reports whether path lies under prefix on a segment boundary:
// /dashboard matches /dashboard, /dashboard/ and /dashboard/cars but not
// /dashboards. A prefix ending in "/" matches everything below it and the
// bare directory path.
func matchPrefix(path, prefix string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	if strings.HasSuffix(prefix, "/") {
		return strings.HasPrefix(path, prefix) || path == strings.TrimSuffix(prefix, "/")
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
