package authsvc

import (
	"net/http"
	"strings"
)

// Mutations is an ordered list of Set-Cookie instructions requested by the
// auth service. A cookie with MaxAge < 0 deletes the cookie.
type Mutations []*http.Cookie

// CookieOptions are the attributes applied to every cookie an adapter writes.
type CookieOptions struct {
	Path     string
	Domain   string
	MaxAge   int
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
}

// SetCookie builds a cookie that stores value under name.
func SetCookie(name, value string, opts CookieOptions) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     opts.Path,
		Domain:   opts.Domain,
		MaxAge:   opts.MaxAge,
		Secure:   opts.Secure,
		HttpOnly: opts.HTTPOnly,
		SameSite: opts.SameSite,
	}
}

// DeleteCookie builds a cookie that removes name from the browser.
func DeleteCookie(name string, opts CookieOptions) *http.Cookie {
	c := SetCookie(name, "", opts)
	c.MaxAge = -1
	return c
}

// Merge returns m followed by other, keeping only the last instruction for
// each (name, path) pair. Order of the surviving instructions is preserved.
func (m Mutations) Merge(other Mutations) Mutations {
	all := make(Mutations, 0, len(m)+len(other))
	all = append(all, m...)
	all = append(all, other...)

	last := make(map[string]int, len(all))
	for i, c := range all {
		last[cookieKey(c)] = i
	}

	out := make(Mutations, 0, len(last))
	for i, c := range all {
		if last[cookieKey(c)] == i {
			out = append(out, c)
		}
	}
	return out
}

// Apply writes every mutation to the response headers. It must be called
// before the status line is written.
func (m Mutations) Apply(w http.ResponseWriter) {
	for _, c := range m {
		http.SetCookie(w, c)
	}
}

// ApplyToRequest rewrites the Cookie header of r so handlers further down
// the chain observe the cookies as the browser will send them next time.
func (m Mutations) ApplyToRequest(r *http.Request) {
	if len(m) == 0 {
		return
	}

	current := r.Cookies()
	index := make(map[string]int, len(current))
	for i, c := range current {
		index[c.Name] = i
	}

	deleted := make(map[string]bool)
	for _, c := range m {
		if c.MaxAge < 0 {
			deleted[c.Name] = true
			continue
		}
		delete(deleted, c.Name)
		if i, ok := index[c.Name]; ok {
			current[i] = &http.Cookie{Name: c.Name, Value: c.Value}
			continue
		}
		index[c.Name] = len(current)
		current = append(current, &http.Cookie{Name: c.Name, Value: c.Value})
	}

	parts := make([]string, 0, len(current))
	for _, c := range current {
		if deleted[c.Name] {
			continue
		}
		parts = append(parts, (&http.Cookie{Name: c.Name, Value: c.Value}).String())
	}

	if len(parts) == 0 {
		r.Header.Del("Cookie")
		return
	}
	r.Header.Set("Cookie", strings.Join(parts, "; "))
}

// Names returns the cookie names touched by m, for logging.
func (m Mutations) Names() []string {
	names := make([]string, 0, len(m))
	for _, c := range m {
		names = append(names, c.Name)
	}
	return names
}

func cookieKey(c *http.Cookie) string {
	return c.Name + "\x00" + c.Path
}
