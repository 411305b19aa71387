package authsvc

import (
	"net/http"
	"strconv"
	"strings"
)

// MaxChunkSize keeps each cookie under common per-cookie browser limits.
const MaxChunkSize = 3180

func chunkName(name string, i int) string {
	return name + "." + strconv.Itoa(i)
}

// ReadChunked returns the value stored under name, reassembling name.0,
// name.1, ... when the value was split. It returns "" when nothing is stored.
func ReadChunked(cookies []*http.Cookie, name string) string {
	values := make(map[string]string, len(cookies))
	for _, c := range cookies {
		values[c.Name] = c.Value
	}
	if v, ok := values[name]; ok {
		return v
	}

	var sb strings.Builder
	for i := 0; ; i++ {
		v, ok := values[chunkName(name, i)]
		if !ok {
			break
		}
		sb.WriteString(v)
	}
	return sb.String()
}

// chunkNames lists the cookie names on the request that belong to name.
func chunkNames(cookies []*http.Cookie, name string) []string {
	var names []string
	for _, c := range cookies {
		if c.Name == name {
			names = append(names, c.Name)
			continue
		}
		if rest, ok := strings.CutPrefix(c.Name, name+"."); ok {
			if _, err := strconv.Atoi(rest); err == nil {
				names = append(names, c.Name)
			}
		}
	}
	return names
}

// WriteChunked stores value under name, splitting it when it exceeds
// MaxChunkSize, and deletes any stale chunk present on the request.
func WriteChunked(cookies []*http.Cookie, name, value string, opts CookieOptions) Mutations {
	var chunks []string
	for len(value) > MaxChunkSize {
		chunks = append(chunks, value[:MaxChunkSize])
		value = value[MaxChunkSize:]
	}
	chunks = append(chunks, value)

	keep := make(map[string]bool, len(chunks))
	var muts Mutations
	if len(chunks) == 1 {
		keep[name] = true
		muts = append(muts, SetCookie(name, chunks[0], opts))
	} else {
		for i, chunk := range chunks {
			n := chunkName(name, i)
			keep[n] = true
			muts = append(muts, SetCookie(n, chunk, opts))
		}
	}

	for _, n := range chunkNames(cookies, name) {
		if !keep[n] {
			muts = append(muts, DeleteCookie(n, opts))
		}
	}
	return muts
}

// ClearChunked deletes every cookie on the request that belongs to name.
func ClearChunked(cookies []*http.Cookie, name string, opts CookieOptions) Mutations {
	var muts Mutations
	for _, n := range chunkNames(cookies, name) {
		muts = append(muts, DeleteCookie(n, opts))
	}
	return muts
}
