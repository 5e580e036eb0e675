package rfc9111

import (
	"net/http"
	"strings"
)

// §  5.2.  Cache-Control
// §
// §  The "Cache-Control" header field is used to list directives for caches along
// §  the request/response chain.
// §
// §    Cache-Control   = #cache-directive
// §
// §    cache-directive = token [ "=" ( token / quoted-string ) ]

type CacheControl struct {
	directives map[string]string
}

func (c CacheControl) Get(directive string) (string, bool) {
	val, ok := c.directives[directive]
	return val, ok
}

func (c CacheControl) HasDirective(directive string) bool {
	_, ok := c.Get(directive)
	return ok
}

// ParseCacheControl takes Cache-Control headers as a slice of strings
// and returns an instance of `CacheControl`.
func ParseCacheControl(headers []string) CacheControl {
	m := make(map[string]string)
	// note setting map values like this means last defined directive wins
	for _, header := range headers {
		// "#" means comma-separated list
		for _, directive := range strings.Split(header, ",") {
			directive = strings.TrimSpace(directive)
			if directive == "" {
				continue
			}
			name, arg, _ := strings.Cut(directive, "=")
			// §  [...] to be compared case-insensitively [...]
			// §  [...] argument that can use both token and quoted-string syntax. [...]
			m[strings.ToLower(strings.TrimSpace(name))] = strings.Trim(strings.TrimSpace(arg), "\"")
		}
	}
	return CacheControl{m}
}

// GetListHeader returns the elements of a comma-separated list header field.
func GetListHeader(header http.Header, field string) []string {
	list := make([]string, 0)
	for _, hdr := range header.Values(field) {
		for _, val := range strings.Split(hdr, ",") {
			if val = strings.TrimSpace(val); val != "" {
				list = append(list, val)
			}
		}
	}
	return list
}
