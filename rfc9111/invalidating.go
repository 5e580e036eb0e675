package rfc9111

import (
	"net/http"
	"net/url"
)

// §  4.4.  Invalidating Stored Responses
// §
// §     Because unsafe request methods (Section 9.2.1 of [HTTP]) such as PUT,
// §     POST, or DELETE have the potential for changing state on the origin
// §     server, intervening caches are required to invalidate stored
// §     responses to keep their contents up to date.

// UnsafeRequest tells whether the request method is not known to be safe.
func UnsafeRequest(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}

// GetInvalidateURIs returns the request URIs (path and query) that must or may
// be invalidated after the response to req.
//
// §     A cache MUST invalidate the target URI (Section 7.1 of [HTTP]) when
// §     it receives a non-error status code in response to an unsafe request
// §     method (including methods whose safety is unknown).
// §
// §     A cache MAY invalidate other URIs [...] In particular, the URI(s) in
// §     the Location and Content-Location response header fields (if present)
// §     are candidates for invalidation [...] However, a cache MUST NOT trigger
// §     an invalidation under these conditions if the origin [...] of the URI
// §     to be invalidated differs from that of the target URI.
// §
// §     A "non-error response" is one with a 2xx (Successful) or 3xx
// §     (Redirection) status code.
func GetInvalidateURIs(req *http.Request, res *http.Response) []string {
	if !UnsafeRequest(req) || res.StatusCode < 200 || res.StatusCode >= 400 {
		return nil
	}
	uris := []string{req.URL.RequestURI()}
	for _, field := range []string{"Location", "Content-Location"} {
		value := res.Header.Get(field)
		if value == "" {
			continue
		}
		loc, err := url.Parse(value)
		if err != nil {
			continue
		}
		if loc.IsAbs() && loc.Host != req.Host {
			continue
		}
		resolved := req.URL.ResolveReference(loc)
		uris = append(uris, resolved.RequestURI())
	}
	return uris
}
