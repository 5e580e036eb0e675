package rfc9111

import "net/http"

// §  3.  Storing Responses in Caches
//
// MustNotStore tells whether a shared cache must not store the response.
// Freshness is set by the page cache itself, so unlike a plain HTTP cache we do
// not require an explicit expiration time (max-age, Expires) on the response.
func MustNotStore(req *http.Request, res *http.Response) bool {
	cc := ParseCacheControl(res.Header.Values("Cache-Control"))
	// §    A cache MUST NOT store a response to a request unless:
	// §      *  the request method is understood by the cache;
	if !requestMethodIsUnderstood(req.Method) {
		return true
	}
	// §  *  the response status code is final (see Section 15 of [HTTP]);
	// only complete successful pages are kept
	if res.StatusCode != http.StatusOK {
		return true
	}
	// §  *  the no-store cache directive is not present in the response (see
	// §     Section 5.2.2.5);
	if cc.HasDirective("no-store") {
		return true
	}
	// §  *  if the cache is shared: the private response directive is either
	// §     not present or allows a shared cache to store a modified response;
	if cc.HasDirective("private") {
		return true
	}
	// §  *  if the cache is shared: the Authorization header field is not
	// §     present in the request (see Section 11.6.2 of [HTTP]) or a
	// §     response directive is present that explicitly allows shared
	// §     caching (see Section 3.5); and
	if req.Header.Get("Authorization") != "" && !mayUseResponseForAuthenticatedRequest(cc) {
		return true
	}
	return false
}

// §  3.5.  Storing Responses to Authenticated Requests
// §
// §     [...] the following response directives have such an
// §     effect: must-revalidate (Section 5.2.2.2), public (Section 5.2.2.9),
// §     and s-maxage (Section 5.2.2.10).
func mayUseResponseForAuthenticatedRequest(cc CacheControl) bool {
	return cc.HasDirective("public") || cc.HasDirective("s-maxage") || cc.HasDirective("must-revalidate")
}

func requestMethodIsUnderstood(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead:
		return true
	}
	return false
}

// §  3.1.  Storing Header and Trailer Fields
//
// StorableHeader returns a copy of header without the fields that must not be stored.
func StorableHeader(header http.Header) http.Header {
	if header == nil {
		return make(http.Header)
	}
	h := header.Clone()
	// §     *  The Connection header field and fields whose names are listed in
	// §        it are required by Section 7.6.1 of [HTTP] to be removed before
	// §        forwarding the message.  This MAY be implemented by doing so
	// §        before storage.
	for _, name := range GetListHeader(header, "Connection") {
		h.Del(name)
	}
	h.Del("Connection")
	h.Del("Proxy-Connection")
	h.Del("Keep-Alive")
	h.Del("TE")
	h.Del("Transfer-Encoding")
	h.Del("Upgrade")
	// §        Effectively, this is limited to Proxy-Authenticate (Section 11.7.1
	// §        of [HTTP]), Proxy-Authentication-Info (Section 11.7.3 of [HTTP]),
	// §        and Proxy-Authorization (Section 11.7.2 of [HTTP]).
	h.Del("Proxy-Authenticate")
	h.Del("Proxy-Authentication-Info")
	h.Del("Proxy-Authorization")
	// cookies are per client, a shared page must not hand them out
	h.Del("Set-Cookie")
	return h
}
