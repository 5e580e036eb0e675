package cachekey

import (
	"fmt"
	"net/http"
	"strings"
)

var ErrorMethodNotSupported = fmt.Errorf("Method not supported")

const (
	originSeparator = ":"
	methodSeparator = ":"
	extraSeparator  = "\t"
)

// CacheKeyer derives page cache keys from requests and requests from keys.
//
// A key has the form `<origin>:<method>:<request uri>\t<Cache-Key header>`.
// HEAD requests share the key of the GET for the same URI.
type CacheKeyer struct {
	// Unique identifier for the origin.
	// Usually this should be the origin URL.
	OriginId string
	// Cache key prefix for this origin
	OriginPrefix string
}

func NewCacheKeyer(originId string) CacheKeyer {
	return CacheKeyer{
		OriginId:     originId,
		OriginPrefix: originId + originSeparator,
	}
}

// MethodPrefix gets the key prefix for the origin with the given method.
// E.g. prefix for all GET requests in the cache.
func (c CacheKeyer) MethodPrefix(method string) string {
	return c.OriginPrefix + method + methodSeparator
}

// Key returns the cache key for a request.
// If the request has a `Cache-Key` header, that value is included in the key,
// which lets a request modifier split one URI into several cached pages.
func (c CacheKeyer) Key(r *http.Request) string {
	method := r.Method
	if method == http.MethodHead {
		method = http.MethodGet
	}
	key := c.MethodPrefix(method) + r.URL.RequestURI() + extraSeparator
	if ck := r.Header.Get("Cache-Key"); ck != "" {
		key += ck
	}
	return key
}

// KeyForPath returns the key of a GET request for the given path (and query).
func (c CacheKeyer) KeyForPath(uri string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, uri, nil)
	if err != nil {
		return "", err
	}
	return c.Key(req), nil
}

// GetRequestFromKey generates a request that results in the provided key
// when passed to Key. Only GET keys of this origin can be turned into requests.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	if !strings.HasPrefix(key, c.OriginPrefix) {
		return nil, fmt.Errorf("Key and origin do not match")
	}
	keyNoOrigin := strings.TrimPrefix(key, c.OriginPrefix)
	keyNoExtra, extra, found := strings.Cut(keyNoOrigin, extraSeparator)
	if !found {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	method, uri, found := strings.Cut(keyNoExtra, methodSeparator)
	if !found {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	if method != http.MethodGet {
		return nil, ErrorMethodNotSupported
	}
	req, err := http.NewRequest(method, uri, nil)
	if err != nil {
		return req, err
	}
	if extra != "" {
		req.Header.Set("Cache-Key", extra)
	}
	return req, nil
}
