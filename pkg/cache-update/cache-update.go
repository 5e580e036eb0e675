package cacheupdate

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/always-cache/pagecache/rfc9111"
)

var delayDirective = regexp.MustCompile(`(?i)\bdelay=(\d+)`)

// CacheUpdate represents a single `Cache-Update` entry.
type CacheUpdate struct {
	// Request URI (path and query) of the page to refresh, resolved
	// against the request that triggered the update.
	URI string
	// Update delay, i.e. delay update by this duration.
	Delay time.Duration
}

// GetCacheUpdates gets the updates specified by the response to an unsafe request.
// Entries are separated by commas, each entry is `path[; delay=N]`.
func GetCacheUpdates(req *http.Request, res *http.Response) []CacheUpdate {
	if !rfc9111.UnsafeRequest(req) {
		return nil
	}
	updates := make([]CacheUpdate, 0)
	for _, update := range rfc9111.GetListHeader(res.Header, "Cache-Update") {
		u, ok := getURL(req.URL, update)
		if !ok {
			continue
		}
		updates = append(updates, CacheUpdate{URI: u.RequestURI(), Delay: getDelay(update)})
	}
	return updates
}

// getURL returns the URL to update from the header entry.
// The URL is the first parameter in the entry (separated by a semicolon).
// Absolute URLs are only accepted if they point at the same host.
func getURL(base *url.URL, update string) (*url.URL, bool) {
	raw, _, _ := strings.Cut(update, ";")
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (ref.Path == "" && ref.RawQuery == "") {
		return nil, false
	}
	if ref.IsAbs() && base.Host != "" && ref.Host != base.Host {
		return nil, false
	}
	return base.ResolveReference(ref), true
}

// getDelay returns the delay to wait before updating from the entry.
// The delay directive syntax is `delay=N`, where N is the number of seconds to wait.
// If no delay directive is found, it returns 0.
func getDelay(update string) time.Duration {
	if matches := delayDirective.FindStringSubmatch(update); matches != nil {
		if delay, err := strconv.Atoi(matches[1]); err == nil {
			return time.Duration(delay) * time.Second
		}
	}
	return 0
}
