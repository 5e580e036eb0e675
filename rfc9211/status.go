// Package rfc9211 builds the Cache-Status response header field.
package rfc9211

import (
	"strconv"
	"strings"
)

// HeaderName is the response header field the status is reported in.
const HeaderName = "Cache-Status"

// Identifier names this cache in the Cache-Status list.
const Identifier = "PageCache"

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdUriMiss FwdReason = "uri-miss"

	// The cache was able to select a response for the request, but
	// it was stale.
	FwdStale FwdReason = "stale"
)

// CacheStatus collects the parameters of one Cache-Status list member.
// The zero value reports a forward without reason.
type CacheStatus struct {
	hit       bool
	fwdReason FwdReason
	ttl       *int64
	stored    bool
	detail    string
}

func (cs *CacheStatus) Hit() {
	cs.hit = true
	cs.fwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.hit = false
	cs.fwdReason = reason
}

// TTL sets the remaining freshness lifetime in seconds.
func (cs *CacheStatus) TTL(seconds int64) {
	cs.ttl = &seconds
}

func (cs *CacheStatus) Stored() {
	cs.stored = true
}

func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

func (cs *CacheStatus) String() string {
	var b strings.Builder
	b.WriteString(Identifier)
	if cs.hit {
		b.WriteString("; hit")
	} else {
		b.WriteString("; fwd")
		if cs.fwdReason != "" {
			b.WriteString("=" + string(cs.fwdReason))
		}
	}
	if cs.ttl != nil {
		b.WriteString("; ttl=" + strconv.FormatInt(*cs.ttl, 10))
	}
	if cs.stored {
		b.WriteString("; stored")
	}
	if cs.detail != "" {
		b.WriteString("; detail=" + cs.detail)
	}
	return b.String()
}
