// Package pagecache is a stale-while-revalidate page cache in front of a single origin.
//
// Fresh pages are served from the cache. Stale pages are still served from the
// cache while a fresh copy is fetched in the background, so clients only wait
// for the origin on a miss.
package pagecache

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/always-cache/pagecache/cache"
	cachekey "github.com/always-cache/pagecache/pkg/cache-key"
	serializer "github.com/always-cache/pagecache/pkg/response-serializer"
	responsetransformer "github.com/always-cache/pagecache/pkg/response-transformer"
	tee "github.com/always-cache/pagecache/pkg/response-writer-tee"
	"github.com/always-cache/pagecache/rfc9111"
	"github.com/always-cache/pagecache/rfc9211"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultRevalidateTimeout    = 10 * time.Second
	DefaultMaxConcurrentUpdates = 4
)

type Config struct {
	// Storage for cached pages.
	Cache cache.Provider
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Path rules for bypassing the cache and rewriting origin responses.
	Rules responsetransformer.Rules
	// Disable background updates, i.e. legacy mode.
	// Unsafe requests then only delete the affected pages.
	DisableUpdates bool
	// Upper bound for a single background fetch.
	RevalidateTimeout time.Duration
	// Number of background fetches allowed at the same time.
	MaxConcurrentUpdates int64
	// Largest value the cache accepts, cache.DefaultMaxValueSize if not set.
	// Responses whose encoded form would not fit are not buffered for storing.
	MaxValueSize int
	// Largest response body that is considered for storing.
	// Defaults to MaxValueSize, and is further limited by what fits in it.
	MaxBodySize int
}

type PageCache struct {
	cache             cache.Provider
	keyer             cachekey.CacheKeyer
	log               zerolog.Logger
	rules             responsetransformer.Rules
	proxy             httputil.ReverseProxy
	disableUpdates    bool
	revalidateTimeout time.Duration
	maxBodySize       int
	maxValueSize      int

	updates singleflight.Group
	sem     *semaphore.Weighted
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// CreateCache initializes the page cache for the configured origin.
// Call Close to stop background updates.
func CreateCache(config Config) *PageCache {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	// create a child logger and add defaults
	logger = logger.With().
		Str("component", "pagecache").
		Str("origin", config.OriginURL.String()).
		Logger()

	if config.RevalidateTimeout <= 0 {
		config.RevalidateTimeout = DefaultRevalidateTimeout
	}
	if config.MaxConcurrentUpdates <= 0 {
		config.MaxConcurrentUpdates = DefaultMaxConcurrentUpdates
	}
	if config.MaxValueSize <= 0 {
		config.MaxValueSize = cache.DefaultMaxValueSize
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = config.MaxValueSize
	}

	p := &PageCache{
		cache:             config.Cache,
		keyer:             cachekey.NewCacheKeyer(config.OriginURL.String()),
		log:               logger,
		rules:             config.Rules,
		disableUpdates:    config.DisableUpdates,
		revalidateTimeout: config.RevalidateTimeout,
		maxBodySize:       config.MaxBodySize,
		maxValueSize:      config.MaxValueSize,
		sem:               semaphore.NewWeighted(config.MaxConcurrentUpdates),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	host := config.OriginURL.Host
	hostHeader := host
	transport := http.DefaultTransport
	if config.OriginHost != "" {
		hostHeader = config.OriginHost
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				ServerName: config.OriginHost,
			},
		}
	}

	p.proxy = httputil.ReverseProxy{
		Director:       createDirector(config.OriginURL.Scheme, host, hostHeader),
		Transport:      transport,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.proxyError,
	}

	return p
}

// Close cancels pending background updates and waits for running ones to return.
func (p *PageCache) Close() {
	p.cancel()
	p.wg.Wait()
}

// ServeHTTP implements the http.Handler interface.
func (p *PageCache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer p.recover(w, r)
	switch {
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		if p.rules.Bypassed(r) {
			p.forward(w, r, rfc9211.FwdBypass)
			return
		}
		p.serveSafe(w, r)
	case rfc9111.UnsafeRequest(r):
		p.serveUnsafe(w, r)
	default:
		p.forward(w, r, rfc9211.FwdMethod)
	}
}

// recover recovers from panics and sends the request to the escape hatch.
func (p *PageCache) recover(w http.ResponseWriter, r *http.Request) {
	if err := recover(); err != nil {
		p.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Str("url", r.URL.String()).Msg("Panic in cache handler")
		p.escapeHatch(w, r)
	}
}

// escapeHatch is a fallback handler that just proxies the request to the origin.
func (p *PageCache) escapeHatch(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if err := recover(); err != nil {
			p.log.Error().Interface("error", err).Msg("Escape hatch failed")
		}
	}()
	p.proxy.ServeHTTP(w, r)
}

// serveSafe serves GET and HEAD requests, from the cache if possible.
func (p *PageCache) serveSafe(w http.ResponseWriter, r *http.Request) {
	key := p.keyer.Key(r)
	fwdReason := rfc9211.FwdUriMiss
	if st, ok := p.cache.ReadWithStaleness(key); ok {
		stored, err := serializer.Decode(st.Value)
		if err == nil && st.Stale && p.disableUpdates {
			// without background updates a stale page is fetched like a miss
			stored.Response.Body.Close()
			fwdReason = rfc9211.FwdStale
		} else if err == nil {
			cs := rfc9211.CacheStatus{}
			cs.Hit()
			cs.TTL(st.RemainingSeconds())
			if st.Stale {
				cs.Detail("stale")
				p.revalidate(key)
			}
			p.sendStoredResponse(w, r, stored, cs)
			return
		}
		if err != nil {
			p.log.Error().Err(err).Str("key", key).Msg("Could not decode stored response")
			p.cache.Delete(key)
		}
	}

	// a HEAD response has no body to store
	if r.Method == http.MethodHead {
		p.forward(w, r, fwdReason)
		return
	}
	f := &fetch{key: key, requestedAt: time.Now()}
	f.status.Forward(fwdReason)
	p.proxy.ServeHTTP(w, r.WithContext(withFetch(r.Context(), f)))
	p.logRequest(r, f.status)
}

func (p *PageCache) sendStoredResponse(w http.ResponseWriter, r *http.Request, stored serializer.TimedResponse, cs rfc9211.CacheStatus) {
	res := stored.Response
	defer res.Body.Close()
	copyHeader(w.Header(), res.Header)
	w.Header().Set("Age", strconv.FormatInt(int64(stored.Age(time.Now())/time.Second), 10))
	w.Header().Add(rfc9211.HeaderName, cs.String())
	w.WriteHeader(res.StatusCode)
	if r.Method != http.MethodHead {
		bytesWritten, err := io.Copy(w, res.Body)
		if err != nil {
			p.log.Error().Err(err).Msg("Could not write response body to client")
		}
		p.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
	}
	p.logRequest(r, cs)
}

// forward proxies the request without storing the response.
func (p *PageCache) forward(w http.ResponseWriter, r *http.Request, reason rfc9211.FwdReason) {
	cs := rfc9211.CacheStatus{}
	cs.Forward(reason)
	w.Header().Add(rfc9211.HeaderName, cs.String())
	p.proxy.ServeHTTP(w, r)
	p.logRequest(r, cs)
}

// serveUnsafe forwards the request and then refreshes the pages it changed.
func (p *PageCache) serveUnsafe(w http.ResponseWriter, r *http.Request) {
	cs := rfc9211.CacheStatus{}
	cs.Forward(rfc9211.FwdMethod)
	w.Header().Add(rfc9211.HeaderName, cs.String())

	// only the status and headers are needed afterwards
	rwtee := tee.NewResponseSaver(w, 1)
	p.proxy.ServeHTTP(rwtee, r)
	p.logRequest(r, cs)

	p.updateAfter(r, rwtee.Result(r))
}

// fetch carries the state of one origin fetch whose response is to be stored.
type fetch struct {
	key         string
	requestedAt time.Time
	status      rfc9211.CacheStatus
	// origin answered (as opposed to a transport error)
	responded bool
	storable  bool
	stored    bool
}

type fetchContextKey struct{}

func withFetch(ctx context.Context, f *fetch) context.Context {
	return context.WithValue(ctx, fetchContextKey{}, f)
}

// modifyResponse runs for every origin response before it is sent on.
// Rules are applied to all responses, storing only happens for fetches.
func (p *PageCache) modifyResponse(res *http.Response) error {
	p.rules.Apply(res)
	f, ok := res.Request.Context().Value(fetchContextKey{}).(*fetch)
	if !ok {
		return nil
	}
	f.responded = true
	err := p.store(f, res)
	res.Header.Add(rfc9211.HeaderName, f.status.String())
	return err
}

// store writes the origin response to the cache if it may be stored.
// The response body is left readable for the client.
func (p *PageCache) store(f *fetch, res *http.Response) error {
	if rfc9111.MustNotStore(res.Request, res) {
		p.log.Trace().Str("key", f.key).Int("status", res.StatusCode).Msg("Response not storable")
		return nil
	}
	f.storable = true

	header := rfc9111.StorableHeader(res.Header)
	limit := p.bodyLimit(res, header)
	if limit <= 0 {
		p.log.Debug().Str("key", f.key).Msg("Response headers too large to store")
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, int64(limit)+1))
	if err != nil {
		return err
	}
	// the client gets the buffered part followed by whatever is left
	res.Body = readCloser{io.MultiReader(bytes.NewReader(body), res.Body), res.Body}
	if len(body) > limit {
		p.log.Debug().Str("key", f.key).Int("limit", limit).Msg("Response body too large to store")
		return nil
	}

	storedRes := *res
	storedRes.Header = header
	storedRes.Body = io.NopCloser(bytes.NewReader(body))
	storedRes.ContentLength = int64(len(body))
	value, err := serializer.Encode(serializer.TimedResponse{
		Response:     &storedRes,
		RequestTime:  f.requestedAt,
		ResponseTime: time.Now(),
	})
	if err != nil {
		p.log.Error().Err(err).Str("key", f.key).Msg("Could not encode response")
		return nil
	}
	if err := p.cache.Set(f.key, value); err != nil {
		p.log.Debug().Err(err).Str("key", f.key).Msg("Response not stored")
		return nil
	}
	f.stored = true
	f.status.Stored()
	p.log.Trace().Str("key", f.key).Msg("Stored response")
	return nil
}

// encodingOverhead covers what encoding adds to the stored header:
// the protocol and status code, Content-Length, the timing headers and separators.
const encodingOverhead = 256

// bodyLimit returns the largest body that still fits in a cache value
// next to the encoded status line and header.
func (p *PageCache) bodyLimit(res *http.Response, header http.Header) int {
	var head bytes.Buffer
	header.Write(&head)
	return min(p.maxBodySize, p.maxValueSize-head.Len()-len(res.Status)-encodingOverhead)
}

func (p *PageCache) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		p.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Origin request canceled")
	} else {
		p.log.Error().Err(err).Str("url", r.URL.String()).Msg("Error connecting to origin")
	}
	w.WriteHeader(http.StatusBadGateway)
}

type readCloser struct {
	io.Reader
	io.Closer
}

func createDirector(scheme, host, hostHeader string) func(req *http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = scheme
		req.URL.Host = host
		if hostHeader != "" {
			req.Host = hostHeader
		}
	}
}

func (p *PageCache) logRequest(r *http.Request, cs rfc9211.CacheStatus) {
	p.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Str("cacheStatus", cs.String()).
		Msg("Sent response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// headers added by an upstream proxy are not part of the page
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
