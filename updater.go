package pagecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/always-cache/pagecache/cache"
	cachekey "github.com/always-cache/pagecache/pkg/cache-key"
	cacheupdate "github.com/always-cache/pagecache/pkg/cache-update"
	tee "github.com/always-cache/pagecache/pkg/response-writer-tee"
	"github.com/always-cache/pagecache/rfc9111"
	"github.com/always-cache/pagecache/rfc9211"
)

var errNotUpdated = errors.New("page not updated")

// Observe implements cache.Observer.
// Expired pages are fetched again in the background, so that the next
// request finds them fresh.
func (p *PageCache) Observe(e cache.Event) {
	if e.Kind != cache.EventExpired || p.disableUpdates {
		return
	}
	if !strings.HasPrefix(e.Key, p.keyer.MethodPrefix(http.MethodGet)) {
		return
	}
	p.log.Trace().Str("key", e.Key).Msg("Page expired, updating")
	p.revalidate(e.Key)
}

// revalidate updates the page in the background without blocking the caller.
func (p *PageCache) revalidate(key string) {
	if p.disableUpdates || p.ctx.Err() != nil {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.update(key); err != nil && !errors.Is(err, context.Canceled) {
			p.log.Error().Err(err).Str("key", key).Msg("Could not update cache entry")
		}
	}()
}

// update fetches the page identified by key from origin and stores it.
// Concurrent updates of the same key share one fetch.
func (p *PageCache) update(key string) error {
	_, err, shared := p.updates.Do(key, func() (interface{}, error) {
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return nil, err
		}
		defer p.sem.Release(1)
		return nil, p.refresh(key)
	})
	if shared {
		p.log.Trace().Str("key", key).Msg("Joined running update")
	}
	return err
}

// refresh does the actual fetch.
// If origin answers with something that must not be stored, the entry is deleted.
// On any other failure the stored (possibly stale) entry is kept.
func (p *PageCache) refresh(key string) error {
	req, err := p.keyer.GetRequestFromKey(key)
	if err == cachekey.ErrorMethodNotSupported {
		return nil
	} else if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.revalidateTimeout)
	defer cancel()

	f := &fetch{key: key, requestedAt: time.Now()}
	f.status.Forward(rfc9211.FwdStale)
	p.log.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("key", key).
		Msg("Requesting content from origin")

	// the body is stored by modifyResponse, nothing to keep here
	rw := tee.NewResponseSaver(nil, 1)
	p.proxy.ServeHTTP(rw, req.WithContext(withFetch(ctx, f)))

	switch {
	case f.stored:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case f.responded && rw.StatusCode() >= http.StatusInternalServerError:
		// keep serving the stale page while origin has trouble
		return fmt.Errorf("%w: origin status %d", errNotUpdated, rw.StatusCode())
	case f.responded && !f.storable:
		p.log.Debug().Str("key", key).Int("status", rw.StatusCode()).Msg("Origin response not storable, deleting entry")
		p.cache.Delete(key)
		return nil
	default:
		return fmt.Errorf("%w: origin status %d", errNotUpdated, rw.StatusCode())
	}
}

// updateAfter refreshes (or, with updates disabled, deletes) the pages
// affected by an unsafe request once origin has answered it.
func (p *PageCache) updateAfter(r *http.Request, res *http.Response) {
	updates := make([]cacheupdate.CacheUpdate, 0)
	for _, uri := range rfc9111.GetInvalidateURIs(r, res) {
		updates = append(updates, cacheupdate.CacheUpdate{URI: uri})
	}
	updates = append(updates, cacheupdate.GetCacheUpdates(r, res)...)

	seen := make(map[cacheupdate.CacheUpdate]bool)
	for _, update := range updates {
		if seen[update] {
			continue
		}
		seen[update] = true
		p.updateURI(update.URI, update.Delay)
	}
}

// updateURI updates the page for uri now or after the delay.
// Immediate updates are done before the unsafe request returns,
// so that e.g. a redirect after POST finds the new content.
func (p *PageCache) updateURI(uri string, delay time.Duration) {
	key, err := p.keyer.KeyForPath(uri)
	if err != nil {
		p.log.Error().Err(err).Str("uri", uri).Msg("Could not create key for update")
		return
	}
	p.log.Trace().Str("uri", uri).Dur("delay", delay).Msg("Updating cache based on request")

	updatePage := func() {
		if p.disableUpdates {
			p.cache.Delete(key)
			return
		}
		if err := p.update(key); err != nil && !errors.Is(err, context.Canceled) {
			p.log.Error().Err(err).Str("uri", uri).Msg("Could not save update")
		}
	}

	if delay <= 0 {
		updatePage()
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			updatePage()
		case <-p.ctx.Done():
		}
	}()
}
