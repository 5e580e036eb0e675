package cachekey

import (
	"net/http"
	"strings"
	"testing"
)

func TestRequestFromKey(t *testing.T) {
	keygen := NewCacheKeyer("this-is-the-origin")
	r, _ := http.NewRequest("GET", "http://dev.localhost/page?lang=fi", nil)
	r.Header.Set("Cache-Key", "mobile")
	key := keygen.Key(r)
	req, err := keygen.GetRequestFromKey(key)
	if err != nil {
		t.Fatalf("%s: %s", key, err)
	}
	if url := req.URL.String(); url != "/page?lang=fi" {
		t.Fatalf("Created request url for key %s is %s", key, url)
	}
	if again := keygen.Key(req); again != key {
		t.Fatalf("Key %q does not round trip, got %q", key, again)
	}
}

func TestHeadSharesGetKey(t *testing.T) {
	keygen := NewCacheKeyer("origin")
	get, _ := http.NewRequest("GET", "/page", nil)
	head, _ := http.NewRequest("HEAD", "/page", nil)
	if keygen.Key(get) != keygen.Key(head) {
		t.Fatalf("GET key %q, HEAD key %q", keygen.Key(get), keygen.Key(head))
	}
	if path, _ := keygen.KeyForPath("/page"); path != keygen.Key(get) {
		t.Fatalf("KeyForPath is %q", path)
	}
}

func TestRequestFromKeyErrors(t *testing.T) {
	keygen := NewCacheKeyer("origin")
	post, _ := http.NewRequest("POST", "/form", nil)
	if _, err := keygen.GetRequestFromKey(keygen.Key(post)); err != ErrorMethodNotSupported {
		t.Fatalf("POST key error is %v", err)
	}
	if _, err := keygen.GetRequestFromKey("other:GET:/\t"); err == nil {
		t.Fatal("Key of other origin accepted")
	}
	if _, err := keygen.GetRequestFromKey("origin:GET:/"); err == nil {
		t.Fatal("Malformed key accepted")
	}
}

func TestOriginPrefixIncludesOrigin(t *testing.T) {
	origin := "this-is-the-origin"
	keygen := NewCacheKeyer(origin)
	if !strings.Contains(keygen.OriginPrefix, origin) {
		t.Fatalf("OriginPrefix is %s", keygen.OriginPrefix)
	}
}
