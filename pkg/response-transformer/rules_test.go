package responsetransformer

import (
	"net/http"
	"testing"
)

func TestRuleFinder(t *testing.T) {
	makeReq := func(method, path string) *http.Request {
		req, _ := http.NewRequest(method, path, nil)
		return req
	}

	rules := Rules{
		Rule{Prefix: "/wp-", Override: "no-cache"},
		Rule{Path: "/search", Query: map[string]string{"q": ""}, Bypass: true},
		Rule{Override: "default"},
	}

	if rule := rules.find(makeReq("GET", "/")); rule == nil || rule.Override != "default" {
		t.Fatal("Incorrect rule")
	}
	if rule := rules.find(makeReq("HEAD", "/wp-admin")); rule == nil || rule.Override != "no-cache" {
		t.Fatal("Incorrect rule")
	}
	if rule := rules.find(makeReq("POST", "/wp-admin")); rule != nil {
		t.Fatal("Incorrect rule")
	}
	if !rules.Bypassed(makeReq("GET", "/search?q=go")) {
		t.Fatal("search with query should bypass")
	}
	if rules.Bypassed(makeReq("GET", "/search")) {
		t.Fatal("search without query should not bypass")
	}
}

func TestApply(t *testing.T) {
	res := &http.Response{Header: make(http.Header)}
	ruleDefault := Rule{Default: "default"}
	ruleOverride := Rule{Override: "override", Headers: map[string]string{"X-Rule": "1"}}

	applyRuleToResponse(ruleDefault, res)
	if cc := res.Header.Get("Cache-Control"); cc != "default" {
		t.Fatalf("Cache-Control header wrong, is '%s'", cc)
	}

	// default must not replace an origin value
	res.Header.Set("Cache-Control", "no-cache")
	applyRuleToResponse(ruleDefault, res)
	if cc := res.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Fatalf("Cache-Control header wrong, is '%s'", cc)
	}

	applyRuleToResponse(ruleOverride, res)
	if cc := res.Header.Get("Cache-Control"); cc != "override" {
		t.Fatalf("Cache-Control header wrong, is '%s'", cc)
	}
	if res.Header.Get("X-Rule") != "1" {
		t.Fatal("extra header not set")
	}
}

func TestApplyOnlySuccess(t *testing.T) {
	req, _ := http.NewRequest("GET", "/", nil)
	rules := Rules{{Override: "public"}}
	res := &http.Response{StatusCode: http.StatusNotFound, Header: make(http.Header), Request: req}
	rules.Apply(res)
	if res.Header.Get("Cache-Control") != "" {
		t.Fatal("rule applied to error response")
	}
	res.StatusCode = http.StatusOK
	rules.Apply(res)
	if res.Header.Get("Cache-Control") != "public" {
		t.Fatal("rule not applied to success")
	}
}
