// Package responsetransformer matches requests against configured path rules.
// A matching rule can keep the page out of the cache or rewrite the origin
// response before it is stored.
package responsetransformer

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

type Rules []Rule

type Rule struct {
	Prefix string            `yaml:"prefix"`
	Path   string            `yaml:"path"`
	Query  map[string]string `yaml:"query"`
	// Bypass forwards matching requests to origin without touching the cache.
	Bypass   bool              `yaml:"bypass"`
	Default  string            `yaml:"default"`
	Override string            `yaml:"override"`
	Headers  map[string]string `yaml:"headers"`
}

// Bypassed tells whether the first rule matching req bypasses the cache.
func (r Rules) Bypassed(req *http.Request) bool {
	rule := r.find(req)
	return rule != nil && rule.Bypass
}

// Apply rewrites a successful origin response according to the rule matching its request.
func (r Rules) Apply(res *http.Response) {
	if res.StatusCode != http.StatusOK || res.Request == nil {
		return
	}
	if rule := r.find(res.Request); rule != nil {
		applyRuleToResponse(*rule, res)
	}
}

func applyRuleToResponse(rule Rule, res *http.Response) {
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	if rule.Override != "" {
		log.Trace().Msg("Overriding Cache-Control header")
		res.Header.Set("Cache-Control", rule.Override)
	} else if rule.Default != "" && res.Header.Get("Cache-Control") == "" {
		log.Trace().Msg("Applying default Cache-Control header")
		res.Header.Set("Cache-Control", rule.Default)
	}
	for name, value := range rule.Headers {
		log.Trace().Str("header", name).Msg("Setting header")
		res.Header.Set(name, value)
	}
}

// find returns the first rule matching a safe request, nil if none does.
// Rules only describe cacheable pages, so other methods never match.
func (r Rules) find(req *http.Request) *Rule {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return nil
	}
	path := req.URL.Path
rulesLoop:
	for i, rule := range r {
		if rule.Path != "" && rule.Path != path {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(path, rule.Prefix) {
			continue
		}
		if len(rule.Query) > 0 {
			qry := req.URL.Query()
			for name, value := range rule.Query {
				if value == "" && !qry.Has(name) {
					continue rulesLoop
				} else if value != "" && qry.Get(name) != value {
					continue rulesLoop
				}
			}
		}
		log.Trace().Str("path", path).Int("rule", i).Msg("Rule matched")
		return &r[i]
	}
	return nil
}
