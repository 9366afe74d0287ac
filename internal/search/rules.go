package search

import (
	"strings"
)

const (
	// MaxResultsPerQuery is requested from the engine for each plan variant.
	MaxResultsPerQuery = 12
	// MaxHitsTotal caps merged hits across all variants.
	MaxHitsTotal = 8
	// DefaultRegion is the engine region used for planned queries.
	DefaultRegion = "jp-jp"

	fallbackSuffix = " site:.jp"
)

// filmAllowHosts are the only hosts accepted from site-scoped film
// variants.
var filmAllowHosts = map[string]bool{
	"eiga.com":           true,
	"movies.yahoo.co.jp": true,
}

// denyHosts are dropped from every variant.
var denyHosts = map[string]bool{
	"youtube.com":     true,
	"www.youtube.com": true,
	"tiktok.com":      true,
	"www.tiktok.com":  true,
	"jp.mercari.com":  true,
}

// filmPlan lists the film-domain variants in priority order. %s is the
// query.
var filmPlan = []string{
	"%s site:eiga.com/person",
	"%s site:eiga.com",
	"%s 映画.com",
	"%s 映画com",
	"%s site:movies.yahoo.co.jp",
	"%s" + fallbackSuffix,
}

// IsFilmDomain reports whether domain selects the film plan.
func IsFilmDomain(domain string) bool {
	return strings.Contains(domain, "映画")
}

// Plan returns the ordered query variants for query in domain.
func Plan(query, domain string) []string {
	query = strings.TrimSpace(query)
	if !IsFilmDomain(domain) {
		return []string{query + fallbackSuffix}
	}
	out := make([]string, 0, len(filmPlan))
	for _, tmpl := range filmPlan {
		out = append(out, strings.Replace(tmpl, "%s", query, 1))
	}
	return out
}

// isFallback reports whether a plan variant accepts any .jp host.
func isFallback(variant string) bool {
	return strings.HasSuffix(variant, fallbackSuffix)
}

// acceptHost applies the deny and allow lists to host for variant.
func acceptHost(host, variant string, film bool) bool {
	host = strings.ToLower(host)
	if host == "" || denyHosts[host] {
		return false
	}
	if !film {
		return true
	}
	if filmAllowHosts[host] {
		return true
	}
	return isFallback(variant) && strings.HasSuffix(host, ".jp")
}
