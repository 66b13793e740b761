package wafer

import (
	"net/http"
	"net/url"
)

// embedMode controls how a session presents itself when it is being
// used to fetch a resource embedded in another page (spec.md §4.7
// embed modes), layering Sec-Fetch-* and Referer semantics on top of
// the base profile headers.
type embedMode string

const (
	embedNone   embedMode = ""
	embedXHR    embedMode = "xhr"
	embedIframe embedMode = "iframe"
)

// headerDelta is a per-request override applied on top of a
// session's merged base headers: Set entries are written verbatim,
// Suppress entries are deleted even if the base headers or profile
// would otherwise set them. The Suppress side exists because Go's
// http.Header has no way to represent "send this header with an
// empty value" distinctly from "don't send it" other than deleting
// the key outright — see DESIGN.md's Open Question resolution.
type headerDelta struct {
	Set      map[string]string
	Suppress map[string]struct{}
}

func newHeaderDelta() headerDelta {
	return headerDelta{Set: map[string]string{}, Suppress: map[string]struct{}{}}
}

func (d headerDelta) apply(h http.Header) {
	for name := range d.Suppress {
		h.Del(name)
	}
	for name, value := range d.Set {
		h.Set(name, value)
	}
}

// buildHeaderDelta computes the per-request header overrides for one
// outgoing request: embed-mode Sec-Fetch-*/Referer handling, an
// auto-Referer derived from the previous URL visited on this domain,
// and any Kasada headers carried over from a prior solve.
func buildHeaderDelta(target *url.URL, mode embedMode, embedOrigin *url.URL, autoReferer string, kasada *KasadaSession) headerDelta {
	d := newHeaderDelta()

	switch mode {
	case embedXHR:
		d.Set["Sec-Fetch-Dest"] = "empty"
		d.Set["Sec-Fetch-Mode"] = "cors"
		if embedOrigin != nil {
			d.Set["Sec-Fetch-Site"] = fetchSite(embedOrigin, target)
			d.Set["Origin"] = embedOrigin.Scheme + "://" + embedOrigin.Host
		}
	case embedIframe:
		d.Set["Sec-Fetch-Dest"] = "iframe"
		d.Set["Sec-Fetch-Mode"] = "navigate"
		if embedOrigin != nil {
			d.Set["Sec-Fetch-Site"] = fetchSite(embedOrigin, target)
		}
	default:
		d.Set["Sec-Fetch-Dest"] = "document"
		d.Set["Sec-Fetch-Mode"] = "navigate"
		d.Set["Sec-Fetch-Site"] = "none"
	}

	if autoReferer != "" {
		d.Set["Referer"] = autoReferer
	} else {
		d.Suppress["Referer"] = struct{}{}
	}

	if kasada != nil {
		d.Set["x-kpsdk-ct"] = kasada.CT
		for name, value := range kasada.Headers {
			d.Set[name] = value
		}
	}

	return d
}

// fetchSite classifies the Sec-Fetch-Site relationship between an
// embedding origin and the target being fetched.
func fetchSite(origin, target *url.URL) string {
	if origin.Host == target.Host {
		return "same-origin"
	}
	if sameSiteETLD(origin.Host, target.Host) {
		return "same-site"
	}
	return "cross-site"
}

// sameSiteETLD is a conservative same-site check: same-site when the
// registrable suffix (last two labels) matches. publicsuffix.List is
// already used for cookie scoping (see jar.go); this stays a cheap
// label comparison since Sec-Fetch-Site only needs a rough signal,
// not cookie-law precision.
func sameSiteETLD(a, b string) bool {
	la, lb := labels(a), labels(b)
	if len(la) < 2 || len(lb) < 2 {
		return a == b
	}
	return la[len(la)-1] == lb[len(lb)-1] && la[len(la)-2] == lb[len(lb)-2]
}

func labels(host string) []string {
	var out []string
	start := 0
	for i := 0; i < len(host); i++ {
		if host[i] == '.' {
			out = append(out, host[start:i])
			start = i + 1
		}
	}
	out = append(out, host[start:])
	return out
}
