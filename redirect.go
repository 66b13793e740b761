package wafer

import (
	"net/http"
	"net/url"
	"strings"
)

// resolveRedirectURL resolves a Location header against the request
// URL it was returned for, handling protocol-relative ("//host/path"),
// absolute, and relative forms, and defaulting an empty path to "/".
func resolveRedirectURL(base *url.URL, location string) (*url.URL, error) {
	if location == "" {
		location = "/"
	}
	ref, err := url.Parse(location)
	if err != nil {
		return nil, err
	}
	resolved := base.ResolveReference(ref)
	if resolved.Path == "" {
		resolved.Path = "/"
	}
	return resolved, nil
}

// crossOrigin reports whether b is a different origin (scheme+host)
// than a.
func crossOrigin(a, b *url.URL) bool {
	return !strings.EqualFold(a.Scheme, b.Scheme) || !strings.EqualFold(a.Host, b.Host)
}

// redirectMethod applies RFC 7231 §6.4's GET-downgrade rule: 301,
// 302, and 303 rewrite any non-GET/HEAD method to GET (dropping the
// body); 307/308 preserve the original method and body.
func redirectMethod(statusCode int, method string) (newMethod string, dropBody bool) {
	switch statusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		if method != http.MethodGet && method != http.MethodHead {
			return http.MethodGet, true
		}
		return method, false
	default: // 307, 308
		return method, false
	}
}

// sensitiveRedirectHeaders lists headers stripped from a redirected
// request when the destination is cross-origin or the method changed,
// matching the teacher's conservative cross-origin credential
// handling.
var sensitiveRedirectHeaders = []string{
	"Authorization",
	"Cookie",
	"Proxy-Authorization",
}

// bodyHeaders are stripped whenever the method changes (body is
// being dropped, so the headers describing it no longer apply).
var bodyHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Encoding",
}

// stripRedirectHeaders removes headers from h in place per
// crossOriginChanged/methodChanged, matching spec.md §4.7.
func stripRedirectHeaders(h http.Header, crossOriginChanged, methodChanged bool) {
	if crossOriginChanged || methodChanged {
		for _, name := range sensitiveRedirectHeaders {
			h.Del(name)
		}
	}
	if methodChanged {
		for _, name := range bodyHeaders {
			h.Del(name)
		}
	}
}

// filterRedirectHeaders applies the same stripping rule to a caller's
// extra-header slice, since Session rebuilds its request headers from
// scratch each attempt rather than mutating a persistent http.Header.
func filterRedirectHeaders(headers [][2]string, crossOriginChanged, methodChanged bool) [][2]string {
	if !crossOriginChanged && !methodChanged {
		return headers
	}
	out := make([][2]string, 0, len(headers))
	for _, h := range headers {
		if headerNameIn(h[0], sensitiveRedirectHeaders) {
			continue
		}
		if methodChanged && headerNameIn(h[0], bodyHeaders) {
			continue
		}
		out = append(out, h)
	}
	return out
}

func headerNameIn(name string, list []string) bool {
	for _, n := range list {
		if strings.EqualFold(name, n) {
			return true
		}
	}
	return false
}
