package wafer

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"
)

// sessionJar is the http.CookieJar a Session hands its transport. It
// layers an in-memory, publicsuffix-aware cookiejar.Jar (for correct
// same-request cookie matching) on top of the on-disk CookieCache, so
// cookies survive across Session instances sharing a cache_dir while
// still behaving like an ordinary net/http jar within one process.
//
// Grounded on the teacher's PersistentJar (cookies.go), generalized
// from a single flat file to the domain-sharded CookieCache.
type sessionJar struct {
	jar   *cookiejar.Jar
	cache *CookieCache // nil disables disk persistence
}

func newSessionJar(cache *CookieCache) (*sessionJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &sessionJar{jar: jar, cache: cache}, nil
}

// SetCookies implements http.CookieJar; Session calls it directly
// after each round trip whose response carries Set-Cookie headers.
func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.jar.SetCookies(u, cookies)
	if j.cache != nil {
		j.cache.Merge(u.Hostname(), cookies)
	}
}

// Cookies implements http.CookieJar.
func (j *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	return j.jar.Cookies(u)
}

// Hydrate loads domain's cached cookies from disk into the in-memory
// jar, called at the start of every Session.Request for the target's
// domain so a fresh Session resumes a warmed identity instead of
// starting cold.
func (j *sessionJar) Hydrate(target *url.URL) error {
	if j.cache == nil {
		return nil
	}
	domain := target.Hostname()
	cached, err := j.cache.Load(domain)
	if err != nil || len(cached) == 0 {
		return err
	}
	cookies := make([]*http.Cookie, 0, len(cached))
	for _, c := range cached {
		cookies = append(cookies, &http.Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Path:    c.Path,
			Domain:  domain,
			Expires: c.Expires,
			Secure:  c.Secure,
		})
	}
	j.jar.SetCookies(target, cookies)
	return nil
}

// InjectCookies adds raw name=value pairs directly into the jar for
// target's origin, bypassing Set-Cookie parsing entirely. This backs
// Session.AddCookie (spec.md §4.13 cookie injection), used to seed a
// session with cookies captured elsewhere (e.g. a browser solver run).
func (j *sessionJar) InjectCookies(target *url.URL, values map[string]string, expires time.Time) {
	cookies := make([]*http.Cookie, 0, len(values))
	for name, value := range values {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value, Expires: expires})
	}
	j.SetCookies(target, cookies)
}

// formatCookieStr renders cookies as a single Cookie-header string
// ("a=1; b=2"), matching original_source browser/__init__.py's
// format_cookie_str, used to log the cookies a browser solver
// returns.
func formatCookieStr(cookies []*http.Cookie) string {
	out := ""
	for i, c := range cookies {
		if i > 0 {
			out += "; "
		}
		out += c.Name + "=" + c.Value
	}
	return out
}
