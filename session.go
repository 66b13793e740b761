package wafer

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Session is a retrying, fingerprint-rotating HTTP client. It is the
// single entry point for both "sync" and "async" use in the original
// design: Request blocks the calling goroutine and takes a context for
// cancellation, and RequestContext is an alias of it — Go has no need
// for a second async frontend. A Session is not safe for concurrent
// use; callers wanting concurrency use one Session per goroutine.
//
// Grounded on the teacher's BrowserProfile-driven fetch pipeline
// (main.go/fetch.go), generalized into a full retry/rotation state
// machine per original_source's SyncSession.request (_sync.py).
type Session struct {
	mu sync.Mutex

	fp     *FingerprintManager
	jar    *sessionJar
	kasada *KasadaStore

	cfg *sessionConfig
	rt  http.RoundTripper

	rateLimiter *RateLimiter
	cache       *CookieCache

	domainFailures map[string]int
	lastURL        map[string]string
	requestCount   int
}

// NewSession builds a Session with the given options applied over
// the library defaults.
func NewSession(opts ...SessionOption) (*Session, error) {
	return newSession(defaultConfig(), opts)
}

// NewBulkSession builds a Session tuned for large batch jobs: low
// retry/rotation budgets and a Request that returns whatever Response
// it has instead of raising once those budgets are exhausted,
// mirroring original_source's bulk() classmethod.
func NewBulkSession(opts ...SessionOption) (*Session, error) {
	return newSession(bulkDefaults(), opts)
}

func newSession(cfg *sessionConfig, opts []SessionOption) (*Session, error) {
	for _, opt := range opts {
		opt(cfg)
	}

	var cache *CookieCache
	if cfg.cacheDir != "" {
		cache = NewCookieCache(cfg.cacheDir, 0, 0)
	}
	jar, err := newSessionJar(cache)
	if err != nil {
		return nil, err
	}

	var limiter *RateLimiter
	if cfg.rateLimit > 0 {
		limiter = NewRateLimiter(cfg.rateLimit, cfg.rateJitter)
	}

	s := &Session{
		fp:             NewFingerprintManager(),
		jar:            jar,
		kasada:         NewKasadaStore(0),
		cfg:            cfg,
		rateLimiter:    limiter,
		cache:          cache,
		domainFailures: make(map[string]int),
		lastURL:        make(map[string]string),
	}
	s.rebuildTransport()
	return s, nil
}

func (s *Session) rebuildTransport() {
	profile, _ := s.fp.Current()
	s.rt = newTransport(profile.hello, s.cfg.proxy)
}

// AddCookie injects a cookie directly into target's origin jar,
// bypassing Set-Cookie parsing (spec.md §4.13).
func (s *Session) AddCookie(target *url.URL, name, value string, expires time.Time) {
	s.jar.InjectCookies(target, map[string]string{name: value}, expires)
}

func (s *Session) Get(ctx context.Context, target string) (*Response, error) {
	return s.Request(ctx, http.MethodGet, target, nil, nil)
}
func (s *Session) Post(ctx context.Context, target string, body []byte, headers [][2]string) (*Response, error) {
	return s.Request(ctx, http.MethodPost, target, body, headers)
}
func (s *Session) Put(ctx context.Context, target string, body []byte, headers [][2]string) (*Response, error) {
	return s.Request(ctx, http.MethodPut, target, body, headers)
}
func (s *Session) Delete(ctx context.Context, target string) (*Response, error) {
	return s.Request(ctx, http.MethodDelete, target, nil, nil)
}
func (s *Session) Head(ctx context.Context, target string) (*Response, error) {
	return s.Request(ctx, http.MethodHead, target, nil, nil)
}
func (s *Session) Options(ctx context.Context, target string) (*Response, error) {
	return s.Request(ctx, http.MethodOptions, target, nil, nil)
}
func (s *Session) Patch(ctx context.Context, target string, body []byte, headers [][2]string) (*Response, error) {
	return s.Request(ctx, http.MethodPatch, target, body, headers)
}

// Request executes method against target, retrying and rotating
// identity per spec.md §4.5, until it succeeds, exhausts its budgets,
// or ctx is cancelled. On budget exhaustion it returns a typed
// WaferError unless the session was built with NewBulkSession, in
// which case it returns the last Response observed instead; an
// unsolved challenge is also returned as its Response when the
// rotation budget is 0. A transport failure that outlasts the retry
// budget leaves no Response and returns ConnectionFailedError in
// either kind of session.
func (s *Session) Request(ctx context.Context, method, target string, body []byte, extraHeaders [][2]string) (*Response, error) {
	if s.cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.timeout)
		defer cancel()
	}

	targetURL, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	domain := targetURL.Hostname()

	if err := s.jar.Hydrate(targetURL); err != nil {
		Log.WithFields(map[string]any{"domain": domain, "err": err}).Debug("cookie hydrate failed")
	}

	state := newRetryState(s.cfg.maxRetries, s.cfg.maxRotations)
	attempt := 0

	for {
		if s.rateLimiter != nil {
			s.rateLimiter.Wait(domain)
			s.rateLimiter.Record(domain)
		}

		s.mu.Lock()
		s.requestCount++
		if s.cfg.rotateEvery > 0 && s.requestCount%s.cfg.rotateEvery == 0 {
			s.fp.Rotate()
			s.rebuildTransport()
		}
		s.mu.Unlock()

		resp, classification, err := s.attempt(ctx, method, targetURL, body, extraHeaders, state)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &TimeoutError{URL: target, TimeoutSec: s.cfg.timeout.Seconds()}
			}
			if !state.canRetry() {
				return nil, &ConnectionFailedError{URL: target, Reason: err.Error()}
			}
			state.useRetry()
			s.recordFailure(domain)
			time.Sleep(defaultBackoff(attempt))
			attempt++
			continue
		}

		switch classification {
		case classifySuccess:
			s.recordSuccess(domain)
			s.lastURL[domain] = resp.URL
			if state.rotationRetries > 0 {
				s.fp.Pin()
			}
			return resp, nil

		case classifyRedirect:
			next, rerr := s.followRedirect(targetURL, resp, state)
			if rerr != nil {
				return nil, rerr
			}
			newMethod, dropBody := redirectMethod(resp.StatusCode, method)
			changedOrigin := crossOrigin(targetURL, next)
			extraHeaders = filterRedirectHeaders(extraHeaders, changedOrigin, dropBody)
			if dropBody {
				body = nil
			}
			method = newMethod
			targetURL = next
			domain = targetURL.Hostname()
			continue

		case classifyEmptyBody, classifyServerError:
			if !state.canRetry() {
				if s.isBulk() {
					return resp, nil
				}
				if classification == classifyEmptyBody {
					return nil, &EmptyResponseError{URL: target, StatusCode: resp.StatusCode}
				}
				return nil, &HTTPError{StatusCode: resp.StatusCode, URL: target}
			}
			state.useRetry()
			s.recordFailure(domain)
			time.Sleep(s.backoffFor(resp, attempt))
			attempt++
			continue

		case classifyRateLimited, classifyForbidden:
			if !state.canRotate() {
				if s.isBulk() {
					return resp, nil
				}
				if classification == classifyRateLimited {
					return nil, &RateLimitedError{URL: target, RetryAfter: resp.RetryAfter()}
				}
				return nil, &HTTPError{StatusCode: resp.StatusCode, URL: target}
			}
			// Budget check happens first so retirement never destroys
			// session state on the iteration that's about to raise an
			// exhaustion error.
			shouldRetire := s.recordFailure(domain)
			state.useRotation()
			if shouldRetire {
				s.retireSession(domain)
			} else {
				s.rotateFingerprint(domain, state)
			}
			time.Sleep(s.backoffFor(resp, attempt))
			attempt++
			continue

		case classifyChallenge:
			ct := ChallengeType(resp.ChallengeType)
			shouldRetire := s.recordFailure(domain)
			if ct.InlineSolvable() && state.inlineSolves < state.maxInlineSolves {
				state.inlineSolves++
				solved, serr := s.solveInline(ctx, ct, targetURL, resp)
				if serr == nil && solved {
					time.Sleep(inlineSolveBackoff(attempt))
					continue
				}
			}
			if s.cfg.browserSolver != nil && !state.browserAttempted {
				state.browserAttempted = true
				if out, handled := s.solveBrowser(ctx, ct, targetURL); handled {
					if out != nil {
						return out, nil
					}
					continue
				}
			}
			if !state.canRotate() {
				if s.isBulk() || s.cfg.maxRotations == 0 {
					return resp, nil
				}
				return nil, &ChallengeDetectedError{ChallengeType: string(ct), URL: target, StatusCode: resp.StatusCode}
			}
			state.useRotation()
			if shouldRetire {
				s.retireSession(domain)
			} else {
				s.rotateFingerprint(domain, state)
			}
			time.Sleep(defaultBackoff(attempt))
			attempt++
			continue
		}
	}
}

// RequestContext is an alias for Request kept for readers coming from
// the Python async/sync split: in Go, context.Context already carries
// cancellation, so there is exactly one request path.
func (s *Session) RequestContext(ctx context.Context, method, target string, body []byte, headers [][2]string) (*Response, error) {
	return s.Request(ctx, method, target, body, headers)
}

func (s *Session) isBulk() bool { return s.cfg.bulk }

type classification int

const (
	classifySuccess classification = iota
	classifyRedirect
	classifyServerError
	classifyRateLimited
	classifyForbidden
	classifyChallenge
	classifyEmptyBody
)

// attempt sends exactly one HTTP request and classifies the outcome,
// matching spec.md §4.5's precedence: redirect > challenge > bare
// 403/429 > 5xx > empty-200 > success.
func (s *Session) attempt(ctx context.Context, method string, target *url.URL, body []byte, extraHeaders [][2]string, state *retryState) (*Response, classification, error) {
	start := time.Now()

	profile, _ := s.fp.Current()
	req, err := http.NewRequestWithContext(ctx, method, target.String(), bodyReader(body))
	if err != nil {
		return nil, 0, err
	}
	applyProfileHeaders(req, profile)
	applyExtraHeaders(req, extraHeaders)
	applyCustomHeaders(req, s.cfg.headers)

	kasadaSession := s.kasada.GetSession(target.Hostname())
	delta := buildHeaderDelta(target, s.cfg.embed, s.cfg.embedOrigin, s.autoReferer(target), kasadaSession)
	delta.apply(req.Header)

	for _, c := range s.jar.Cookies(target) {
		req.AddCookie(c)
	}

	resp, err := s.rt.RoundTrip(req)
	if err != nil {
		return nil, 0, err
	}

	setCookies := resp.Header.Values("Set-Cookie")
	if len(setCookies) > 0 {
		s.jar.SetCookies(target, (&http.Response{Header: http.Header{"Set-Cookie": setCookies}}).Cookies())
	}

	content, err := decodeBody(resp)
	if err != nil {
		return nil, 0, err
	}

	out := &Response{
		StatusCode:   resp.StatusCode,
		URL:          target.String(),
		Headers:      decodeHeaders(resp.Header),
		content:      content,
		raw:          resp,
		Elapsed:      time.Since(start),
		Retries:      state.normalRetries,
		Rotations:    state.rotationRetries,
		InlineSolves: state.inlineSolves,
		WasRetried:   state.normalRetries > 0 || state.rotationRetries > 0,
	}

	if resp.StatusCode >= 300 && resp.StatusCode < 400 && s.cfg.followRedirects {
		return out, classifyRedirect, nil
	}

	challenge := classify(resp.StatusCode, out.Headers, content)
	out.ChallengeType = string(challenge)
	if challenge != ChallengeNone {
		return out, classifyChallenge, nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return out, classifyRateLimited, nil
	}
	if resp.StatusCode == http.StatusForbidden {
		return out, classifyForbidden, nil
	}
	if resp.StatusCode >= 500 {
		return out, classifyServerError, nil
	}
	if resp.StatusCode == http.StatusOK && isBlankBody(content) {
		return out, classifyEmptyBody, nil
	}
	return out, classifySuccess, nil
}

// backoffFor honors a server-supplied Retry-After when present,
// falling back to the standard exponential backoff otherwise.
func (s *Session) backoffFor(resp *Response, attempt int) time.Duration {
	if ra := resp.RetryAfter(); ra != nil {
		return time.Duration(*ra * float64(time.Second))
	}
	return defaultBackoff(attempt)
}

func isBlankBody(content []byte) bool {
	return len(bytes.TrimSpace(content)) == 0
}

func bodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return bytes.NewReader(body)
}

func applyProfileHeaders(req *http.Request, profile chromeProfile) {
	for _, h := range profile.headers {
		req.Header.Set(h[0], h[1])
	}
	if profile.major > 0 {
		for k, v := range secChUaHeaders(profile.major) {
			req.Header.Set(k, v)
		}
	}
}

func applyExtraHeaders(req *http.Request, headers [][2]string) {
	for _, h := range headers {
		req.Header.Set(h[0], h[1])
	}
}

func applyCustomHeaders(req *http.Request, headers [][2]string) {
	for _, h := range headers {
		req.Header.Set(h[0], h[1])
	}
}

func (s *Session) autoReferer(target *url.URL) string {
	if !s.cfg.embedReferers {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastURL[target.Hostname()]
}

// followRedirect resolves Location against base and enforces the
// redirect budget tracked on state.
func (s *Session) followRedirect(base *url.URL, resp *Response, state *retryState) (next *url.URL, err error) {
	state.redirectsFollowed++
	if state.redirectsFollowed > s.cfg.maxRedirects {
		return nil, &TooManyRedirectsError{URL: base.String(), MaxRedirects: s.cfg.maxRedirects}
	}
	return resolveRedirectURL(base, resp.Headers["location"])
}

// rotateFingerprint implements the progressive rotation policy
// (spec.md §4.5 point 6/7f): every rotation clears this domain's
// cached cookies and Kasada session; the first rotation does only
// that, the second switches to the Safari identity, the third switches
// back to Chrome, and later ones rotate through the Chrome pool.
func (s *Session) rotateFingerprint(domain string, state *retryState) {
	if s.cache != nil {
		s.cache.Clear(domain)
	}
	s.kasada.Clear(domain)
	switch state.rotationRetries {
	case 1:
	case 2:
		s.fp.SwitchToSafari()
	case 3:
		s.fp.SwitchToChrome()
	default:
		s.fp.Rotate()
	}
	s.mu.Lock()
	s.rebuildTransport()
	s.mu.Unlock()
}

// recordFailure tallies a consecutive failure for domain (transport
// error, 5xx, empty 200, 403/429 or challenge) and reports whether the session should now retire (spec.md
// §4.9: count ≥ maxFailures, disabled when maxFailures ≤ 0). It never
// performs the retirement itself — callers defer that until after the
// budget check that might instead raise an exhaustion error.
func (s *Session) recordFailure(domain string) bool {
	if s.cfg.maxFailures <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domainFailures[domain]++
	return s.domainFailures[domain] >= s.cfg.maxFailures
}

func (s *Session) recordSuccess(domain string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.domainFailures, domain)
}

// retireSession performs a full identity reset for domain (spec.md
// §4.9's retire_session): reset the fingerprint back to the newest
// Chrome profile, clear the domain's cookie cache, rebuild the
// transport, and reset the failure counter so the domain starts its
// next request with a clean slate.
func (s *Session) retireSession(domain string) {
	s.fp.Reset()
	if s.cache != nil {
		s.cache.Clear(domain)
	}
	s.kasada.Clear(domain)
	s.mu.Lock()
	s.rebuildTransport()
	delete(s.domainFailures, domain)
	s.mu.Unlock()
}

// solveInline dispatches to the pure-function solver for challenge
// and, on success, retries the same URL with the solved token
// injected as a cookie/header so the next attempt() call picks it up.
func (s *Session) solveInline(ctx context.Context, challenge ChallengeType, target *url.URL, resp *Response) (bool, error) {
	switch challenge {
	case ChallengeACW:
		value, ok := solveACW(resp.Content())
		if !ok {
			return false, nil
		}
		s.AddCookie(target, "acw_sc__v2", value, time.Time{})
		return true, nil
	case ChallengeAmazon:
		if !isAmazonOrigin(target.Hostname()) {
			return false, nil
		}
		captchaTarget, ok := parseAmazonCaptcha(resp.Content(), target.String())
		if !ok {
			return false, nil
		}
		return s.submitAmazonCaptcha(ctx, target, captchaTarget)
	case ChallengeTMD:
		homepage := tmdHomepageURL(target.Scheme, target.Hostname())
		warmReq, err := http.NewRequestWithContext(ctx, http.MethodGet, homepage, nil)
		if err != nil {
			return false, err
		}
		profile, _ := s.fp.Current()
		applyProfileHeaders(warmReq, profile)
		warmResp, err := s.rt.RoundTrip(warmReq)
		if err != nil {
			return false, err
		}
		setCookies := warmResp.Header.Values("Set-Cookie")
		if len(setCookies) > 0 {
			s.jar.SetCookies(target, (&http.Response{Header: http.Header{"Set-Cookie": setCookies}}).Cookies())
		}
		io.Copy(io.Discard, warmResp.Body)
		warmResp.Body.Close()
		return true, nil
	}
	return false, nil
}

// submitAmazonCaptcha issues the submission parseAmazonCaptcha
// extracted — a "Continue shopping" link GET or a form action
// GET/POST — through the session, with Referer set to the original
// challenge URL, and persists any Set-Cookie headers the response
// carries (spec.md §4.10).
func (s *Session) submitAmazonCaptcha(ctx context.Context, origin *url.URL, target amazonCaptchaTarget) (bool, error) {
	method := target.method
	if method == "" {
		method = http.MethodGet
	}

	reqURL := target.url
	var body io.Reader
	if method == http.MethodPost {
		form := url.Values{}
		for k, v := range target.params {
			form.Set(k, v)
		}
		body = strings.NewReader(form.Encode())
	} else if len(target.params) > 0 {
		parsed, err := url.Parse(reqURL)
		if err != nil {
			return false, err
		}
		q := parsed.Query()
		for k, v := range target.params {
			q.Set(k, v)
		}
		parsed.RawQuery = q.Encode()
		reqURL = parsed.String()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return false, err
	}
	profile, _ := s.fp.Current()
	applyProfileHeaders(req, profile)
	req.Header.Set("Referer", origin.String())
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := s.rt.RoundTrip(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	setCookies := resp.Header.Values("Set-Cookie")
	if len(setCookies) > 0 {
		s.jar.SetCookies(origin, (&http.Response{Header: http.Header{"Set-Cookie": setCookies}}).Cookies())
	}
	io.Copy(io.Discard, resp.Body)
	return true, nil
}

// solveBrowser escalates challenge to the configured BrowserSolver.
// handled is false if no solver is configured or the solver itself
// errored (the caller then falls through to rotation); when handled
// is true and out is non-nil, out is the final Response to return.
func (s *Session) solveBrowser(ctx context.Context, challenge ChallengeType, target *url.URL) (out *Response, handled bool) {
	if s.cfg.browserSolver == nil {
		return nil, false
	}
	result, err := s.cfg.browserSolver.Solve(ctx, target.String(), challenge, s.cfg.timeout)
	if err != nil || result == nil {
		return nil, false
	}
	if len(result.Cookies) > 0 {
		Log.WithFields(map[string]any{
			"domain":  target.Hostname(),
			"cookies": formatCookieStr(result.Cookies),
		}).Debug("browser solver returned cookies")
		s.jar.SetCookies(target, result.Cookies)
	}
	if result.Passthrough != nil {
		return result.Passthrough, true
	}
	return nil, true
}
