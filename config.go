package wafer

import (
	"net/url"
	"time"
)

// sessionConfig collects every constructor option. SessionOption
// values mutate it; NewSession applies the defaults below before
// running the supplied options, then validates and wires the
// concrete collaborators (fingerprint manager, cookie cache, rate
// limiter, transport).
type sessionConfig struct {
	headers [][2]string

	connectTimeout time.Duration
	timeout        time.Duration

	maxRetries   int
	maxRotations int
	rotateEvery  int

	cacheDir    string
	maxFailures int

	rateLimit  time.Duration
	rateJitter time.Duration

	followRedirects bool
	maxRedirects    int

	embedOrigin   *url.URL
	embedReferers bool
	embed         embedMode

	proxy         *url.URL
	browserSolver BrowserSolver

	bulk bool
}

func defaultConfig() *sessionConfig {
	return &sessionConfig{
		connectTimeout:  10 * time.Second,
		timeout:         30 * time.Second,
		maxRetries:      3,
		maxRotations:    3,
		rotateEvery:     0,
		maxFailures:     5,
		rateLimit:       0,
		rateJitter:      0,
		followRedirects: true,
		maxRedirects:    10,
		embed:           embedNone,
	}
}

// SessionOption configures a Session at construction time.
type SessionOption func(*sessionConfig)

// WithHeaders merges extra headers into the profile's base header
// set, applied after the profile but before per-request deltas.
func WithHeaders(headers [][2]string) SessionOption {
	return func(c *sessionConfig) { c.headers = headers }
}

// WithConnectTimeout bounds how long the TCP+TLS handshake may take.
func WithConnectTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.connectTimeout = d }
}

// WithTimeout bounds the overall per-request deadline, including
// retries, rotations, and inline solves.
func WithTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.timeout = d }
}

// WithMaxRetries sets the normal-retry budget (5xx, I/O errors, empty
// 200 bodies).
func WithMaxRetries(n int) SessionOption {
	return func(c *sessionConfig) { c.maxRetries = n }
}

// WithMaxRotations sets the rotation-retry budget (bare 403/429,
// challenges).
func WithMaxRotations(n int) SessionOption {
	return func(c *sessionConfig) { c.maxRotations = n }
}

// WithRotateEvery rotates the fingerprint proactively every n
// requests, independent of failures. 0 disables proactive rotation.
func WithRotateEvery(n int) SessionOption {
	return func(c *sessionConfig) { c.rotateEvery = n }
}

// WithCacheDir enables disk-backed cookie persistence rooted at dir.
func WithCacheDir(dir string) SessionOption {
	return func(c *sessionConfig) { c.cacheDir = dir }
}

// WithMaxFailures sets how many consecutive failures on one domain
// retire the session for it (spec.md §4.8 session health): the
// fingerprint is reset, that domain's cookie cache is cleared and the
// transport is rebuilt. 0 disables retirement.
func WithMaxFailures(n int) SessionOption {
	return func(c *sessionConfig) { c.maxFailures = n }
}

// WithRateLimit sets the minimum interval (plus optional jitter)
// enforced between requests to the same domain.
func WithRateLimit(interval, jitter time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.rateLimit = interval
		c.rateJitter = jitter
	}
}

// WithFollowRedirects toggles automatic redirect following.
func WithFollowRedirects(follow bool) SessionOption {
	return func(c *sessionConfig) { c.followRedirects = follow }
}

// WithMaxRedirects caps redirects followed per request.
func WithMaxRedirects(n int) SessionOption {
	return func(c *sessionConfig) { c.maxRedirects = n }
}

// WithEmbed sets the embed mode (xhr/iframe) and the origin page the
// request is notionally embedded in, controlling Sec-Fetch-* and
// auto-Referer behavior.
func WithEmbed(mode embedMode, origin *url.URL, autoReferers bool) SessionOption {
	return func(c *sessionConfig) {
		c.embed = mode
		c.embedOrigin = origin
		c.embedReferers = autoReferers
	}
}

// WithProxy routes all requests through proxyURL.
func WithProxy(proxyURL *url.URL) SessionOption {
	return func(c *sessionConfig) { c.proxy = proxyURL }
}

// WithBrowserSolver wires in a BrowserSolver collaborator for
// escalating JS-only challenges. Without one, JS-only challenges
// exhaust their rotation budget and surface as ChallengeDetectedError
// (with a rotation budget of 0 the challenge Response is returned).
func WithBrowserSolver(solver BrowserSolver) SessionOption {
	return func(c *sessionConfig) { c.browserSolver = solver }
}

// bulkDefaults mirrors original_source's bulk() classmethod: smaller
// retry/rotation budgets so large batch jobs fail fast and return a
// Response (even a bad one) rather than raising, and no cache_dir/
// failure-tracking overhead per item.
func bulkDefaults() *sessionConfig {
	c := defaultConfig()
	c.maxRetries = 1
	c.maxRotations = 0
	c.maxFailures = 0
	c.bulk = true
	return c
}
