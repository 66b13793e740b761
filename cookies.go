package wafer

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultCacheTTL    = 24 * time.Hour
	defaultMaxDomains  = 50
	sweepSaveInterval  = 10
	sweepMtimeThresh   = 24 * time.Hour
)

// cachedCookie is the on-disk representation of one cookie.
type cachedCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Path    string    `json:"path"`
	Expires time.Time `json:"expires"`
	Secure  bool      `json:"secure"`
}

// domainRecord is the contents of one domain's JSON shard.
type domainRecord struct {
	Cookies    []cachedCookie `json:"cookies"`
	AccessedAt time.Time      `json:"accessed_at"`
}

// CookieCache is a disk-backed, domain-sharded cookie store. Each
// domain gets its own JSON file, written atomically (tempfile +
// rename) and guarded by a per-domain lock so concurrent sessions
// sharing a cache_dir never corrupt each other's writes. Entries past
// their expiry are purged on load and during periodic sweeps; domains
// beyond maxDomains are evicted least-recently-accessed first.
type CookieCache struct {
	dir        string
	ttl        time.Duration
	maxDomains int

	saveCount   int64
	countMu     sync.Mutex
	domainLocks sync.Map // string -> *sync.Mutex
}

// NewCookieCache creates a cache rooted at dir. ttl is the default
// lifetime applied to session cookies that carry no explicit
// Expires/Max-Age. maxDomains bounds how many domain shards are kept
// before LRU eviction; pass 0 to use the default of 50.
func NewCookieCache(dir string, ttl time.Duration, maxDomains int) *CookieCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if maxDomains <= 0 {
		maxDomains = defaultMaxDomains
	}
	return &CookieCache{dir: dir, ttl: ttl, maxDomains: maxDomains}
}

func (c *CookieCache) lockFor(domain string) *sync.Mutex {
	if v, ok := c.domainLocks.Load(domain); ok {
		return v.(*sync.Mutex)
	}
	m, _ := c.domainLocks.LoadOrStore(domain, &sync.Mutex{})
	return m.(*sync.Mutex)
}

func sanitizeDomain(domain string) string {
	return strings.NewReplacer(":", "_", "*", "_", "/", "_").Replace(domain)
}

func (c *CookieCache) pathFor(domain string) string {
	return filepath.Join(c.dir, sanitizeDomain(domain)+".json")
}

// Load returns the non-expired cookies cached for domain, or nil if
// none are cached. It also stamps the shard's accessed_at for LRU
// purposes.
func (c *CookieCache) Load(domain string) ([]cachedCookie, error) {
	lock := c.lockFor(domain)
	lock.Lock()
	defer lock.Unlock()

	rec, err := c.readShard(domain)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	active := purgeExpired(rec.Cookies, time.Now())
	rec.Cookies = active
	rec.AccessedAt = time.Now()
	if err := c.writeShard(domain, rec); err != nil {
		return active, err
	}
	return active, nil
}

// Save overwrites domain's cookies with cookies.
func (c *CookieCache) Save(domain string, cookies []cachedCookie) error {
	lock := c.lockFor(domain)
	lock.Lock()
	rec := &domainRecord{Cookies: cookies, AccessedAt: time.Now()}
	err := c.writeShard(domain, rec)
	lock.Unlock()
	if err != nil {
		return err
	}
	c.afterSave()
	return nil
}

// SaveFromHeaders merges the Set-Cookie headers from a response into
// domain's shard: new values replace existing cookies of the same
// name, and a Max-Age=0 (or already-expired) cookie deletes its
// namesake instead of being stored, matching real browser deletion
// semantics.
func (c *CookieCache) SaveFromHeaders(domain string, setCookieHeaders []string) error {
	if len(setCookieHeaders) == 0 {
		return nil
	}
	parsed := (&http.Response{Header: http.Header{"Set-Cookie": setCookieHeaders}}).Cookies()
	return c.Merge(domain, parsed)
}

// Merge applies already-parsed cookies to domain's shard, used both
// by SaveFromHeaders and directly by the session cookie jar adapter
// (see jar.go) so net/http's own Set-Cookie parsing is reused instead
// of re-parsing raw header strings.
func (c *CookieCache) Merge(domain string, parsed []*http.Cookie) error {
	if len(parsed) == 0 {
		return nil
	}
	lock := c.lockFor(domain)
	lock.Lock()
	rec, err := c.readShard(domain)
	if err != nil {
		lock.Unlock()
		return err
	}
	if rec == nil {
		rec = &domainRecord{}
	}
	now := time.Now()
	for _, raw := range parsed {
		expires, deleted := c.cookieExpiry(raw, now)
		rec.Cookies = removeCookieNamed(rec.Cookies, raw.Name)
		if deleted {
			continue
		}
		rec.Cookies = append(rec.Cookies, cachedCookie{
			Name:    raw.Name,
			Value:   raw.Value,
			Path:    raw.Path,
			Expires: expires,
			Secure:  raw.Secure,
		})
	}
	rec.Cookies = purgeExpired(rec.Cookies, now)
	rec.AccessedAt = now
	err = c.writeShard(domain, rec)
	lock.Unlock()
	if err != nil {
		return err
	}
	c.afterSave()
	return nil
}

// Clear deletes domain's shard entirely.
func (c *CookieCache) Clear(domain string) error {
	lock := c.lockFor(domain)
	lock.Lock()
	defer lock.Unlock()
	err := os.Remove(c.pathFor(domain))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ListDomains returns every domain with a shard on disk.
func (c *CookieCache) ListDomains() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	domains := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		domains = append(domains, strings.TrimSuffix(e.Name(), ".json"))
	}
	return domains, nil
}

// afterSave bumps the save counter and, every sweepSaveInterval
// saves, runs a background-cheap sweep for expired/stale shards and
// enforces the LRU domain cap.
func (c *CookieCache) afterSave() {
	c.countMu.Lock()
	c.saveCount++
	due := c.saveCount%sweepSaveInterval == 0
	c.countMu.Unlock()
	if due {
		c.sweepExpired()
		c.enforceLRU()
	}
}

// sweepExpired scans shards whose file hasn't been touched in
// sweepMtimeThresh and purges expired entries (or removes the shard
// entirely if nothing survives).
func (c *CookieCache) sweepExpired() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	now := time.Now()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < sweepMtimeThresh {
			continue
		}
		domain := strings.TrimSuffix(e.Name(), ".json")
		lock := c.lockFor(domain)
		lock.Lock()
		rec, err := c.readShard(domain)
		if err == nil && rec != nil {
			rec.Cookies = purgeExpired(rec.Cookies, now)
			if len(rec.Cookies) == 0 {
				os.Remove(c.pathFor(domain))
			} else {
				c.writeShard(domain, rec)
			}
		}
		lock.Unlock()
	}
}

// enforceLRU evicts least-recently-accessed domain shards once the
// domain count exceeds maxDomains.
func (c *CookieCache) enforceLRU() {
	domains, err := c.ListDomains()
	if err != nil || len(domains) <= c.maxDomains {
		return
	}
	type scored struct {
		domain     string
		accessedAt time.Time
	}
	scoredDomains := make([]scored, 0, len(domains))
	for _, d := range domains {
		lock := c.lockFor(d)
		lock.Lock()
		rec, err := c.readShard(d)
		lock.Unlock()
		if err != nil || rec == nil {
			continue
		}
		scoredDomains = append(scoredDomains, scored{domain: d, accessedAt: rec.AccessedAt})
	}
	sort.Slice(scoredDomains, func(i, j int) bool {
		return scoredDomains[i].accessedAt.Before(scoredDomains[j].accessedAt)
	})
	excess := len(scoredDomains) - c.maxDomains
	for i := 0; i < excess; i++ {
		c.Clear(scoredDomains[i].domain)
	}
}

func (c *CookieCache) readShard(domain string) (*domainRecord, error) {
	data, err := os.ReadFile(c.pathFor(domain))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec domainRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// writeShard writes rec for domain atomically: marshal to a temp file
// in the same directory, then rename over the target, so a reader
// never observes a partially-written shard.
func (c *CookieCache) writeShard(domain string, rec *domainRecord) error {
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	target := c.pathFor(domain)
	tmp, err := os.CreateTemp(c.dir, ".wafer-cookies-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Chmod(target, 0o600)
}

func purgeExpired(cookies []cachedCookie, now time.Time) []cachedCookie {
	active := cookies[:0:0]
	for _, c := range cookies {
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}
		active = append(active, c)
	}
	return active
}

func removeCookieNamed(cookies []cachedCookie, name string) []cachedCookie {
	out := cookies[:0:0]
	for _, c := range cookies {
		if c.Name != name {
			out = append(out, c)
		}
	}
	return out
}

// cookieExpiry resolves a parsed Set-Cookie's effective expiry,
// preferring Max-Age over Expires per RFC 6265, and reports whether
// the cookie is a deletion (Max-Age<=0 or Expires in the past). A
// cookie with neither falls back to this cache's configured ttl
// rather than a fixed constant, so a shorter ttl passed to
// NewCookieCache actually shortens session-cookie lifetime on disk.
func (c *CookieCache) cookieExpiry(raw *http.Cookie, now time.Time) (expires time.Time, deleted bool) {
	if raw.MaxAge != 0 {
		if raw.MaxAge <= 0 {
			return time.Time{}, true
		}
		return now.Add(time.Duration(raw.MaxAge) * time.Second), false
	}
	if !raw.Expires.IsZero() {
		if raw.Expires.Before(now) {
			return time.Time{}, true
		}
		return raw.Expires, false
	}
	return now.Add(c.ttl), false
}
