package wafer

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	kasadaDefaultDifficulty   = 10
	kasadaDefaultSubchallenge = 2
	kasadaDefaultSessionTTL   = 1800 * time.Second
)

// kasadaThreshold is the SHA-256 target a generated token's digest
// must fall under, matching original_source's
// (2**52 * subchallenges) // difficulty formula.
func kasadaThreshold(difficulty, subchallenges int) uint64 {
	const twoPow52 = uint64(1) << 52
	return (twoPow52 * uint64(subchallenges)) / uint64(difficulty)
}

// generateCD performs the Kasada proof-of-work grind against
// server token st, returning the base64 CD token Kasada expects on
// the x-kpsdk-cd header. It iterates a counter appended to st until
// the leading 52 bits of sha256(st || counter) fall under threshold,
// exactly mirroring original_source's generate_cd.
func generateCD(st string, difficulty, subchallenges int) string {
	if difficulty <= 0 {
		difficulty = kasadaDefaultDifficulty
	}
	if subchallenges <= 0 {
		subchallenges = kasadaDefaultSubchallenge
	}
	threshold := kasadaThreshold(difficulty, subchallenges)

	var counter uint64
	var solution uint64
	for {
		h := sha256.Sum256([]byte(st + itoaUint(counter)))
		candidate := binary.BigEndian.Uint64(h[:8]) >> 12 // top 52 bits
		if candidate < threshold {
			solution = counter
			break
		}
		counter++
	}

	payload, _ := json.Marshal(map[string]any{
		"st":         st,
		"solution":   solution,
		"difficulty": difficulty,
	})
	return base64.StdEncoding.EncodeToString(payload)
}

func itoaUint(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// KasadaSession holds the state of one Kasada challenge/response
// round for a domain: the server token, the solved client token, the
// extra request headers (e.g. x-kpsdk-rst) that must ride along with
// ct on subsequent requests, and when the session stops being
// reusable.
type KasadaSession struct {
	CT      string
	ST      string
	Headers map[string]string
	Expires time.Time
}

// expired reports whether the session has outlived its TTL.
func (s *KasadaSession) expired(now time.Time) bool { return now.After(s.Expires) }

// KasadaStore tracks one KasadaSession per domain for the lifetime of
// a Session. Unlike original_source's module-level _sessions dict,
// this is scoped to a single wafer.Session instance and guarded by a
// RWMutex, so concurrent sessions in the same process never share
// (and can't corrupt) each other's Kasada state.
type KasadaStore struct {
	mu       sync.RWMutex
	sessions map[string]*KasadaSession
	ttl      time.Duration

	rst func() string // overridable for tests; defaults to uuid.NewString
}

// NewKasadaStore creates an empty store with the given session TTL
// (0 selects the default of 30 minutes).
func NewKasadaStore(ttl time.Duration) *KasadaStore {
	if ttl <= 0 {
		ttl = kasadaDefaultSessionTTL
	}
	return &KasadaStore{
		sessions: make(map[string]*KasadaSession),
		ttl:      ttl,
		rst:      uuid.NewString,
	}
}

// GetSession returns domain's live KasadaSession, or nil if none
// exists or it has expired (in which case it is purged).
func (s *KasadaStore) GetSession(domain string) *KasadaSession {
	s.mu.RLock()
	sess, ok := s.sessions[domain]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	if sess.expired(time.Now()) {
		s.mu.Lock()
		delete(s.sessions, domain)
		s.mu.Unlock()
		return nil
	}
	return sess
}

// Solve grinds a CD token for server token st and stores the
// resulting session for domain, keyed by a fresh request correlation
// id (rst), matching Kasada's expectation that ct/cd/rst travel
// together on subsequent requests.
func (s *KasadaStore) Solve(domain, st string, difficulty, subchallenges int) *KasadaSession {
	cd := generateCD(st, difficulty, subchallenges)
	sess := &KasadaSession{
		CT:      cd,
		ST:      st,
		Headers: map[string]string{"x-kpsdk-rst": s.rst()},
		Expires: time.Now().Add(s.ttl),
	}
	s.mu.Lock()
	s.sessions[domain] = sess
	s.mu.Unlock()
	return sess
}

// Clear drops domain's session, forcing a fresh solve next time.
func (s *KasadaStore) Clear(domain string) {
	s.mu.Lock()
	delete(s.sessions, domain)
	s.mu.Unlock()
}
