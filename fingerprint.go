package wafer

import (
	"fmt"
	"math/bits"
	"runtime"
	"strings"
	"sync"
)

// greaseChars are the delimiter characters Chromium's GREASE
// algorithm cycles through when synthesizing the fake "Not A Brand"
// entry in Sec-CH-UA, ported from original_source's _GREASY_CHARS.
var greaseChars = []string{" ", "(", ":", "-", ".", "/", ")", ";", "=", "?", "_"}

// greasedVersions are the major-version strings Chromium rotates the
// greased brand through (original_source's _GREASED_VERSIONS).
var greasedVersions = []string{"8", "99", "24"}

// brandOrders enumerates the 6 permutations Chromium rotates the
// (greased, Chromium, product) brand triplet through when building
// Sec-CH-UA, keyed by major%6 (original_source's _BRAND_ORDER).
var brandOrders = [6][3]int{
	{0, 1, 2},
	{0, 2, 1},
	{1, 0, 2},
	{1, 2, 0},
	{2, 0, 1},
	{2, 1, 0},
}

// fullVersionAnchor is the (major, build, patch) Chromium release the
// full-version-list header is pinned to, so a brand's full version
// tracks a real build number instead of a bare major
// (original_source's _FULL_VERSION_ANCHOR: Chrome 130.0.6723.91).
const (
	fullVersionAnchorMajor = 130
	fullVersionAnchorBuild = 6723
	fullVersionAnchorPatch = 91
	fullVersionBuildStep   = 65
)

// fullVersion reproduces original_source's _full_version: a plausible
// Chrome full version string for major, derived by walking the build
// number forward/back from the anchor release at ~65 builds/major.
func fullVersion(major int) string {
	build := fullVersionAnchorBuild + (major-fullVersionAnchorMajor)*fullVersionBuildStep
	return fmt.Sprintf("%d.0.%d.%d", major, build, fullVersionAnchorPatch)
}

// greaseChar1/greaseChar2 are Chromium's GREASE delimiter pair for
// major version v: char1 = GREASE_CHARS[v%11], char2 =
// GREASE_CHARS[(v+1)%11]. The seed is the major version itself — there
// is no per-rotation or per-process randomization.
func greaseChar1(v int) string { return greaseChars[((v%11)+11)%11] }
func greaseChar2(v int) string { return greaseChars[(((v+1)%11)+11)%11] }

// greasedBrandVersion returns the low-entropy greased brand name and
// version for major version v.
func greasedBrandVersion(v int) (name, version string) {
	name = "Not" + greaseChar1(v) + "A" + greaseChar2(v) + "Brand"
	version = greasedVersions[((v%3)+3)%3]
	return name, version
}

// shuffleBrands applies Chromium's BRAND_ORDER permutation: the i-th
// entry of brands lands at position order[i] in the result, exactly
// mirroring original_source's `shuffled[order[i]] = brands[i]`.
func shuffleBrands(major int, brands [3][2]string) [3][2]string {
	order := brandOrders[((major%6)+6)%6]
	var out [3][2]string
	for i, pos := range order {
		out[pos] = brands[i]
	}
	return out
}

// secChUaHeaderValue builds the low-entropy Sec-CH-UA header value for
// Chrome major version major.
func secChUaHeaderValue(major int) string {
	greaseName, greaseVersion := greasedBrandVersion(major)
	majorStr := fmt.Sprintf("%d", major)
	brands := [3][2]string{
		{greaseName, greaseVersion},
		{"Chromium", majorStr},
		{"Google Chrome", majorStr},
	}
	shuffled := shuffleBrands(major, brands)
	return joinBrandVersionPairs(shuffled)
}

// secChUaFullVersionList builds Sec-CH-UA-Full-Version-List, the same
// shuffle but with full version strings instead of bare majors.
func secChUaFullVersionList(major int) string {
	greaseName, greaseVersion := greasedBrandVersion(major)
	full := fullVersion(major)
	brands := [3][2]string{
		{greaseName, greaseVersion + ".0.0.0"},
		{"Chromium", full},
		{"Google Chrome", full},
	}
	shuffled := shuffleBrands(major, brands)
	return joinBrandVersionPairs(shuffled)
}

func joinBrandVersionPairs(brands [3][2]string) string {
	parts := make([]string, 0, 3)
	for _, b := range brands {
		parts = append(parts, fmt.Sprintf(`%q;v=%q`, b[0], b[1]))
	}
	return strings.Join(parts, ", ")
}

// Host-derived Client Hints: stable for the lifetime of the process,
// computed once from the running machine rather than per-request.
// original_source's platform.machine()/platform.release() introspection
// has no direct stdlib equivalent without a syscall dependency absent
// from the examples, so arch/bitness come from runtime.GOARCH/math/bits
// (exact) and platform-version falls back to a conservative per-OS
// constant (approximate, but stable — matching the spec's "stable
// across the session" requirement, just not live kernel-version-exact).
var (
	hostPlatform        = detectPlatform()
	hostArch            = detectArch()
	hostBitness         = detectBitness()
	hostPlatformVersion = detectPlatformVersion()
)

func detectPlatform() string {
	switch runtime.GOOS {
	case "darwin":
		return `"macOS"`
	case "linux":
		return `"Linux"`
	case "windows":
		return `"Windows"`
	default:
		return `"Windows"`
	}
}

func detectArch() string {
	switch runtime.GOARCH {
	case "arm64", "arm":
		return `"arm"`
	default:
		return `"x86"`
	}
}

func detectBitness() string {
	return fmt.Sprintf(`"%d"`, bits.UintSize)
}

func detectPlatformVersion() string {
	switch runtime.GOOS {
	case "darwin":
		return `"24.0.0"`
	case "linux":
		return `"6.0.0"`
	case "windows":
		return `"10.0.22631"`
	default:
		return `"10.0.0"`
	}
}

// secChUaHeaders builds all nine Client-Hint headers Chrome sends for
// major, the single path both FingerprintManager.SecChUaHeaders and
// applyProfileHeaders route through (original_source's
// sec_ch_ua_headers).
func secChUaHeaders(major int) map[string]string {
	return map[string]string{
		"sec-ch-ua":                   secChUaHeaderValue(major),
		"sec-ch-ua-mobile":            "?0",
		"sec-ch-ua-platform":          hostPlatform,
		"sec-ch-ua-arch":              hostArch,
		"sec-ch-ua-bitness":           hostBitness,
		"sec-ch-ua-full-version":      fmt.Sprintf("%q", fullVersion(major)),
		"sec-ch-ua-full-version-list": secChUaFullVersionList(major),
		"sec-ch-ua-model":             `""`,
		"sec-ch-ua-platform-version":  hostPlatformVersion,
	}
}

// FingerprintManager owns the active TLS/HTTP identity for a session:
// which Chrome (or Safari) profile is current and whether it has been
// pinned against rotation.
//
// Invariant: Current always names a member of chromePool unless the
// identity has been switched to Safari by progressive rotation; a
// pinned manager never changes profile on Rotate.
type FingerprintManager struct {
	mu sync.Mutex

	identity browserIdentity
	index    int // index into chromePool, meaningless when identity is safari
	rotation int // count of Rotate/SwitchTo* calls since the last Reset, returned by Current
	pinned   bool
}

// NewFingerprintManager starts an unpinned manager on the newest
// Chrome profile in the pool.
func NewFingerprintManager() *FingerprintManager {
	return &FingerprintManager{identity: identityChrome, index: 0}
}

// Current returns the active chromeProfile and the rotation counter.
func (m *FingerprintManager) Current() (profile chromeProfile, rotation int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == identitySafari {
		return safariProfile, m.rotation
	}
	return chromePool[m.index], m.rotation
}

// Identity reports the active browser identity.
func (m *FingerprintManager) Identity() browserIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Rotate advances to the next Chrome profile in the pool (wrapping
// through every profile except the current one before repeating), a
// no-op on profile selection if pinned or while the identity is
// Safari.
func (m *FingerprintManager) Rotate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotation++
	if m.pinned || m.identity == identitySafari {
		return
	}
	m.index = (m.index + 1) % len(chromePool)
}

// Pin freezes the current Chrome profile against further rotation.
func (m *FingerprintManager) Pin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned = true
}

// Reset clears pinning and returns to the newest Chrome profile.
func (m *FingerprintManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned = false
	m.identity = identityChrome
	m.index = 0
	m.rotation = 0
}

// SwitchToSafari flips the active identity to Safari, used by
// progressive rotation's second escalation step.
func (m *FingerprintManager) SwitchToSafari() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = identitySafari
	m.rotation++
}

// SwitchToChrome flips the active identity back to Chrome at the
// newest pool profile, used after a Safari attempt also fails.
func (m *FingerprintManager) SwitchToChrome() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = identityChrome
	m.index = 0
	m.rotation++
}

// SecChUaHeaders returns all nine Client-Hint header values for the
// current profile. Returns an empty map for Safari, which does not
// send Chromium client hints.
func (m *FingerprintManager) SecChUaHeaders() map[string]string {
	profile, _ := m.Current()
	if profile.major == 0 {
		return map[string]string{}
	}
	return secChUaHeaders(profile.major)
}
