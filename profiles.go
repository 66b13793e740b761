package wafer

import (
	"strconv"

	tls "github.com/refraction-networking/utls"
)

// browserIdentity names the HTTP-layer header family a profile wears.
// It is separate from the TLS-layer ClientHelloID: the fingerprint
// manager's pool only ever holds Chrome profiles (spec invariant:
// current is always a Chrome pool member), but progressive rotation
// can additionally flip the whole session to a Safari identity before
// falling back to further Chrome rotation.
type browserIdentity string

const (
	identityChrome browserIdentity = "chrome"
	identitySafari browserIdentity = "safari"
)

// chromeProfile pairs a Chrome major version with the uTLS
// ClientHelloID that best approximates its TLS+H2 fingerprint, and
// the header family that major version sends.
type chromeProfile struct {
	major   int
	hello   tls.ClientHelloID
	headers [][2]string
}

// chromePool is the discovered set of Chrome fingerprint generations,
// sorted newest-first, mirroring original_source's
// _discover_chrome_profiles() sweep over available emulation targets.
// uTLS does not expose one ClientHelloID per Chrome release, so each
// entry here is the newest major version of its distinct fingerprint
// generation.
var chromePool = buildChromePool()

func buildChromePool() []chromeProfile {
	versions := []int{133, 120, 106, 102, 100, 96, 87, 83}
	hellos := []tls.ClientHelloID{
		tls.HelloChrome_Auto,
		tls.HelloChrome_120,
		tls.HelloChrome_106_Shuffle,
		tls.HelloChrome_102,
		tls.HelloChrome_100,
		tls.HelloChrome_96,
		tls.HelloChrome_87,
		tls.HelloChrome_83,
	}
	pool := make([]chromeProfile, len(versions))
	for i, v := range versions {
		pool[i] = chromeProfile{major: v, hello: hellos[i], headers: chromeHeaders(v)}
	}
	return pool
}

// chromeHeaders builds the client-level header set for a Chrome major
// version, in the order real Chrome sends them. applyProfileHeaders
// layers the full sec-ch-ua* family from secChUaHeaders on top, which
// overwrites the Sec-Ch-Ua-Mobile and Sec-Ch-Ua-Platform entries here
// and keeps the hints in sync with rotation and GREASE.
func chromeHeaders(major int) [][2]string {
	return [][2]string{
		{"User-Agent", chromeUserAgent(major)},
		{"Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8"},
		{"Accept-Language", "en-US,en;q=0.9"},
		{"Accept-Encoding", "gzip, deflate, br, zstd"},
		{"Sec-Ch-Ua-Mobile", "?0"},
		{"Sec-Ch-Ua-Platform", `"Windows"`},
		{"Sec-Fetch-Site", "none"},
		{"Sec-Fetch-Mode", "navigate"},
		{"Sec-Fetch-User", "?1"},
		{"Sec-Fetch-Dest", "document"},
		{"Upgrade-Insecure-Requests", "1"},
	}
}

func chromeUserAgent(major int) string {
	return "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" +
		strconv.Itoa(major) + ".0.0.0 Safari/537.36"
}

// safariProfile is the alternate HTTP+TLS identity progressive
// rotation switches to on its second escalation (spec.md §4.5 point
// 6/7f), mirroring original_source's Profile.SAFARI. It sits outside
// chromePool: Safari never takes part in ordinary rotation, only in
// the clear-cookies-then-identity-switch step of the rotation policy.
var safariProfile = chromeProfile{
	major: 0, // no Chrome major; sec-ch-ua is withheld entirely for Safari.
	hello: tls.HelloSafari_Auto,
	headers: [][2]string{
		{"User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"},
		{"Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"},
		{"Accept-Language", "en-US,en;q=0.9"},
		{"Accept-Encoding", "gzip, deflate, br"},
		{"Sec-Fetch-Site", "none"},
		{"Sec-Fetch-Mode", "navigate"},
		{"Sec-Fetch-Dest", "document"},
	},
}
