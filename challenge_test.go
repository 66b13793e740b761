package wafer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		headers map[string]string
		body    string
		want    ChallengeType
	}{
		{
			name:    "datadome cookie fast path on 403",
			status:  403,
			headers: map[string]string{"set-cookie": "datadome=abc; Path=/"},
			want:    ChallengeDataDome,
		},
		{
			name:    "kasada header fast path on 429",
			status:  429,
			headers: map[string]string{"x-kpsdk-ct": "abc"},
			want:    ChallengeKasada,
		},
		{
			name:    "kasada header fast path does not fire off 429",
			status:  403,
			headers: map[string]string{"x-kpsdk-ct": "abc"},
			want:    ChallengeNone,
		},
		{
			name:    "cloudflare header fast path any status",
			status:  200,
			headers: map[string]string{"cf-mitigated": "challenge"},
			want:    ChallengeCloudflare,
		},
		{
			name:    "shape sensor header fast path",
			status:  200,
			headers: map[string]string{"x-abc-a": "9f8c2e1a9f8c2e1a9f8c2e1a9f8c2e1a9f8c2e1a"},
			want:    ChallengeShape,
		},
		{
			name:   "acw inline marker requires both acw_sc__v2 and arg1",
			status: 200,
			body:   "var arg1 = 'deadbeef'; document.cookie='acw_sc__v2='",
			want:   ChallengeACW,
		},
		{
			name:   "tmd punish page on 200",
			status: 200,
			body:   "welcome to /_____tmd_____/punish",
			want:   ChallengeTMD,
		},
		{
			name:   "amazon captcha marker needs continue shopping and amazon/amzn",
			status: 200,
			body:   `<a href="/errors/validateCaptcha">Continue shopping</a> amazon.com`,
			want:   ChallengeAmazon,
		},
		{
			name:   "amazon marker absent continue-shopping text does not match",
			status: 200,
			body:   `<form action="/errors/validateCaptcha">`,
			want:   ChallengeNone,
		},
		{
			name:   "cloudflare turnstile body marker on 503",
			status: 503,
			body:   "window._cf_chl_opt = {}",
			want:   ChallengeCloudflare,
		},
		{
			name:   "cloudflare body marker does not fire on 200",
			status: 200,
			body:   "window._cf_chl_opt = {}",
			want:   ChallengeNone,
		},
		{
			name:   "generic js fallback on 403 with script tag",
			status: 403,
			body:   "<script>location.reload()</script>",
			want:   ChallengeGenericJS,
		},
		{
			name:   "generic js fallback does not fire on 200",
			status: 200,
			body:   "<script>location.reload()</script>",
			want:   ChallengeNone,
		},
		{
			name:   "clean 200 is no challenge",
			status: 200,
			body:   "<html><body>hello</body></html>",
			want:   ChallengeNone,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.status, tc.headers, []byte(tc.body))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestChallengeTypeJSOnly(t *testing.T) {
	assert.True(t, ChallengeCloudflare.JSOnly())
	assert.True(t, ChallengeKasada.JSOnly())
	assert.False(t, ChallengeACW.JSOnly())
	assert.False(t, ChallengeTMD.JSOnly())
}

func TestChallengeTypeInlineSolvable(t *testing.T) {
	assert.True(t, ChallengeACW.InlineSolvable())
	assert.True(t, ChallengeAmazon.InlineSolvable())
	assert.True(t, ChallengeTMD.InlineSolvable())
	assert.False(t, ChallengeCloudflare.InlineSolvable())
}

func TestHeaderFastPathPrecedesBodyMarkers(t *testing.T) {
	// A body that would match the generic JS fallback should never be
	// reached when a header fast path already identifies the WAF.
	got := classify(403, map[string]string{"set-cookie": "datadome=x"}, []byte("<script>document.cookie</script>"))
	assert.Equal(t, ChallengeDataDome, got)
}

func TestHasCookieMatchesWholeNameOnly(t *testing.T) {
	assert.False(t, hasCookie("my_px3_token=1", "_px3"))
	assert.True(t, hasCookie("_px3=1; Path=/", "_px3"))
}
