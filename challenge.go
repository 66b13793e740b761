package wafer

import (
	"strings"
)

// ChallengeType names the WAF/bot-detection family a response was
// classified as. The zero value ChallengeNone means no challenge was
// detected.
type ChallengeType string

const (
	ChallengeNone       ChallengeType = ""
	ChallengeCloudflare ChallengeType = "cloudflare"
	ChallengeAkamai     ChallengeType = "akamai"
	ChallengeDataDome   ChallengeType = "datadome"
	ChallengePerimeterX ChallengeType = "perimeterx"
	ChallengeImperva    ChallengeType = "imperva"
	ChallengeKasada     ChallengeType = "kasada"
	ChallengeShape      ChallengeType = "shape"
	ChallengeAWSWAF     ChallengeType = "awswaf"
	ChallengeACW        ChallengeType = "acw"
	ChallengeTMD        ChallengeType = "tmd"
	ChallengeAmazon     ChallengeType = "amazon"
	ChallengeVercel     ChallengeType = "vercel"
	ChallengeArkose     ChallengeType = "arkose"
	ChallengeGenericJS  ChallengeType = "generic_js"
)

// jsOnlyChallenges is the subset of challenges that have no inline
// solver and cannot be satisfied except by a real JS engine, so they
// always escalate to the browser solver collaborator.
var jsOnlyChallenges = map[ChallengeType]bool{
	ChallengeAWSWAF:     true,
	ChallengeCloudflare: true,
	ChallengeKasada:     true,
	ChallengeVercel:     true,
	ChallengeGenericJS:  true,
}

// JSOnly reports whether c can only be solved by a real browser.
func (c ChallengeType) JSOnly() bool { return jsOnlyChallenges[c] }

// InlineSolvable reports whether c has a pure-function solver in
// solvers.go.
func (c ChallengeType) InlineSolvable() bool {
	switch c {
	case ChallengeACW, ChallengeTMD, ChallengeAmazon:
		return true
	}
	return false
}

// classify determines the challenge (if any) a response represents.
// headers must be keyed lowercase; set-cookie, if present across
// multiple Set-Cookie lines, is a single string with values joined by
// "; " (see decodeHeaders). Detection order is significant and mirrors
// the reference detector exactly: header fast path, inline-solvable
// body markers, browser-solvable body markers, generic JS fallback,
// none.
func classify(statusCode int, headers map[string]string, body []byte) ChallengeType {
	setCookie := headers["set-cookie"]

	if c := headerFastPath(statusCode, headers, setCookie); c != ChallengeNone {
		return c
	}

	bodyLower := strings.ToLower(string(body))

	// --- Inline-solvable challenges (cheapest first) ---

	if strings.Contains(bodyLower, "acw_sc__v2") && strings.Contains(bodyLower, "arg1") {
		return ChallengeACW
	}
	if statusCode == 200 && strings.Contains(bodyLower, "/_____tmd_____/punish") {
		return ChallengeTMD
	}
	if statusCode == 200 && len(body) < 50_000 && strings.Contains(bodyLower, "continue shopping") {
		if strings.Contains(bodyLower, "amazon") || strings.Contains(bodyLower, "amzn") || strings.Contains(bodyLower, "/errors/validatecaptcha") {
			return ChallengeAmazon
		}
	}

	// --- Browser-solvable challenges ---

	if statusCode == 403 || statusCode == 503 {
		if strings.Contains(bodyLower, "window._cf_chl_opt") || strings.Contains(bodyLower, "_cf_chl_ctx") || strings.Contains(bodyLower, "challenge-form") {
			return ChallengeCloudflare
		}
	}

	if hasCookie(setCookie, "aws-waf-token") && (statusCode == 202 || statusCode == 403 || statusCode == 405 || statusCode == 429) {
		return ChallengeAWSWAF
	}
	if statusCode == 202 && (strings.Contains(bodyLower, "gokuprops") || strings.Contains(bodyLower, "awswafcookiedomainlist")) {
		return ChallengeAWSWAF
	}

	if hasCookie(setCookie, "_abck") || hasCookie(setCookie, "ak_bmsc") {
		if statusCode != 200 && (strings.Contains(bodyLower, "bmsz") || strings.Contains(bodyLower, "sensor_data") || strings.Contains(bodyLower, "_boma")) {
			return ChallengeAkamai
		}
		if statusCode == 200 && len(body) < 10_000 {
			if strings.Contains(bodyLower, "sec-if-cpt") || strings.Contains(bodyLower, "behavioral-content") {
				return ChallengeAkamai
			}
		}
	}

	if strings.Contains(bodyLower, "istlwashere") || strings.Contains(bodyLower, "_imp_apg_r_") {
		return ChallengeShape
	}

	if statusCode == 403 || statusCode == 429 {
		if statusCode == 403 && (strings.Contains(bodyLower, "akam") || strings.Contains(bodyLower, "akamai") || strings.Contains(bodyLower, "bazadebezolkohpepadr")) {
			return ChallengeAkamai
		}
		if strings.Contains(bodyLower, "datadome") || strings.Contains(bodyLower, "dd.js") {
			return ChallengeDataDome
		}
		if strings.Contains(bodyLower, "perimeterx") || strings.Contains(bodyLower, "human.security") || strings.Contains(bodyLower, "press & hold") || strings.Contains(bodyLower, "px-captcha") {
			return ChallengePerimeterX
		}
		if statusCode == 403 && (strings.Contains(bodyLower, "incapsula") || strings.Contains(bodyLower, "imperva")) {
			return ChallengeImperva
		}
		if strings.Contains(bodyLower, "ips.js") || strings.Contains(bodyLower, "kpsdk") || strings.Contains(bodyLower, "/p.js") {
			return ChallengeKasada
		}
		if strings.Contains(bodyLower, "aws-waf-token") || strings.Contains(bodyLower, "awswafjschallenge") {
			return ChallengeAWSWAF
		}
		if strings.Contains(bodyLower, "arkoselabs.com") || strings.Contains(bodyLower, "funcaptcha") {
			return ChallengeArkose
		}
		if strings.Contains(bodyLower, "<script") && len(body) < 50_000 {
			return ChallengeGenericJS
		}
	}

	if statusCode == 200 && len(body) < 5_000 {
		if strings.Contains(bodyLower, "_incapsula_resource") {
			return ChallengeImperva
		}
	}

	if statusCode == 200 && len(body) < 100_000 {
		if strings.Contains(bodyLower, "arkoselabs.com") || strings.Contains(bodyLower, "funcaptcha") {
			return ChallengeArkose
		}
	}

	return ChallengeNone
}

// hasCookie reports whether a joined Set-Cookie header string sets a
// cookie with the exact given name. Matching on "name=" (rather than a
// bare substring of name) avoids false positives against cookie names
// that embed another name as a substring.
func hasCookie(setCookie, name string) bool {
	needle := name + "="
	for i := 0; ; {
		j := strings.Index(setCookie[i:], needle)
		if j < 0 {
			return false
		}
		pos := i + j
		if pos == 0 || strings.ContainsRune("; ,", rune(setCookie[pos-1])) {
			return true
		}
		i = pos + 1
	}
}

// headerFastPath matches response headers (and cookies, which travel
// as the set-cookie header) that unambiguously name their WAF, so no
// further body inspection is needed. Order is significant.
func headerFastPath(statusCode int, headers map[string]string, setCookie string) ChallengeType {
	if headers["cf-mitigated"] == "challenge" {
		return ChallengeCloudflare
	}
	if headers["x-vercel-mitigated"] == "challenge" {
		return ChallengeVercel
	}
	if statusCode == 429 {
		for key := range headers {
			if strings.HasPrefix(key, "x-kpsdk") {
				return ChallengeKasada
			}
		}
	}
	if action := headers["x-amzn-waf-action"]; action == "captcha" || action == "challenge" {
		return ChallengeAWSWAF
	}
	if (statusCode == 403 || statusCode == 429) && hasCookie(setCookie, "datadome") {
		return ChallengeDataDome
	}
	if (statusCode == 403 || statusCode == 429) && (hasCookie(setCookie, "_px3") || hasCookie(setCookie, "_pxhd")) {
		return ChallengePerimeterX
	}
	if statusCode == 403 && (hasCookie(setCookie, "reese84") || hasCookie(setCookie, "___utmvc")) {
		return ChallengeImperva
	}
	if statusCode == 403 || statusCode == 429 {
		xcdn := strings.ToLower(headers["x-cdn"])
		if strings.Contains(xcdn, "incapsula") || strings.Contains(xcdn, "imperva") {
			return ChallengeImperva
		}
	}
	if statusCode == 403 && (hasCookie(setCookie, "_abck") || hasCookie(setCookie, "ak_bmsc")) {
		return ChallengeAkamai
	}
	if statusCode == 200 || statusCode == 403 || statusCode == 429 {
		for key, val := range headers {
			if strings.HasPrefix(key, "x-") && strings.HasSuffix(key, "-a") && len(key) <= 20 {
				if val != "" && (isDigit(val[0]) || len(val) > 40) {
					return ChallengeShape
				}
			}
		}
	}
	return ChallengeNone
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
