package wafer

import (
	"context"
	"net/http"
	"time"
)

// BrowserSolveResult is what a BrowserSolver hands back after driving
// a real browser through a challenge. The session stores Cookies in
// its jar and resumes as plain HTTP; it does not read UserAgent or
// Extras, so the fingerprint and Kasada state are left as they were.
// Passthrough, when non-nil, is used
// verbatim as the response to the original request instead of
// re-issuing it (for challenges where the browser navigation already
// produced the target page).
type BrowserSolveResult struct {
	Cookies     []*http.Cookie
	UserAgent   string
	Extras      map[string]string
	Passthrough *Response
}

// BrowserSolver is the collaborator contract a caller supplies to
// escalate a JS-only challenge (spec.md §4.11) to a real browser.
// wafer ships no implementation: headless-browser automation is out
// of scope for this module, matching spec.md §1's explicit exclusion.
// Callers wire in their own implementation (e.g. backed by a
// CDP-driven browser) via WithBrowserSolver.
type BrowserSolver interface {
	Solve(ctx context.Context, target string, challenge ChallengeType, timeout time.Duration) (*BrowserSolveResult, error)
}
