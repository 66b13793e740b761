package wafer

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Response is a requests/httpx-style wrapper around the outcome of a
// retried request.
type Response struct {
	StatusCode int
	URL        string

	// Headers is a lowercase-keyed view of the response headers;
	// multi-value headers are joined with "; " (see decodeHeaders).
	Headers map[string]string

	ChallengeType string // name of the last-seen challenge, if any
	WasRetried    bool
	Elapsed       time.Duration

	Retries      int
	Rotations    int
	InlineSolves int

	content []byte
	textMu  sync.Once
	text    string

	raw *http.Response
}

// Content returns the raw response body.
func (r *Response) Content() []byte { return r.content }

// Text lazily decodes Content as UTF-8, replacing invalid sequences.
func (r *Response) Text() string {
	r.textMu.Do(func() {
		r.text = strings.ToValidUTF8(string(r.content), "�")
	})
	return r.text
}

// OK reports whether 200 <= StatusCode < 300.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// RetryAfter parses the Retry-After header (seconds or HTTP-date), or
// returns nil if absent/unparseable.
func (r *Response) RetryAfter() *float64 {
	return parseRetryAfter(r.Headers["retry-after"])
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.content, v)
}

// RaiseForStatus returns an *HTTPError if the response is not 2xx.
func (r *Response) RaiseForStatus() error {
	if !r.OK() {
		return &HTTPError{StatusCode: r.StatusCode, URL: r.URL}
	}
	return nil
}

// HeaderValues returns every value sent for a header name, fetched
// from the retained raw response for full fidelity (the Headers map
// collapses multi-value headers into one "; "-joined string).
func (r *Response) HeaderValues(name string) []string {
	if r.raw == nil {
		if v, ok := r.Headers[strings.ToLower(name)]; ok && v != "" {
			return []string{v}
		}
		return nil
	}
	return r.raw.Header.Values(name)
}

func decodeHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vals := range h {
		out[strings.ToLower(k)] = strings.Join(vals, "; ")
	}
	return out
}

func parseRetryAfter(value string) *float64 {
	if value == "" {
		return nil
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		f := float64(secs)
		if f < 0 {
			f = 0
		}
		return &f
	}
	if t, err := http.ParseTime(value); err == nil {
		d := time.Until(t).Seconds()
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}
