package wafer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Plain http:// test servers exercise the h1 leg of roundTripper,
// which never touches uTLS, so these scenarios run without any real
// TLS handshake.

func TestSessionSuccessOnFirstTry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	sess, err := NewSession(WithMaxRetries(2), WithMaxRotations(1))
	require.NoError(t, err)

	resp, err := sess.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "ok", resp.Text())
	assert.False(t, resp.WasRetried)
}

func TestSessionRetriesServerErrorThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	sess, err := NewSession(WithMaxRetries(3), WithMaxRotations(0))
	require.NoError(t, err)

	resp, err := sess.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text())
	assert.True(t, resp.WasRetried)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSessionExhaustsRetriesReturnsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sess, err := NewSession(WithMaxRetries(1), WithMaxRotations(0))
	require.NoError(t, err)

	_, err = sess.Get(context.Background(), srv.URL)
	require.Error(t, err)
	var httpErr *HTTPError
	assert.ErrorAs(t, err, &httpErr)
}

func TestSessionFollowsRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/landed", http.StatusFound)
			return
		}
		w.Write([]byte("landed"))
	}))
	defer srv.Close()

	sess, err := NewSession()
	require.NoError(t, err)

	resp, err := sess.Get(context.Background(), srv.URL+"/start")
	require.NoError(t, err)
	assert.Equal(t, "landed", resp.Text())
}

func TestSessionTooManyRedirectsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	sess, err := NewSession(WithMaxRedirects(2))
	require.NoError(t, err)

	_, err = sess.Get(context.Background(), srv.URL+"/start")
	require.Error(t, err)
	var tooMany *TooManyRedirectsError
	assert.ErrorAs(t, err, &tooMany)
}

func TestSessionChallengeExhaustsRotationBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Set-Cookie", "datadome=abc123; Path=/")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("blocked"))
	}))
	defer srv.Close()

	sess, err := NewSession(WithMaxRotations(1), WithMaxRetries(0))
	require.NoError(t, err)

	_, err = sess.Get(context.Background(), srv.URL)
	require.Error(t, err)
	var challengeErr *ChallengeDetectedError
	require.ErrorAs(t, err, &challengeErr)
	assert.Equal(t, string(ChallengeDataDome), challengeErr.ChallengeType)
}

func TestSessionBulkReturnsResponseInsteadOfError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sess, err := NewBulkSession()
	require.NoError(t, err)

	resp, err := sess.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestSessionPersistsCookiesAcrossRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("seen"); err != nil {
			http.SetCookie(w, &http.Cookie{Name: "seen", Value: "1"})
			w.Write([]byte("first"))
			return
		}
		w.Write([]byte("second"))
	}))
	defer srv.Close()

	sess, err := NewSession()
	require.NoError(t, err)

	first, err := sess.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "first", first.Text())

	second, err := sess.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "second", second.Text())
}

func TestSessionRateLimiterDelaysSecondRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	sess, err := NewSession(WithRateLimit(50*time.Millisecond, 0))
	require.NoError(t, err)

	start := time.Now()
	_, err = sess.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	_, err = sess.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestSessionContextCancellationSurfacesAsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte("late"))
	}))
	defer srv.Close()

	sess, err := NewSession(WithTimeout(10 * time.Millisecond))
	require.NoError(t, err)

	_, err = sess.Get(context.Background(), srv.URL)
	require.Error(t, err)
	var timeoutErr *TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
}
