package wafer

import (
	"bufio"
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// roundTripper uses uTLS to establish TLS connections with a
// browser-like fingerprint and routes HTTP/2 vs HTTP/1.1 traffic by
// URL scheme (see RoundTrip).
// Grounded on the teacher's roundTripper (transport.go), extended
// with optional proxy dialing so a rebuilt transport can pick up a
// session's configured proxy alongside its fingerprint.
type roundTripper struct {
	hello utls.ClientHelloID
	proxy *url.URL

	h2 *http2.Transport
	h1 *http.Transport
}

// newTransport builds an http.RoundTripper pinned to hello's TLS
// fingerprint. Rebuilding (rather than mutating) the transport is how
// Session.rotateFingerprint picks up a new ClientHelloID: each
// FingerprintManager.Rotate call is followed by a fresh newTransport
// so in-flight connections never silently keep the old fingerprint.
func newTransport(hello utls.ClientHelloID, proxy *url.URL) http.RoundTripper {
	rt := &roundTripper{hello: hello, proxy: proxy}

	rt.h2 = &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return rt.dialTLS(ctx, network, addr)
		},
	}
	rt.h1 = &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return rt.dialTLS(ctx, network, addr)
		},
	}
	if proxy != nil {
		rt.h1.Proxy = http.ProxyURL(proxy)
	}
	return rt
}

// dialTLS opens a TCP connection (optionally via the configured
// CONNECT proxy) and layers a uTLS handshake using rt.hello.
func (rt *roundTripper) dialTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	tcpConn, err := rt.dialRaw(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	tlsConn := utls.UClient(tcpConn, &utls.Config{
		ServerName: host,
		NextProtos: []string{"h2", "http/1.1"},
	}, rt.hello)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}
	return tlsConn, nil
}

func (rt *roundTripper) dialRaw(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{}
	if rt.proxy == nil {
		return dialer.DialContext(ctx, network, addr)
	}
	conn, err := dialer.DialContext(ctx, network, rt.proxy.Host)
	if err != nil {
		return nil, err
	}
	if err := connectProxy(conn, rt.proxy, addr); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// connectProxy issues an HTTP CONNECT to establish a tunnel through
// an HTTP/HTTPS proxy before the TLS handshake begins.
func connectProxy(conn net.Conn, proxy *url.URL, target string) error {
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: target},
		Host:   target,
		Header: make(http.Header),
	}
	if user := proxy.User; user != nil {
		req.Header.Set("Proxy-Authorization", "Basic "+basicAuth(user))
	}
	if err := req.Write(conn); err != nil {
		return err
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("proxy CONNECT failed: %s", resp.Status)
	}
	return nil
}

func basicAuth(u *url.Userinfo) string {
	password, _ := u.Password()
	return base64.StdEncoding.EncodeToString([]byte(u.Username() + ":" + password))
}

// RoundTrip dispatches every https request to the HTTP/2 transport and
// plaintext ones to the HTTP/1.1 transport. The negotiated ALPN
// protocol is not consulted: a TLS server that offers only http/1.1
// is not served over HTTP/1.1.
func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return rt.h1.RoundTrip(req)
	}
	return rt.h2.RoundTrip(req)
}

// decodeBody reads and decompresses a response body according to its
// Content-Encoding. zstd support (via klauspost/compress, promoted
// from an indirect teacher dependency) is new relative to the
// teacher, which advertised "zstd" in Accept-Encoding but never
// decoded it.
func decodeBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	var reader io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		defer zr.Close()
		reader = zr
	}
	return io.ReadAll(reader)
}
