package engine

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	tls "github.com/refraction-networking/utls"
)

const (
	chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	maxRedirects = 10
	maxBody      = 10 << 20
)

var errTooManyRedirects = errors.New("too many redirects")

// newChromeH1Spec builds a Chrome-like TLS ClientHello with ALPN forced to
// http/1.1 only. ApplyPreset mutates the spec's extensions, so every
// connection needs its own copy.
func newChromeH1Spec() (tls.ClientHelloSpec, error) {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return tls.ClientHelloSpec{}, err
	}
	// Go's http.Transport cannot speak h2 over a utls connection.
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	return spec, nil
}

// StaticOptions configures a StaticFetcher.
type StaticOptions struct {
	// Timeout bounds the whole GET including redirects. Default: 10s.
	Timeout time.Duration

	// PreferRedirect checks the post-redirect URL before the markup and
	// stops following redirects as soon as one leaves the aggregator.
	// When false, markup wins and the post-redirect URL is the fallback.
	PreferRedirect bool

	// Proxy is an optional http(s) proxy URL.
	Proxy string

	// RootCAs overrides the trusted roots. Nil means the system pool.
	RootCAs *x509.CertPool
}

// StaticFetcher is the cheap strategy: one plain GET, no JavaScript.
type StaticFetcher struct {
	transport  http.RoundTripper
	classifier *Classifier
	opts       StaticOptions
}

// NewStaticFetcher creates a StaticFetcher with a Chrome-like TLS fingerprint.
func NewStaticFetcher(cls *Classifier, opts StaticOptions) *StaticFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			spec, err := newChromeH1Spec()
			if err != nil {
				conn.Close()
				return nil, fmt.Errorf("http_engine: build tls spec: %w", err)
			}
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host, RootCAs: opts.RootCAs}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(&spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("http_engine: apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2: false,
	}
	if opts.Proxy != "" {
		if proxyURL, err := url.Parse(opts.Proxy); err == nil && (proxyURL.Scheme == "http" || proxyURL.Scheme == "https") {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &StaticFetcher{
		transport:  transport,
		classifier: cls,
		opts:       opts,
	}
}

func (f *StaticFetcher) Name() string { return StrategyStatic }

// Try never returns an error; every failure is a local "no candidate".
func (f *StaticFetcher) Try(ctx context.Context, wrapperURL string) (Attempt, error) {
	start := time.Now()
	candidate, reason := f.fetch(ctx, wrapperURL)
	return Attempt{
		Strategy:  f.Name(),
		Candidate: candidate,
		External:  reason == "",
		Reason:    reason,
		Elapsed:   time.Since(start),
	}, nil
}

// fetch returns the best candidate and an empty reason when it is external.
func (f *StaticFetcher) fetch(ctx context.Context, wrapperURL string) (string, string) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	// escaped is the first redirect hop that left the aggregator.
	var escaped string
	client := &http.Client{
		Transport: f.transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if f.opts.PreferRedirect && f.classifier.IsExternal(req.URL.String()) {
				escaped = req.URL.String()
				return http.ErrUseLastResponse
			}
			if len(via) >= maxRedirects {
				return errTooManyRedirects
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wrapperURL, nil)
	if err != nil {
		slog.Debug("static fetch: build request failed", "url", wrapperURL, "error", err)
		return "", ReasonNoCandidate
	}
	req.Header.Set("User-Agent", chromeUA)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := client.Do(req)
	if err != nil {
		slog.Debug("static fetch: request failed", "url", wrapperURL, "error", err)
		if isTimeout(err) {
			return "", ReasonTimeout
		}
		return "", ReasonNoCandidate
	}
	defer resp.Body.Close()

	if escaped != "" {
		return escaped, ""
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Debug("static fetch: non-success status", "url", wrapperURL, "status", resp.StatusCode)
		return "", ReasonNoCandidate
	}

	finalURL := resp.Request.URL.String()

	var markup string
	if isHTMLContentType(resp.Header.Get("Content-Type")) {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			slog.Debug("static fetch: read body failed", "url", wrapperURL, "error", err)
		} else {
			markup = resolveReference(finalURL, ExtractRedirectTarget(string(body)))
		}
	}

	order := []string{markup, finalURL}
	if f.opts.PreferRedirect {
		order = []string{finalURL, markup}
	}
	for _, candidate := range order {
		if f.classifier.IsExternal(candidate) {
			return candidate, ""
		}
	}
	return finalURL, classifyReason(f.classifier, finalURL)
}

// isHTMLContentType returns true if the content-type header looks like HTML.
// A missing header is given the benefit of the doubt.
func isHTMLContentType(ct string) bool {
	if ct == "" {
		return true
	}
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// classifyReason explains why rawURL was not accepted.
func classifyReason(cls *Classifier, rawURL string) string {
	switch {
	case cls.IsExternal(rawURL):
		return ""
	case cls.IsWrapper(rawURL):
		return ReasonStillWrapper
	default:
		return ReasonNoCandidate
	}
}
