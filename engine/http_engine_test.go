package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tls "github.com/refraction-networking/utls"
)

// The test server listens on 127.0.0.1, so that host plays the aggregator.
func newTestClassifier() *Classifier {
	return NewClassifier("127.0.0.1")
}

func TestStaticFetcher_RedirectLeavesAggregator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/wrap":
			http.Redirect(w, r, "/hop", http.StatusFound)
		case "/hop":
			http.Redirect(w, r, "https://example.com/a", http.StatusMovedPermanently)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewStaticFetcher(newTestClassifier(), StaticOptions{Timeout: 5 * time.Second, PreferRedirect: true})
	att, err := f.Try(context.Background(), srv.URL+"/wrap")
	if err != nil {
		t.Fatalf("Try returned error: %v", err)
	}
	if !att.External || att.Candidate != "https://example.com/a" {
		t.Errorf("attempt = %+v, want external https://example.com/a", att)
	}
	if att.Strategy != StrategyStatic {
		t.Errorf("Strategy = %q, want %q", att.Strategy, StrategyStatic)
	}
}

func TestStaticFetcher_Markup(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantURL    string
		wantReason string
	}{
		{
			name:    "meta refresh",
			body:    `<html><head><meta http-equiv="refresh" content="0;url=https://example.com/a"></head></html>`,
			wantURL: "https://example.com/a",
		},
		{
			name:    "canonical",
			body:    `<html><head><link rel="canonical" href="https://example.com/b"></head></html>`,
			wantURL: "https://example.com/b",
		},
		{
			name:       "relative refresh stays on aggregator",
			body:       `<meta http-equiv="refresh" content="0;url=/elsewhere">`,
			wantReason: ReasonStillWrapper,
		},
		{
			name:       "anchor only is not used",
			body:       `<a href="https://example.com/c">c</a>`,
			wantReason: ReasonStillWrapper,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			f := NewStaticFetcher(newTestClassifier(), StaticOptions{Timeout: 5 * time.Second, PreferRedirect: true})
			att, _ := f.Try(context.Background(), srv.URL+"/wrap")

			if tt.wantURL != "" {
				if !att.External || att.Candidate != tt.wantURL {
					t.Errorf("attempt = %+v, want external %q", att, tt.wantURL)
				}
				return
			}
			if att.External || att.Reason != tt.wantReason {
				t.Errorf("attempt = %+v, want reason %q", att, tt.wantReason)
			}
			if !strings.HasPrefix(att.Candidate, srv.URL) {
				t.Errorf("Candidate = %q, want the post-redirect wrapper URL", att.Candidate)
			}
		})
	}
}

func TestStaticFetcher_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `<meta http-equiv="refresh" content="0;url=https://example.com/a">`)
	}))
	defer srv.Close()

	f := NewStaticFetcher(newTestClassifier(), StaticOptions{Timeout: 5 * time.Second, PreferRedirect: true})
	att, err := f.Try(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Try returned error: %v", err)
	}
	if att.External || att.Candidate != "" || att.Reason != ReasonNoCandidate {
		t.Errorf("attempt = %+v, want no candidate", att)
	}
}

func TestStaticFetcher_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	f := NewStaticFetcher(newTestClassifier(), StaticOptions{Timeout: 50 * time.Millisecond, PreferRedirect: true})
	att, err := f.Try(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Try returned error: %v", err)
	}
	if att.External || att.Reason != ReasonTimeout {
		t.Errorf("attempt = %+v, want reason %q", att, ReasonTimeout)
	}
}

func TestStaticFetcher_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := NewStaticFetcher(newTestClassifier(), StaticOptions{Timeout: time.Second, PreferRedirect: true})
	att, err := f.Try(context.Background(), addr)
	if err != nil {
		t.Fatalf("Try returned error: %v", err)
	}
	if att.External || att.Candidate != "" {
		t.Errorf("attempt = %+v, want no candidate", att)
	}
}

func TestStaticFetcher_TooManyRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	defer srv.Close()

	f := NewStaticFetcher(newTestClassifier(), StaticOptions{Timeout: 5 * time.Second, PreferRedirect: true})
	att, _ := f.Try(context.Background(), srv.URL)
	if att.External || att.Reason != ReasonNoCandidate {
		t.Errorf("attempt = %+v, want reason %q", att, ReasonNoCandidate)
	}
}

func TestStaticFetcher_PreferMarkup(t *testing.T) {
	dest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<link rel="canonical" href="https://canonical.example/story">`)
	}))
	defer dest.Close()

	// "localhost" is not the aggregator host string even though it routes
	// to the same loopback interface.
	destURL := strings.Replace(dest.URL, "127.0.0.1", "localhost", 1) + "/article"

	wrapper := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, destURL, http.StatusFound)
	}))
	defer wrapper.Close()

	preferRedirect := NewStaticFetcher(newTestClassifier(), StaticOptions{Timeout: 5 * time.Second, PreferRedirect: true})
	att, _ := preferRedirect.Try(context.Background(), wrapper.URL)
	if att.Candidate != destURL {
		t.Errorf("PreferRedirect: Candidate = %q, want %q", att.Candidate, destURL)
	}

	preferMarkup := NewStaticFetcher(newTestClassifier(), StaticOptions{Timeout: 5 * time.Second, PreferRedirect: false})
	att, _ = preferMarkup.Try(context.Background(), wrapper.URL)
	if att.Candidate != "https://canonical.example/story" {
		t.Errorf("PreferMarkup: Candidate = %q, want canonical URL", att.Candidate)
	}
}

func TestIsHTMLContentType(t *testing.T) {
	tests := map[string]bool{
		"text/html; charset=utf-8": true,
		"application/xhtml+xml":    true,
		"":                         true,
		"application/json":         false,
		"image/png":                false,
	}
	for ct, want := range tests {
		if got := isHTMLContentType(ct); got != want {
			t.Errorf("isHTMLContentType(%q) = %v, want %v", ct, got, want)
		}
	}
}

func TestStaticFetcher_ConcurrentTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://example.com/article", http.StatusFound)
	}))
	defer srv.Close()

	pool := srv.Client().Transport.(*http.Transport).TLSClientConfig.RootCAs
	f := NewStaticFetcher(newTestClassifier(), StaticOptions{
		Timeout:        5 * time.Second,
		PreferRedirect: true,
		RootCAs:        pool,
	})

	// Each call dials its own connection; run with -race.
	const workers = 20
	var wg sync.WaitGroup
	atts := make([]Attempt, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			atts[i], _ = f.Try(context.Background(), fmt.Sprintf("%s/w/%d", srv.URL, i))
		}(i)
	}
	wg.Wait()

	for i, att := range atts {
		if !att.External || att.Candidate != "https://example.com/article" {
			t.Errorf("worker %d: attempt = %+v, want external redirect target", i, att)
		}
	}
}

func TestNewChromeH1Spec_Independent(t *testing.T) {
	a, err := newChromeH1Spec()
	if err != nil {
		t.Fatalf("newChromeH1Spec: %v", err)
	}
	b, err := newChromeH1Spec()
	if err != nil {
		t.Fatalf("newChromeH1Spec: %v", err)
	}

	var alpnA, alpnB *tls.ALPNExtension
	for _, ext := range a.Extensions {
		if e, ok := ext.(*tls.ALPNExtension); ok {
			alpnA = e
		}
	}
	for _, ext := range b.Extensions {
		if e, ok := ext.(*tls.ALPNExtension); ok {
			alpnB = e
		}
	}
	if alpnA == nil || alpnB == nil {
		t.Fatal("spec has no ALPN extension")
	}
	if alpnA == alpnB {
		t.Error("specs share extension objects")
	}
	if len(alpnA.AlpnProtocols) != 1 || alpnA.AlpnProtocols[0] != "http/1.1" {
		t.Errorf("ALPN = %v, want [http/1.1]", alpnA.AlpnProtocols)
	}
}
