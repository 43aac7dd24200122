package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/use-agent/unwrap/models"
)

type stubStrategy struct {
	name  string
	att   Attempt
	err   error
	calls int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Try(_ context.Context, _ string) (Attempt, error) {
	s.calls++
	att := s.att
	att.Strategy = s.name
	return att, s.err
}

func TestDispatcher_Resolve(t *testing.T) {
	cls := NewClassifier("news.google.com")

	tests := []struct {
		name         string
		static       Attempt
		browser      Attempt
		wantResolved bool
		wantURL      string
		wantStrategy string
		wantReason   string
		wantLastURL  string
		wantBrowser  int
	}{
		{
			name:         "static short-circuits",
			static:       Attempt{Candidate: "https://example.com/a", External: true},
			wantResolved: true,
			wantURL:      "https://example.com/a",
			wantStrategy: StrategyStatic,
			wantBrowser:  0,
		},
		{
			name:         "browser resolves",
			static:       Attempt{Candidate: testWrapper, Reason: ReasonStillWrapper},
			browser:      Attempt{Candidate: "https://example.com/b", External: true},
			wantResolved: true,
			wantURL:      "https://example.com/b",
			wantStrategy: StrategyBrowser,
			wantBrowser:  1,
		},
		{
			name:        "still wrapper",
			static:      Attempt{Reason: ReasonNoCandidate},
			browser:     Attempt{Candidate: testWrapper + "?hl=en", Reason: ReasonStillWrapper},
			wantReason:  ReasonStillWrapper,
			wantLastURL: testWrapper + "?hl=en",
			wantBrowser: 1,
		},
		{
			name:        "browser timeout",
			static:      Attempt{Reason: ReasonTimeout},
			browser:     Attempt{Candidate: testWrapper, Reason: ReasonTimeout},
			wantReason:  ReasonTimeout,
			wantLastURL: testWrapper,
			wantBrowser: 1,
		},
		{
			name:        "no candidate",
			static:      Attempt{Reason: ReasonNoCandidate},
			browser:     Attempt{Candidate: "chrome-error://chromewebdata/", Reason: ReasonNoCandidate},
			wantReason:  ReasonNoCandidate,
			wantLastURL: testWrapper,
			wantBrowser: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			static := &stubStrategy{name: StrategyStatic, att: tt.static}
			browser := &stubStrategy{name: StrategyBrowser, att: tt.browser}
			d := NewDispatcher(cls, static, browser)

			res, err := d.Resolve(context.Background(), testWrapper)
			if err != nil {
				t.Fatalf("Resolve returned error: %v", err)
			}
			if res.Resolved != tt.wantResolved {
				t.Fatalf("Resolved = %v, want %v (result %+v)", res.Resolved, tt.wantResolved, res)
			}
			if browser.calls != tt.wantBrowser {
				t.Errorf("browser calls = %d, want %d", browser.calls, tt.wantBrowser)
			}
			if static.calls != 1 {
				t.Errorf("static calls = %d, want 1", static.calls)
			}
			if len(res.Attempts) != 1+tt.wantBrowser {
				t.Errorf("attempts = %d, want %d", len(res.Attempts), 1+tt.wantBrowser)
			}
			if tt.wantResolved {
				if res.URL != tt.wantURL || res.Strategy != tt.wantStrategy {
					t.Errorf("result = %+v, want %s via %s", res, tt.wantURL, tt.wantStrategy)
				}
				return
			}
			if res.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", res.Reason, tt.wantReason)
			}
			if res.LastKnownURL != tt.wantLastURL {
				t.Errorf("LastKnownURL = %q, want %q", res.LastKnownURL, tt.wantLastURL)
			}
			if res.URL != "" {
				t.Errorf("URL = %q, want empty for an unresolved result", res.URL)
			}
		})
	}
}

func TestDispatcher_RejectsInvalidInput(t *testing.T) {
	for _, in := range []string{"", "   ", "not a url", "/relative/path", "ftp://news.google.com/x"} {
		static := &stubStrategy{name: StrategyStatic}
		d := NewDispatcher(NewClassifier("news.google.com"), static)

		res, err := d.Resolve(context.Background(), in)
		if res != nil {
			t.Errorf("Resolve(%q) returned a result", in)
		}
		if !errors.Is(err, ErrInvalidURL) {
			t.Errorf("Resolve(%q) err = %v, want ErrInvalidURL", in, err)
		}
		var re *models.ResolveError
		if !errors.As(err, &re) || re.Code != models.ErrCodeInvalidInput {
			t.Errorf("Resolve(%q) err = %v, want code %s", in, err, models.ErrCodeInvalidInput)
		}
		if static.calls != 0 {
			t.Errorf("Resolve(%q) ran a strategy before validating input", in)
		}
	}
}

func TestDispatcher_FatalBrowserError(t *testing.T) {
	static := &stubStrategy{name: StrategyStatic, att: Attempt{Reason: ReasonNoCandidate}}
	browser := &stubStrategy{
		name: StrategyBrowser,
		err:  models.NewResolveError(models.ErrCodeBrowserCrash, "failed to create incognito context", errors.New("ws closed")),
	}
	d := NewDispatcher(NewClassifier("news.google.com"), static, browser)

	res, err := d.Resolve(context.Background(), testWrapper)
	if res != nil {
		t.Errorf("expected no result on fatal error, got %+v", res)
	}
	var re *models.ResolveError
	if !errors.As(err, &re) || re.Code != models.ErrCodeBrowserCrash {
		t.Fatalf("err = %v, want code %s", err, models.ErrCodeBrowserCrash)
	}
}

func TestDispatcher_UntypedErrorBecomesInternal(t *testing.T) {
	browser := &stubStrategy{name: StrategyBrowser, err: errors.New("unexpected")}
	d := NewDispatcher(NewClassifier("news.google.com"), browser)

	_, err := d.Resolve(context.Background(), testWrapper)
	var re *models.ResolveError
	if !errors.As(err, &re) || re.Code != models.ErrCodeInternal {
		t.Fatalf("err = %v, want code %s", err, models.ErrCodeInternal)
	}
}

func TestDispatcher_NoStrategies(t *testing.T) {
	d := NewDispatcher(NewClassifier("news.google.com"))
	res, err := d.Resolve(context.Background(), testWrapper)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Resolved || res.Reason != ReasonNoCandidate {
		t.Errorf("result = %+v, want unresolved no-candidate", res)
	}
}

func TestDispatcher_StaticRedirectSkipsBrowser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://example.com/article", http.StatusFound)
	}))
	defer srv.Close()

	cls := newTestClassifier()
	sess := &fakeSession{}
	browser := &fakeBrowser{session: sess}
	d := NewDispatcher(cls,
		NewStaticFetcher(cls, StaticOptions{Timeout: 5 * time.Second, PreferRedirect: true}),
		NewBrowserNavigator(browser, cls, testBrowserOptions(), &fakeClock{}),
	)

	// Same outcome on every call while the wrapper behaves the same.
	for i := 0; i < 2; i++ {
		res, err := d.Resolve(context.Background(), srv.URL+"/rss/articles/abc")
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		if !res.Resolved || res.URL != "https://example.com/article" || res.Strategy != StrategyStatic {
			t.Errorf("call %d: result = %+v, want static resolution", i, res)
		}
	}
	if browser.opened != 0 {
		t.Errorf("browser sessions opened = %d, want 0", browser.opened)
	}
}

func TestDispatcher_FallsBackToBrowser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<script>location.replace("https://example.com/js")</script>`))
	}))
	defer srv.Close()

	cls := newTestClassifier()
	sess := &fakeSession{jsTarget: "https://example.com/js", jsAfter: 2}
	browser := &fakeBrowser{session: sess}
	d := NewDispatcher(cls,
		NewStaticFetcher(cls, StaticOptions{Timeout: 5 * time.Second, PreferRedirect: true}),
		NewBrowserNavigator(browser, cls, testBrowserOptions(), &fakeClock{}),
	)

	res, err := d.Resolve(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !res.Resolved || res.Strategy != StrategyBrowser || res.URL != "https://example.com/js" {
		t.Errorf("result = %+v, want browser resolution", res)
	}
	if len(res.Attempts) != 2 || res.Attempts[0].Reason != ReasonStillWrapper {
		t.Errorf("attempts = %+v, want static still-wrapper then browser", res.Attempts)
	}
	if sess.closed != 1 {
		t.Errorf("session closed %d times, want 1", sess.closed)
	}
}
