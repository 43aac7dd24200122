package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Browser hands out isolated browsing sessions. Implementations must give
// every session its own cookies, storage and history.
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
}

// Session is one isolated browsing context with a single page.
type Session interface {
	// Navigate loads url and waits for DOMContentLoaded, bounded by ctx.
	Navigate(ctx context.Context, url string) error

	// URL returns the page's current URL.
	URL(ctx context.Context) (string, error)

	// HTML returns the page's rendered markup.
	HTML(ctx context.Context) (string, error)

	// Close releases the page and its browsing context. It is safe to call
	// more than once.
	Close() error
}

// WithSession opens a session, runs fn and closes the session on every
// exit path, panics included.
func WithSession(ctx context.Context, b Browser, fn func(Session) error) error {
	s, err := b.NewSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			slog.Warn("browser session close failed", "error", cerr)
		}
	}()
	return fn(s)
}

// Clock abstracts waiting so the poll loop can be driven in tests.
type Clock interface {
	// Sleep waits for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock sleeps on the wall clock.
type RealClock struct{}

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// BrowserOptions configures a BrowserNavigator.
type BrowserOptions struct {
	NavTimeout   time.Duration // default: 45s
	PollInterval time.Duration // default: 1s
	PollAttempts int           // default: 15
	SettleDelay  time.Duration // default: 5s
}

// BrowserNavigator is the expensive strategy: it loads the wrapper in a
// real browser so JavaScript redirects can run.
type BrowserNavigator struct {
	browser    Browser
	classifier *Classifier
	opts       BrowserOptions
	clock      Clock
}

// NewBrowserNavigator creates a BrowserNavigator. A nil clock means RealClock.
func NewBrowserNavigator(b Browser, cls *Classifier, opts BrowserOptions, clock Clock) *BrowserNavigator {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 45 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.PollAttempts < 0 {
		opts.PollAttempts = 0
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &BrowserNavigator{
		browser:    b,
		classifier: cls,
		opts:       opts,
		clock:      clock,
	}
}

func (n *BrowserNavigator) Name() string { return StrategyBrowser }

// Try returns an error only when no session could be opened.
func (n *BrowserNavigator) Try(ctx context.Context, wrapperURL string) (Attempt, error) {
	start := time.Now()
	att := Attempt{Strategy: n.Name()}

	err := WithSession(ctx, n.browser, func(s Session) error {
		att.Candidate, att.Reason = n.run(ctx, s, wrapperURL)
		return nil
	})
	att.External = err == nil && att.Reason == ""
	att.Elapsed = time.Since(start)
	return att, err
}

// run drives one session. The returned reason is empty when the
// candidate is external.
//
//  1. Navigate       – wait for DOMContentLoaded, bounded by NavTimeout
//  2. Poll           – re-read the URL every PollInterval, PollAttempts times
//  3. Meta refresh   – follow a refresh tag in the rendered markup
//  4. Anchor         – follow the first external link, only from the aggregator
func (n *BrowserNavigator) run(ctx context.Context, s Session, wrapperURL string) (string, string) {
	// ── 1. Navigate ───────────────────────────────────────────────────
	navCtx, cancel := context.WithTimeout(ctx, n.opts.NavTimeout)
	navErr := s.Navigate(navCtx, wrapperURL)
	cancel()
	if navErr != nil {
		current := n.currentURL(ctx, s)
		if n.classifier.IsExternal(current) {
			// The destination started loading before the deadline hit.
			return current, ""
		}
		if errors.Is(navErr, context.DeadlineExceeded) || ctx.Err() != nil {
			slog.Debug("browser: navigation timed out", "url", wrapperURL, "current", current)
			return current, ReasonTimeout
		}
		// Aborted loads are common when a script navigates away mid-load.
		slog.Debug("browser: navigation error, polling anyway", "url", wrapperURL, "error", navErr)
	}

	// ── 2. Poll for a JavaScript redirect ─────────────────────────────
	current := n.currentURL(ctx, s)
	for i := 0; i < n.opts.PollAttempts && !n.classifier.IsExternal(current); i++ {
		if err := n.clock.Sleep(ctx, n.opts.PollInterval); err != nil {
			return n.currentURL(ctx, s), ReasonTimeout
		}
		current = n.currentURL(ctx, s)
	}
	if n.classifier.IsExternal(current) {
		return current, ""
	}

	// ── 3. Meta refresh fallback ──────────────────────────────────────
	if target := resolveReference(current, ExtractMetaRefresh(n.pageHTML(ctx, s))); target != "" {
		slog.Debug("browser: following meta refresh", "url", wrapperURL, "target", target)
		next, ok := n.follow(ctx, s, target)
		if !ok {
			return next, ReasonTimeout
		}
		current = next
		if n.classifier.IsExternal(current) {
			return current, ""
		}
	}

	// ── 4. Anchor fallback ────────────────────────────────────────────
	if !n.classifier.IsWrapper(current) {
		return current, classifyReason(n.classifier, current)
	}
	if target := ExtractAnchorTarget(n.pageHTML(ctx, s), n.classifier); target != "" {
		slog.Debug("browser: following anchor", "url", wrapperURL, "target", target)
		next, ok := n.follow(ctx, s, target)
		if !ok {
			return next, ReasonTimeout
		}
		current = next
	}

	return current, classifyReason(n.classifier, current)
}

// follow navigates to target, waits SettleDelay and re-reads the URL.
// ok is false when ctx ended while settling.
func (n *BrowserNavigator) follow(ctx context.Context, s Session, target string) (string, bool) {
	navCtx, cancel := context.WithTimeout(ctx, n.opts.NavTimeout)
	if err := s.Navigate(navCtx, target); err != nil {
		slog.Debug("browser: fallback navigation error", "target", target, "error", err)
	}
	cancel()
	if err := n.clock.Sleep(ctx, n.opts.SettleDelay); err != nil {
		return n.currentURL(ctx, s), false
	}
	return n.currentURL(ctx, s), true
}

// currentURL reads the page URL, surviving a cancelled ctx so timeouts
// still report the last known location.
func (n *BrowserNavigator) currentURL(ctx context.Context, s Session) string {
	readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	u, err := s.URL(readCtx)
	if err != nil {
		slog.Debug("browser: read current url failed", "error", err)
		return ""
	}
	return u
}

func (n *BrowserNavigator) pageHTML(ctx context.Context, s Session) string {
	html, err := s.HTML(ctx)
	if err != nil {
		slog.Debug("browser: read page html failed", "error", err)
		return ""
	}
	return html
}
