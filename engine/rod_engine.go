package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/unwrap/config"
	"github.com/use-agent/unwrap/models"
	"github.com/ysmood/gson"
)

// RodBrowser owns the shared Chromium process and hands out one incognito
// context per session. It is safe for concurrent use.
type RodBrowser struct {
	browser *rod.Browser
	cfg     config.BrowserConfig
	slots   chan struct{}
	active  atomic.Int32
}

// NewRodBrowser launches a headless browser.
func NewRodBrowser(cfg config.BrowserConfig) (*RodBrowser, error) {
	if cfg.MaxSessions < 1 {
		cfg.MaxSessions = 1
	}

	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.DefaultProxy != "" {
		l = l.Proxy(cfg.DefaultProxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewResolveError(
			models.ErrCodeBrowserCrash,
			"failed to launch browser",
			err,
		)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewResolveError(
			models.ErrCodeBrowserCrash,
			"failed to connect to browser",
			err,
		)
	}

	return &RodBrowser{
		browser: browser,
		cfg:     cfg,
		slots:   make(chan struct{}, cfg.MaxSessions),
	}, nil
}

// NewSession blocks until a session slot is free or ctx is done.
//
//  1. Acquire slot       – bounds concurrent sessions to MaxSessions
//  2. Incognito context  – fresh cookies, storage and history
//  3. Page               – one tab inside that context
//  4. Stealth + headers  – must be installed before the first navigation
//  5. Hijack             – block heavy resource types
func (b *RodBrowser) NewSession(ctx context.Context) (Session, error) {
	// ── 1. Acquire slot ───────────────────────────────────────────────
	if err := acquireSlot(ctx, b.slots); err != nil {
		return nil, err
	}

	// ── 2. Incognito context ──────────────────────────────────────────
	// Bound to ctx so a wedged browser cannot hold the slot past the deadline.
	incognito, err := b.browser.Context(ctx).Incognito()
	if err != nil {
		<-b.slots
		return nil, categorizeSessionError(ctx, err, "failed to create incognito context")
	}

	// ── 3. Page ───────────────────────────────────────────────────────
	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = incognito.Context(context.Background()).Close()
		<-b.slots
		return nil, categorizeSessionError(ctx, err, "failed to create page")
	}

	// Later calls take their own ctx; cleanup must outlive this one.
	incognito = incognito.Context(context.Background())
	page = page.Context(context.Background())

	// ── 4. Stealth + headers ──────────────────────────────────────────
	setup := page.Context(ctx)
	if b.cfg.Stealth {
		if _, evalErr := setup.EvalOnNewDocument(stealth.JS); evalErr != nil {
			slog.Warn("stealth injection failed, proceeding without stealth",
				"error", evalErr,
			)
		}
	}
	_ = proto.NetworkSetUserAgentOverride{UserAgent: chromeUA}.Call(setup)
	_ = proto.NetworkSetExtraHTTPHeaders{
		Headers: toHeadersMap(map[string]string{"Accept-Language": "en-US,en;q=0.9"}),
	}.Call(setup)

	// ── 5. Hijack ─────────────────────────────────────────────────────
	router := setupHijack(page, b.cfg.BlockedResourceTypes)

	b.active.Add(1)
	return &rodSession{
		owner:     b,
		incognito: incognito,
		page:      page,
		router:    router,
	}, nil
}

// Stats returns a snapshot of session utilisation.
func (b *RodBrowser) Stats() models.SessionStats {
	return models.SessionStats{
		MaxSessions:    b.cfg.MaxSessions,
		ActiveSessions: int(b.active.Load()),
		BrowserEnabled: true,
	}
}

// Close kills the browser process.
// Call this on graceful shutdown to prevent zombie Chrome processes.
func (b *RodBrowser) Close() {
	slog.Info("browser shutting down")
	if err := b.browser.Close(); err != nil {
		slog.Warn("browser close failed", "error", err)
	}
}

// rodSession is a Session backed by one page in its own incognito context.
type rodSession struct {
	owner     *RodBrowser
	incognito *rod.Browser
	page      *rod.Page
	router    *rod.HijackRouter
	closeOnce sync.Once
	closeErr  error
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)

	// The waiter must be registered before Navigate or the event is missed.
	wait := p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := p.Navigate(url); err != nil {
		return categorizeError(err, "navigation failed")
	}
	wait()

	if err := ctx.Err(); err != nil {
		return categorizeError(err, "navigation did not reach DOMContentLoaded")
	}
	return nil
}

func (s *rodSession) URL(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("rod_engine: page info: %w", err)
	}
	return info.URL, nil
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("rod_engine: page html: %w", err)
	}
	return html, nil
}

// Close uses the original page reference (without request context) so
// cleanup succeeds even after the request context has expired.
func (s *rodSession) Close() error {
	s.closeOnce.Do(func() {
		defer func() {
			s.owner.active.Add(-1)
			<-s.owner.slots
		}()
		if s.router != nil {
			_ = s.router.Stop()
		}
		pageErr := s.page.Close()
		ctxErr := s.incognito.Close()
		s.closeErr = errors.Join(pageErr, ctxErr)
	})
	return s.closeErr
}

// acquireSlot takes a session slot, failing fast when ctx is already done
// so an expired call never opens a session.
func acquireSlot(ctx context.Context, slots chan struct{}) error {
	if err := ctx.Err(); err != nil {
		return models.NewResolveError(models.ErrCodeTimeout, "waiting for a browser session", err)
	}
	select {
	case slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return models.NewResolveError(models.ErrCodeTimeout, "waiting for a browser session", ctx.Err())
	}
}

// categorizeSessionError reports a cancelled ctx as a timeout and anything
// else as a browser failure.
func categorizeSessionError(ctx context.Context, err error, msg string) *models.ResolveError {
	if ctx.Err() != nil {
		return categorizeError(ctx.Err(), msg)
	}
	return models.NewResolveError(models.ErrCodeBrowserCrash, msg, err)
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// categorizeError wraps raw errors into typed ResolveErrors.
func categorizeError(err error, msg string) *models.ResolveError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewResolveError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewResolveError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewResolveError(models.ErrCodeInternal, msg, err)
	}
}
