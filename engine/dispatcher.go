package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/use-agent/unwrap/models"
)

// ErrInvalidURL is returned when Resolve is called with an empty or
// non-absolute http(s) URL.
var ErrInvalidURL = errors.New("wrapper url must be an absolute http(s) url")

// Dispatcher runs the resolution strategies strictly in order and stops at
// the first one that lands outside the aggregator. The usual chain is the
// static fetch followed by the browser, so no browser is launched for
// wrappers a plain GET can resolve.
type Dispatcher struct {
	strategies []Strategy
	classifier *Classifier
}

// NewDispatcher creates a Dispatcher. Strategies run in the given order.
func NewDispatcher(cls *Classifier, strategies ...Strategy) *Dispatcher {
	return &Dispatcher{
		strategies: strategies,
		classifier: cls,
	}
}

// Resolve resolves one wrapper URL.
//
// An unresolved outcome is a Result with Resolved=false, not an error.
// Errors are reserved for invalid input and infrastructure failures such
// as a browser that cannot open a session.
func (d *Dispatcher) Resolve(ctx context.Context, wrapperURL string) (*Result, error) {
	wrapperURL = strings.TrimSpace(wrapperURL)
	if err := validateWrapperURL(wrapperURL); err != nil {
		return nil, models.NewResolveError(models.ErrCodeInvalidInput, err.Error(), err)
	}

	start := time.Now()
	result := &Result{LastKnownURL: wrapperURL}

	for _, s := range d.strategies {
		att, err := s.Try(ctx, wrapperURL)
		result.Attempts = append(result.Attempts, att)
		if err != nil {
			slog.Error("strategy failed", "strategy", s.Name(), "url", wrapperURL, "error", err)
			var re *models.ResolveError
			if errors.As(err, &re) {
				return nil, re
			}
			return nil, models.NewResolveError(models.ErrCodeInternal, s.Name()+" strategy failed", err)
		}

		slog.Debug("strategy finished",
			"strategy", att.Strategy,
			"url", wrapperURL,
			"candidate", att.Candidate,
			"external", att.External,
			"reason", att.Reason,
			"elapsed", att.Elapsed,
		)

		if att.External {
			result.Resolved = true
			result.URL = att.Candidate
			result.Strategy = att.Strategy
			result.LastKnownURL = att.Candidate
			slog.Info("wrapper resolved",
				"url", wrapperURL,
				"resolved", att.Candidate,
				"strategy", att.Strategy,
				"elapsed", time.Since(start),
			)
			return result, nil
		}

		if isHTTPURL(att.Candidate) {
			result.LastKnownURL = att.Candidate
		}
	}

	result.Reason = unresolvedReason(d.classifier, result.Attempts)
	slog.Info("wrapper unresolved",
		"url", wrapperURL,
		"last_known", result.LastKnownURL,
		"reason", result.Reason,
		"elapsed", time.Since(start),
	)
	return result, nil
}

// unresolvedReason is decided by the last strategy that ran.
func unresolvedReason(cls *Classifier, attempts []Attempt) string {
	if len(attempts) == 0 {
		return ReasonNoCandidate
	}
	last := attempts[len(attempts)-1]
	switch {
	case last.Reason == ReasonTimeout:
		return ReasonTimeout
	case cls.IsWrapper(last.Candidate):
		return ReasonStillWrapper
	default:
		return ReasonNoCandidate
	}
}

func validateWrapperURL(raw string) error {
	if raw == "" {
		return ErrInvalidURL
	}
	if !isHTTPURL(raw) {
		return ErrInvalidURL
	}
	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
