package engine

import (
	"context"
	"time"
)

// Strategy names.
const (
	StrategyStatic  = "static"
	StrategyBrowser = "browser"
)

// Reasons attached to attempts and unresolved results.
const (
	ReasonTimeout      = "timeout"
	ReasonStillWrapper = "still-wrapper"
	ReasonNoCandidate  = "no-candidate"
)

// Strategy is the interface every resolution strategy implements.
// Local failures (network errors, bad status, empty markup, navigation
// timeouts) are reported inside the Attempt. Only infrastructure failures
// are returned as errors.
type Strategy interface {
	// Name returns the strategy identifier ("static", "browser").
	Name() string

	// Try runs the strategy once against the wrapper URL.
	Try(ctx context.Context, wrapperURL string) (Attempt, error)
}

// Attempt records the outcome of one strategy run.
type Attempt struct {
	Strategy string

	// Candidate is the best URL the strategy observed, or "".
	Candidate string

	// External is the classifier's verdict on Candidate.
	External bool

	// Reason explains a non-external outcome. Empty when External.
	Reason string

	Elapsed time.Duration
}

// Result is the terminal outcome of one Resolve call.
type Result struct {
	// Resolved is true when URL points outside the aggregator.
	Resolved bool

	// URL is the destination. Set only when Resolved.
	URL string

	// Strategy is the strategy that produced URL.
	Strategy string

	// LastKnownURL and Reason describe an unresolved outcome.
	LastKnownURL string
	Reason       string

	// Attempts lists every strategy run, in execution order.
	Attempts []Attempt
}
