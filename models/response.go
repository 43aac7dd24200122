package models

// ResolveResponse is the response for the /api/v1/resolve endpoints.
type ResolveResponse struct {
	// Success is true only when the wrapper resolved to an external URL.
	Success bool `json:"success"`

	// URL echoes the wrapper URL from the request.
	URL string `json:"url"`

	// ResolvedURL is the destination article URL. Empty unless Success.
	ResolvedURL string `json:"resolved_url,omitempty"`

	// Strategy names the strategy that produced ResolvedURL
	// ("static" or "browser").
	Strategy string `json:"strategy,omitempty"`

	// LastKnownURL is the last URL observed when resolution failed.
	LastKnownURL string `json:"last_known_url,omitempty"`

	// Reason explains an unresolved outcome:
	// "timeout", "still-wrapper" or "no-candidate".
	Reason string `json:"reason,omitempty"`

	// Attempts lists every strategy that ran, in order.
	Attempts []AttemptInfo `json:"attempts,omitempty"`

	// Timing provides duration breakdowns for the operation.
	Timing TimingInfo `json:"timing"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// AttemptInfo is the API view of a single strategy attempt.
type AttemptInfo struct {
	Strategy  string `json:"strategy"`
	Candidate string `json:"candidate,omitempty"`
	External  bool   `json:"external"`
	Reason    string `json:"reason,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// BatchResolveResponse is the response for POST /api/v1/resolve/batch.
// Results are in the same order as the request URLs.
type BatchResolveResponse struct {
	Total    int               `json:"total"`
	Resolved int               `json:"resolved"`
	Results  []ResolveResponse `json:"results"`
	Timing   TimingInfo        `json:"timing"`
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status       string       `json:"status"` // "healthy" or "degraded"
	Uptime       string       `json:"uptime"`
	SessionStats SessionStats `json:"session_stats"`
	Version      string       `json:"version"`
}

// SessionStats reports browser session utilisation.
type SessionStats struct {
	MaxSessions    int  `json:"max_sessions"`
	ActiveSessions int  `json:"active_sessions"`
	BrowserEnabled bool `json:"browser_enabled"`
}
