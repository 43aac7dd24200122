package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Resolver  ResolverConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Enabled toggles the browser stage. Without it only the static
	// strategy runs and no Chromium process is launched.
	Enabled bool // default: true

	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// MaxSessions caps concurrent incognito sessions.
	MaxSessions int // default: 10

	// DefaultProxy is the proxy URL used by the browser and static fetcher.
	DefaultProxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Stealth injects anti-bot-detection evasions into every session page.
	Stealth bool // default: true

	// BlockedResourceTypes lists resource types to block during navigation.
	// default: ["Image", "Stylesheet", "Font", "Media"]
	BlockedResourceTypes []string
}

// ResolverConfig controls the resolution strategies.
type ResolverConfig struct {
	// AggregatorHosts are the hosts whose URLs count as still wrapped.
	// consent.google.com is the cookie wall Google News shows EU visitors
	// before the redirect runs.
	// Subdomains match too.
	AggregatorHosts []string // default: ["news.google.com", "consent.google.com"]

	// StaticTimeout bounds the single static GET.
	StaticTimeout time.Duration // default: 10s

	// PreferRedirect makes the static strategy trust the post-redirect URL
	// before looking at markup.
	PreferRedirect bool // default: true

	// NavTimeout bounds the initial browser navigation.
	NavTimeout time.Duration // default: 45s

	// PollInterval is the gap between URL checks after navigation.
	PollInterval time.Duration // default: 1s

	// PollAttempts is how many URL checks to make before falling back.
	PollAttempts int // default: 15

	// SettleDelay is the wait after a fallback navigation.
	SettleDelay time.Duration // default: 5s

	// MaxTimeout is the hard deadline on one resolve call.
	MaxTimeout time.Duration // default: 120s
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: false

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("UNWRAP_HOST", "0.0.0.0"),
			Port: envIntOr("UNWRAP_PORT", 8080),
			Mode: envOr("UNWRAP_MODE", "release"),
		},
		Browser: BrowserConfig{
			Enabled:      envBoolOr("UNWRAP_BROWSER", true),
			Headless:     envBoolOr("UNWRAP_HEADLESS", true),
			MaxSessions:  envIntOr("UNWRAP_MAX_SESSIONS", 10),
			DefaultProxy: os.Getenv("UNWRAP_PROXY"),
			NoSandbox:    envBoolOr("UNWRAP_NO_SANDBOX", false),
			BrowserBin:   os.Getenv("UNWRAP_BROWSER_BIN"),
			Stealth:      envBoolOr("UNWRAP_STEALTH", true),
			BlockedResourceTypes: envSliceOr("UNWRAP_BLOCKED_RESOURCES", []string{
				"Image", "Stylesheet", "Font", "Media",
			}),
		},
		Resolver: ResolverConfig{
			AggregatorHosts: envSliceOr("UNWRAP_AGGREGATOR_HOSTS", []string{"news.google.com", "consent.google.com"}),
			StaticTimeout:   envDurationOr("UNWRAP_STATIC_TIMEOUT", 10*time.Second),
			PreferRedirect:  envBoolOr("UNWRAP_PREFER_REDIRECT", true),
			NavTimeout:      envDurationOr("UNWRAP_NAV_TIMEOUT", 45*time.Second),
			PollInterval:    envDurationOr("UNWRAP_POLL_INTERVAL", time.Second),
			PollAttempts:    envIntOr("UNWRAP_POLL_ATTEMPTS", 15),
			SettleDelay:     envDurationOr("UNWRAP_SETTLE_DELAY", 5*time.Second),
			MaxTimeout:      envDurationOr("UNWRAP_MAX_TIMEOUT", 120*time.Second),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("UNWRAP_AUTH_ENABLED", false),
			APIKeys: envSliceOr("UNWRAP_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("UNWRAP_RATE_RPS", 5.0),
			Burst:             envIntOr("UNWRAP_RATE_BURST", 10),
		},
		Log: LogConfig{
			Level:  envOr("UNWRAP_LOG_LEVEL", "info"),
			Format: envOr("UNWRAP_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
