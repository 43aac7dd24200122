package engine

import (
	"testing"

	"github.com/use-agent/unwrap/config"
)

func TestClassifier_IsWrapper(t *testing.T) {
	cls := NewClassifier("news.google.com")

	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"exact host", "https://news.google.com/rss/articles/CBMi", true},
		{"upper case host", "https://NEWS.Google.COM/articles/x", true},
		{"with port", "https://news.google.com:443/articles/x", true},
		{"trailing dot", "https://news.google.com./articles/x", true},
		{"subdomain", "https://m.news.google.com/x", true},
		{"lookalike suffix", "https://fakenews.google.com/x", false},
		{"parent domain", "https://google.com/x", false},
		{"external", "https://www.example.com/story", false},
		{"host in path", "https://example.com/news.google.com", false},
		{"empty", "", false},
		{"unparsable", "http://[::1", false},
		{"relative", "/articles/x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cls.IsWrapper(tt.url); got != tt.want {
				t.Errorf("IsWrapper(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestClassifier_IsExternal(t *testing.T) {
	cls := NewClassifier(" News.Google.com ", "")

	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.example.com/story", true},
		{"http://example.org", true},
		{"https://news.google.com/x", false},
		{"mailto:someone@example.com", false},
		{"javascript:void(0)", false},
		{"about:blank", false},
		{"//example.com/x", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := cls.IsExternal(tt.url); got != tt.want {
			t.Errorf("IsExternal(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestResolveReference(t *testing.T) {
	tests := []struct {
		base, ref, want string
	}{
		{"https://news.google.com/a/b", "/c", "https://news.google.com/c"},
		{"https://news.google.com/a/b", "https://example.com/x", "https://example.com/x"},
		{"", "https://example.com/x", "https://example.com/x"},
		{"https://news.google.com/", "  ", ""},
	}
	for _, tt := range tests {
		if got := resolveReference(tt.base, tt.ref); got != tt.want {
			t.Errorf("resolveReference(%q, %q) = %q, want %q", tt.base, tt.ref, got, tt.want)
		}
	}
}

func TestClassifier_DefaultHostsCoverConsentWall(t *testing.T) {
	t.Setenv("UNWRAP_AGGREGATOR_HOSTS", "")
	cls := NewClassifier(config.Load().Resolver.AggregatorHosts...)

	consent := "https://consent.google.com/ml?continue=https://news.google.com/rss/articles/CBMi&gl=DE"
	if !cls.IsWrapper(consent) {
		t.Errorf("IsWrapper(%q) = false, want true", consent)
	}
	if cls.IsExternal(consent) {
		t.Errorf("IsExternal(%q) = true, want false", consent)
	}
	if !cls.IsExternal("https://www.example.com/story") {
		t.Error("publisher URL is not external with the default hosts")
	}
}
